package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the direction of money for a transaction
type TransactionType string

const (
	// TransactionTypeIncome represents money received by the owner
	TransactionTypeIncome TransactionType = "income"
	// TransactionTypeExpense represents money paid by the owner
	TransactionTypeExpense TransactionType = "expense"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// Status is the settlement state of a transaction
type Status string

const (
	StatusCompleted  Status = "Completed"
	StatusPending    Status = "Pending"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
	StatusProcessing Status = "Processing"
)

// Statuses lists every accepted status in declaration order
var Statuses = []Status{StatusCompleted, StatusPending, StatusFailed, StatusCancelled, StatusProcessing}

// IsValid checks if the status is one of the closed set
func (s Status) IsValid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Category is the spending category label attached to a transaction
type Category string

const (
	CategoryFoodDining     Category = "Food & Dining"
	CategoryTransportation Category = "Transportation"
	CategoryEntertainment  Category = "Entertainment"
	CategoryShopping       Category = "Shopping"
	CategoryBillsUtilities Category = "Bills & Utilities"
	CategoryIncome         Category = "Income"
	CategoryUncategorized  Category = "Uncategorized"
)

// Categories lists the closed category set, including the Uncategorized marker
var Categories = []Category{
	CategoryFoodDining,
	CategoryTransportation,
	CategoryEntertainment,
	CategoryShopping,
	CategoryBillsUtilities,
	CategoryIncome,
	CategoryUncategorized,
}

// IsValid checks if the category belongs to the closed set
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory matches s against the closed set, ignoring case and surrounding space
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, known := range Categories {
		if strings.EqualFold(s, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown category '%s'", s)
}

// Provenance records where a transaction came from
type Provenance string

const (
	ProvenanceImported Provenance = "imported"
	ProvenanceManual   Provenance = "manual"
)

// IsValid checks if the provenance is known
func (p Provenance) IsValid() bool {
	return p == ProvenanceImported || p == ProvenanceManual
}

// ExtractionSource identifies the pass or strategy that produced a candidate
type ExtractionSource string

const (
	SourceStructured ExtractionSource = "structured"
	SourceFallback   ExtractionSource = "fallback"
	SourceExternal   ExtractionSource = "external"
)

// Tag values attached to imported transactions
const (
	TagImported        = "imported"
	TagHTMLParse       = "html-parse"
	TagExternalExtract = "external-extract"
	TagFallback        = "fallback-scan"
)

// RawDocument is an uploaded export, owned by the caller for the duration of one ingestion
type RawDocument struct {
	Content          string `json:"content"`
	FileName         string `json:"fileName"`
	DeclaredOwnerRef string `json:"declaredOwnerRef,omitempty"`
}

// CandidateRecord is a loosely-typed transaction pulled out of a document
type CandidateRecord struct {
	AmountText            string           `json:"amountText"`
	AmountValue           decimal.Decimal  `json:"amountValue"`
	Currency              string           `json:"currency,omitempty"`
	TimestampText         string           `json:"timestampText,omitempty"`
	TimestampValue        time.Time        `json:"timestampValue,omitempty"`
	DescriptionText       string           `json:"descriptionText"`
	Recipient             string           `json:"recipient,omitempty"`
	PaymentMethod         string           `json:"paymentMethod,omitempty"`
	MaskedAccountNumber   string           `json:"maskedAccountNumber,omitempty"`
	ExternalTransactionID string           `json:"externalTransactionId,omitempty"`
	StatusText            string           `json:"statusText,omitempty"`
	Category              Category         `json:"category,omitempty"`
	Source                ExtractionSource `json:"source"`
}

// HasTimestamp reports whether a date was recovered for the candidate
func (c *CandidateRecord) HasTimestamp() bool {
	return !c.TimestampValue.IsZero()
}

// NormalizedTransaction is a fully-typed transaction ready for persistence
type NormalizedTransaction struct {
	ID                    string          `json:"id,omitempty"`
	Type                  TransactionType `json:"type"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Category              Category        `json:"category"`
	Description           string          `json:"description"`
	Recipient             string          `json:"recipient,omitempty"`
	PaymentMethod         string          `json:"paymentMethod,omitempty"`
	MaskedAccountNumber   string          `json:"maskedAccountNumber,omitempty"`
	ExternalTransactionID string          `json:"externalTransactionId,omitempty"`
	Status                Status          `json:"status"`
	Date                  time.Time       `json:"date"`
	OwnerRef              string          `json:"ownerRef,omitempty"`
	Tags                  []string        `json:"tags"`
	Provenance            Provenance      `json:"provenance"`
	SourceFile            string          `json:"sourceFile,omitempty"`
	ImportedAt            time.Time       `json:"importedAt"`
}

// Validate performs basic validation on the NormalizedTransaction
func (t *NormalizedTransaction) Validate() error {
	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction amount cannot be negative: %s", t.Amount.String())
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}

	if !t.Category.IsValid() {
		return fmt.Errorf("invalid transaction category: %s", t.Category)
	}

	if !t.Provenance.IsValid() {
		return fmt.Errorf("invalid transaction provenance: %s", t.Provenance)
	}

	if len(strings.TrimSpace(t.Currency)) != 3 {
		return fmt.Errorf("currency must be a 3-letter code: %q", t.Currency)
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	return nil
}

// ImportedFromDocument reports whether the transaction was read from an uploaded export
func (t *NormalizedTransaction) ImportedFromDocument() bool {
	return t.Provenance == ProvenanceImported
}

// ManualEntry reports whether the transaction was typed in by the owner
func (t *NormalizedTransaction) ManualEntry() bool {
	return t.Provenance == ProvenanceManual
}

// HasTag reports whether the transaction carries the given tag
func (t *NormalizedTransaction) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// SignedAmount returns the amount with the income-negative sign convention restored
func (t *NormalizedTransaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionTypeIncome {
		return t.Amount.Neg()
	}
	return t.Amount
}

// String returns a string representation of the NormalizedTransaction
func (t *NormalizedTransaction) String() string {
	return fmt.Sprintf("Transaction{Type: %s, Amount: %s %s, Category: %s, Date: %s, Description: %q}",
		t.Type, t.Amount.StringFixed(2), t.Currency, t.Category, t.Date.Format("2006-01-02"), t.Description)
}

// MarshalJSON renders amounts as fixed-point strings and dates as RFC3339
func (t *NormalizedTransaction) MarshalJSON() ([]byte, error) {
	type Alias NormalizedTransaction
	return json.Marshal(&struct {
		Amount     string `json:"amount"`
		Date       string `json:"date"`
		ImportedAt string `json:"importedAt"`
		*Alias
	}{
		Amount:     t.Amount.StringFixed(2),
		Date:       t.Date.Format(time.RFC3339),
		ImportedAt: t.ImportedAt.Format(time.RFC3339),
		Alias:      (*Alias)(t),
	})
}

// Owner is the account that imported transactions are attached to
type Owner struct {
	ID          string    `json:"id"`
	ExternalRef string    `json:"externalRef"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate performs basic validation on the Owner
func (o *Owner) Validate() error {
	if strings.TrimSpace(o.ExternalRef) == "" {
		return fmt.Errorf("owner external reference cannot be empty")
	}
	return nil
}
