package normalizer

import (
	"testing"
	"time"

	"takeout-ingestion-service/internal/categorizer"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type countingCategorizer struct {
	calls int
	texts []string
}

func (c *countingCategorizer) Categorize(text string) models.Category {
	c.calls++
	c.texts = append(c.texts, text)
	return models.CategoryEntertainment
}

func newTestNormalizer(t *testing.T, cat Categorizer) *Normalizer {
	t.Helper()
	if cat == nil {
		cat = categorizer.Default()
	}
	n, err := New(DefaultConfig(), cat, logger.Discard(), func() time.Time { return fixedNow })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return n
}

func candidate(amount string) *models.CandidateRecord {
	return &models.CandidateRecord{
		AmountText:      amount,
		AmountValue:     decimal.RequireFromString(amount),
		Currency:        "USD",
		TimestampValue:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		DescriptionText: "Starbucks Coffee",
		Source:          models.SourceStructured,
	}
}

func TestNormalize_SignConvention(t *testing.T) {
	n := newTestNormalizer(t, nil)

	tests := []struct {
		amount       string
		expectedType models.TransactionType
		expected     string
	}{
		{"10.00", models.TransactionTypeExpense, "10"},
		{"-1200", models.TransactionTypeIncome, "1200"},
		{"25.5", models.TransactionTypeExpense, "25.5"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			tx, err := n.Normalize(candidate(tt.amount), "activity.html")
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if tx.Type != tt.expectedType {
				t.Errorf("Expected type %s, got %s", tt.expectedType, tx.Type)
			}
			if !tx.Amount.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Expected amount %s, got %s", tt.expected, tx.Amount)
			}
			if tx.Amount.IsNegative() {
				t.Error("Expected non-negative amount")
			}
		})
	}
}

func TestNormalize_Currency(t *testing.T) {
	n := newTestNormalizer(t, nil)

	tests := []struct {
		input    string
		expected string
	}{
		{"usd", "USD"},
		{"₹", "INR"},
		{"EUR", "EUR"},
		{"XYZ", "USD"},
		{"", "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c := candidate("5")
			c.Currency = tt.input
			tx, err := n.Normalize(c, "a.html")
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if tx.Currency != tt.expected {
				t.Errorf("Expected currency %s, got %s", tt.expected, tx.Currency)
			}
		})
	}
}

func TestNormalize_Status(t *testing.T) {
	n := newTestNormalizer(t, nil)

	tests := []struct {
		input    string
		expected models.Status
	}{
		{"", models.StatusCompleted},
		{"Completed", models.StatusCompleted},
		{"SUCCESSFUL", models.StatusCompleted},
		{"pending", models.StatusPending},
		{"Canceled", models.StatusCancelled},
		{"In  Progress", models.StatusProcessing},
		{"failed", models.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c := candidate("5")
			c.StatusText = tt.input
			tx, err := n.Normalize(c, "a.html")
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if tx.Status != tt.expected {
				t.Errorf("Expected status %s, got %s", tt.expected, tx.Status)
			}
		})
	}

	c := candidate("5")
	c.StatusText = "reversed"
	_, err := n.Normalize(c, "a.html")
	if err == nil {
		t.Fatal("Expected error for unknown status")
	}
	if !errors.IsCode(err, errors.CodeNormalizationFailed) {
		t.Errorf("Expected normalization_failed code, got %v", err)
	}
}

func TestNormalize_CategoryAndProvenance(t *testing.T) {
	cat := &countingCategorizer{}
	n := newTestNormalizer(t, cat)

	c := candidate("9.99")
	c.Recipient = "Netflix"
	tx, err := n.Normalize(c, "activity.html")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if cat.calls != 1 {
		t.Fatalf("Expected categorizer to be called once, got %d", cat.calls)
	}
	if cat.texts[0] != "Starbucks Coffee Netflix" {
		t.Errorf("Expected description and recipient to be categorized, got %q", cat.texts[0])
	}
	if tx.Category != models.CategoryEntertainment {
		t.Errorf("Expected categorizer result, got %s", tx.Category)
	}
	if tx.Provenance != models.ProvenanceImported || !tx.ImportedFromDocument() {
		t.Errorf("Expected imported provenance, got %s", tx.Provenance)
	}
	if !tx.HasTag(models.TagImported) || !tx.HasTag(models.TagHTMLParse) {
		t.Errorf("Expected import tags, got %v", tx.Tags)
	}
	if tx.HasTag(models.TagExternalExtract) {
		t.Error("Did not expect external tag on a structured record")
	}
	if tx.SourceFile != "activity.html" {
		t.Errorf("Expected source file activity.html, got %s", tx.SourceFile)
	}
	if !tx.ImportedAt.Equal(fixedNow) {
		t.Errorf("Expected ImportedAt %v, got %v", fixedNow, tx.ImportedAt)
	}

	// a category supplied upstream is kept
	c = candidate("9.99")
	c.Category = models.CategoryBillsUtilities
	c.Source = models.SourceExternal
	tx, err = n.Normalize(c, "activity.html")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if cat.calls != 1 {
		t.Errorf("Expected categorizer not to be called again, got %d calls", cat.calls)
	}
	if tx.Category != models.CategoryBillsUtilities {
		t.Errorf("Expected upstream category, got %s", tx.Category)
	}
	if !tx.HasTag(models.TagExternalExtract) {
		t.Errorf("Expected external tag, got %v", tx.Tags)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	n := newTestNormalizer(t, nil)

	c := &models.CandidateRecord{
		AmountText:          "42",
		AmountValue:         decimal.NewFromInt(42),
		Recipient:           "Chai Point Cafe",
		MaskedAccountNumber: "XXXXXX1234",
		Source:              models.SourceFallback,
	}

	tx, err := n.Normalize(c, "freeform.html")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if !tx.Date.Equal(fixedNow) {
		t.Errorf("Expected undated record to use the ingestion time, got %v", tx.Date)
	}
	if tx.Description != "Chai Point Cafe" {
		t.Errorf("Expected description to fall back to recipient, got %q", tx.Description)
	}
	if tx.MaskedAccountNumber != "****1234" {
		t.Errorf("Expected masked account ****1234, got %s", tx.MaskedAccountNumber)
	}
	if tx.Category != models.CategoryFoodDining {
		t.Errorf("Expected Food & Dining, got %s", tx.Category)
	}
	if !tx.HasTag(models.TagFallback) {
		t.Errorf("Expected fallback tag, got %v", tx.Tags)
	}

	c = &models.CandidateRecord{AmountValue: decimal.NewFromInt(1)}
	tx, err = n.Normalize(c, "x.html")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if tx.Description != "Transaction" {
		t.Errorf("Expected default description, got %q", tx.Description)
	}
}

func TestNormalize_Nil(t *testing.T) {
	n := newTestNormalizer(t, nil)
	if _, err := n.Normalize(nil, "x.html"); err == nil {
		t.Error("Expected error for nil candidate")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(&Config{DefaultCurrency: "US", DefaultDescription: "x"}, categorizer.Default(), nil, nil); err == nil {
		t.Error("Expected error for invalid default currency")
	}
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Error("Expected error for missing categorizer")
	}
	if _, err := New(nil, categorizer.Default(), nil, nil); err != nil {
		t.Errorf("Expected defaults to be valid, got %v", err)
	}
}
