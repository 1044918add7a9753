package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionType_IsValid(t *testing.T) {
	tests := []struct {
		txType TransactionType
		valid  bool
	}{
		{TransactionTypeIncome, true},
		{TransactionTypeExpense, true},
		{"DEBIT", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			if got := tt.txType.IsValid(); got != tt.valid {
				t.Errorf("TransactionType.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestStatusAndCategorySets(t *testing.T) {
	for _, s := range Statuses {
		if !s.IsValid() {
			t.Errorf("Expected status %s to be valid", s)
		}
	}
	if Status("Exploded").IsValid() {
		t.Error("Expected unknown status to be invalid")
	}

	got, err := ParseCategory("  food & dining ")
	if err != nil || got != CategoryFoodDining {
		t.Errorf("ParseCategory() = %v, %v; want %v", got, err, CategoryFoodDining)
	}
	if _, err := ParseCategory("Groceries"); err == nil {
		t.Error("Expected error for category outside the closed set")
	}
}

func validTransaction() *NormalizedTransaction {
	return &NormalizedTransaction{
		Type:       TransactionTypeExpense,
		Amount:     decimal.RequireFromString("10.00"),
		Currency:   "USD",
		Category:   CategoryFoodDining,
		Status:     StatusCompleted,
		Date:       time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Tags:       []string{TagImported, TagHTMLParse},
		Provenance: ProvenanceImported,
	}
}

func TestNormalizedTransaction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(tx *NormalizedTransaction)
		wantErr bool
	}{
		{name: "valid", mutate: func(tx *NormalizedTransaction) {}},
		{name: "zero amount allowed", mutate: func(tx *NormalizedTransaction) { tx.Amount = decimal.Zero }},
		{name: "negative amount", mutate: func(tx *NormalizedTransaction) { tx.Amount = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "bad type", mutate: func(tx *NormalizedTransaction) { tx.Type = "refund" }, wantErr: true},
		{name: "bad status", mutate: func(tx *NormalizedTransaction) { tx.Status = "Done" }, wantErr: true},
		{name: "bad category", mutate: func(tx *NormalizedTransaction) { tx.Category = "Misc" }, wantErr: true},
		{name: "missing provenance", mutate: func(tx *NormalizedTransaction) { tx.Provenance = "" }, wantErr: true},
		{name: "bad currency", mutate: func(tx *NormalizedTransaction) { tx.Currency = "DOLLAR" }, wantErr: true},
		{name: "zero date", mutate: func(tx *NormalizedTransaction) { tx.Date = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(tx)
			err := tx.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizedTransaction_Provenance(t *testing.T) {
	tx := validTransaction()
	if !tx.ImportedFromDocument() || tx.ManualEntry() {
		t.Error("Expected imported provenance to be exclusive")
	}

	tx.Provenance = ProvenanceManual
	if tx.ImportedFromDocument() || !tx.ManualEntry() {
		t.Error("Expected manual provenance to be exclusive")
	}
}

func TestNormalizedTransaction_SignedAmount(t *testing.T) {
	tx := validTransaction()
	tx.Type = TransactionTypeIncome
	if !tx.SignedAmount().Equal(decimal.RequireFromString("-10")) {
		t.Errorf("Expected -10 for income, got %s", tx.SignedAmount())
	}
}

func TestNormalizedTransaction_MarshalJSON(t *testing.T) {
	tx := validTransaction()
	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["amount"] != "10.00" {
		t.Errorf("Expected amount '10.00', got %v", decoded["amount"])
	}
	if decoded["date"] != "2024-01-15T00:00:00Z" {
		t.Errorf("Expected RFC3339 date, got %v", decoded["date"])
	}
	if decoded["provenance"] != "imported" {
		t.Errorf("Expected provenance imported, got %v", decoded["provenance"])
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input       string
		expected    string
		currency    string
		expectError bool
	}{
		{"$10.00", "10", "USD", false},
		{"$1,234.56", "1234.56", "USD", false},
		{"-$7.00", "-7", "USD", false},
		{"$-7.00", "-7", "USD", false},
		{"₹ 500", "500", "INR", false},
		{"€12.5", "12.5", "EUR", false},
		{"USD 99.99", "99.99", "USD", false},
		{"$10.", "10", "USD", false},
		{"$1.2.3", "", "USD", true},
		{"₹1,00,000.50", "100000.5", "INR", false},
		{"$12,345,678", "12345678", "USD", false},
		{"€10,50", "", "EUR", true},
		{"$1,2,3", "", "USD", true},
		{"$1234,567", "", "USD", true},
		{"$", "", "USD", true},
		{"", "", "", true},
		{"ten dollars", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, currency, err := ParseAmount(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("ParseAmount(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.expected)
			}
			if currency != tt.currency {
				t.Errorf("ParseAmount(%q) currency = %s, want %s", tt.input, currency, tt.currency)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"01/15/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"1/5/2024", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024/3/7", time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)},
		{"Jan 15, 2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"Jan  15   2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"25-12-2023", time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC)},
		{"15/01/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"31/1/2024", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"02/03/2024", time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeWithFormats(tt.input)
			if err != nil {
				t.Fatalf("ParseTimeWithFormats(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("ParseTimeWithFormats(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}

	if _, err := ParseTimeWithFormats("yesterday"); err == nil {
		t.Error("Expected error for unparseable date")
	}
}

func TestMaskAccountNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1234567890123456", "****3456"},
		{"XXXXXX1234", "****1234"},
		{"ending in 42", "****42"},
		{"•••• 9876", "****9876"},
		{"no digits here", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := MaskAccountNumber(tt.input)
			if got != tt.expected {
				t.Errorf("MaskAccountNumber(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if strings.ContainsAny(got, "0123456789") && len(strings.TrimPrefix(got, "****")) > 4 {
				t.Errorf("MaskAccountNumber(%q) leaked more than four digits: %q", tt.input, got)
			}
		})
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC)
	c := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	if !SameDay(a, b) {
		t.Error("Expected same calendar day")
	}
	if SameDay(a, c) {
		t.Error("Expected different calendar days")
	}
}
