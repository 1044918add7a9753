package parsers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"

	"github.com/shopspring/decimal"
)

const testDataDir = "../../testdata/takeout"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// loadFixture reads an HTML export from the shared testdata directory
func loadFixture(t *testing.T, name string) models.RawDocument {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(testDataDir, name))
	if err != nil {
		t.Fatalf("Failed to read fixture %s: %v", name, err)
	}
	return models.RawDocument{Content: string(content), FileName: name}
}

func newTestExtractor(t *testing.T, config *ParserConfig) *HTMLExtractor {
	t.Helper()
	extractor, err := NewHTMLExtractor(config, nil, func() time.Time { return fixedNow })
	if err != nil {
		t.Fatalf("NewHTMLExtractor failed: %v", err)
	}
	return extractor
}

func TestDefaultParserConfig(t *testing.T) {
	config := DefaultParserConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	if config.MaxDescriptionLength != 100 {
		t.Errorf("Expected max description length 100, got %d", config.MaxDescriptionLength)
	}
	if config.FallbackLimit != 20 {
		t.Errorf("Expected fallback limit 20, got %d", config.FallbackLimit)
	}
}

func TestParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ParserConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *ParserConfig) {}},
		{name: "no markers", mutate: func(c *ParserConfig) { c.ProviderMarkers = nil }, wantErr: true},
		{name: "blank marker", mutate: func(c *ParserConfig) { c.ProviderMarkers = []string{" "} }, wantErr: true},
		{name: "zero max length", mutate: func(c *ParserConfig) { c.MaxDescriptionLength = 0 }, wantErr: true},
		{name: "min above max", mutate: func(c *ParserConfig) { c.MinDescriptionLength = 500 }, wantErr: true},
		{name: "zero fallback limit", mutate: func(c *ParserConfig) { c.FallbackLimit = 0 }, wantErr: true},
		{name: "empty placeholder", mutate: func(c *ParserConfig) { c.DescriptionPlaceholder = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultParserConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocumentValidator_Validate(t *testing.T) {
	validator, err := NewDocumentValidator(DefaultParserConfig(), nil)
	if err != nil {
		t.Fatalf("NewDocumentValidator failed: %v", err)
	}

	tests := []struct {
		name   string
		doc    models.RawDocument
		reason string
	}{
		{name: "empty", doc: models.RawDocument{Content: ""}, reason: ReasonEmpty},
		{name: "whitespace only", doc: models.RawDocument{Content: " \n\t "}, reason: ReasonEmpty},
		{name: "plain text", doc: models.RawDocument{Content: "google pay paid $10.00 on 01/01/2024"}, reason: ReasonNotMarkup},
		{name: "markup without provider", doc: loadFixture(t, "not_takeout.html"), reason: ReasonNotProvider},
		{name: "takeout table", doc: loadFixture(t, "activity_table.html")},
		{name: "takeout cards", doc: loadFixture(t, "activity_cards.html")},
		{name: "uppercase marker", doc: models.RawDocument{Content: "<HTML><BODY>GOOGLE</BODY></HTML>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.doc)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Expected document to be accepted, got %v", err)
				}
				return
			}

			if !errors.IsCode(err, errors.CodeInvalidDocument) {
				t.Fatalf("Expected InvalidDocument error, got %v", err)
			}
			ingestErr, _ := errors.AsIngestError(err)
			if ingestErr.Context["reason"] != tt.reason {
				t.Errorf("Expected reason %q, got %v", tt.reason, ingestErr.Context["reason"])
			}
		})
	}
}

func TestHTMLExtractor_StructuredTable(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	candidates, err := extractor.Extract(context.Background(), loadFixture(t, "activity_table.html"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(candidates) != 3 {
		t.Fatalf("Expected 3 candidates (malformed row skipped), got %d", len(candidates))
	}

	expected := []struct {
		description string
		amount      string
		date        time.Time
	}{
		{"Starbucks Coffee", "10", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"Uber ride downtown", "25.5", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"Salary deposit ACME Corp", "-1200", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)},
	}

	for i, want := range expected {
		got := candidates[i]
		if got.DescriptionText != want.description {
			t.Errorf("candidate %d: expected description %q, got %q", i, want.description, got.DescriptionText)
		}
		if !got.AmountValue.Equal(decimal.RequireFromString(want.amount)) {
			t.Errorf("candidate %d: expected amount %s, got %s", i, want.amount, got.AmountValue)
		}
		if !got.TimestampValue.Equal(want.date) {
			t.Errorf("candidate %d: expected date %v, got %v", i, want.date, got.TimestampValue)
		}
		if got.Currency != "USD" {
			t.Errorf("candidate %d: expected USD, got %q", i, got.Currency)
		}
		if got.Source != models.SourceStructured {
			t.Errorf("candidate %d: expected structured source, got %s", i, got.Source)
		}
	}
}

func TestHTMLExtractor_TakeoutCards(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	candidates, err := extractor.Extract(context.Background(), loadFixture(t, "activity_cards.html"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates (no double counting of nested cells), got %d", len(candidates))
	}

	paid := candidates[0]
	if paid.DescriptionText != "Chai Point Cafe" {
		t.Errorf("Expected short preceding text to fall back to recipient, got %q", paid.DescriptionText)
	}
	if paid.Recipient != "Chai Point Cafe" {
		t.Errorf("Expected recipient 'Chai Point Cafe', got %q", paid.Recipient)
	}
	if paid.PaymentMethod != "Bank Account" {
		t.Errorf("Expected payment method 'Bank Account', got %q", paid.PaymentMethod)
	}
	if paid.MaskedAccountNumber != "XXXXXX1234" {
		t.Errorf("Expected raw account fragment, got %q", paid.MaskedAccountNumber)
	}
	if paid.Currency != "INR" || !paid.AmountValue.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected INR 500, got %s %s", paid.Currency, paid.AmountValue)
	}
	if !paid.TimestampValue.Equal(time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected Jan 5 2023, got %v", paid.TimestampValue)
	}

	received := candidates[1]
	if !received.AmountValue.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("Expected incoming payment to carry a negative value, got %s", received.AmountValue)
	}
	if received.Recipient != "Priya Sharma" {
		t.Errorf("Expected counterparty 'Priya Sharma', got %q", received.Recipient)
	}
	if received.ExternalTransactionID != "302912345678" {
		t.Errorf("Expected UPI transaction id, got %q", received.ExternalTransactionID)
	}
}

func TestHTMLExtractor_FallbackPass(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	candidates, err := extractor.Extract(context.Background(), loadFixture(t, "activity_freeform.html"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("Expected 2 fallback candidates, got %d", len(candidates))
	}

	for i, c := range candidates {
		wantDescription := fmt.Sprintf("Google Pay Transaction %d", i+1)
		if c.DescriptionText != wantDescription {
			t.Errorf("Expected %q, got %q", wantDescription, c.DescriptionText)
		}
		if c.Source != models.SourceFallback {
			t.Errorf("Expected fallback source, got %s", c.Source)
		}
		if !c.TimestampValue.Equal(fixedNow) {
			t.Errorf("Expected ingestion time as timestamp, got %v", c.TimestampValue)
		}
		if c.AmountValue.IsNegative() {
			t.Errorf("Expected fallback amounts to be magnitudes, got %s", c.AmountValue)
		}
	}
}

func TestHTMLExtractor_FallbackLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body><p>Google Pay</p><p>")
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&b, "charge $%d.00 ", i)
	}
	b.WriteString("</p></body></html>")

	config := DefaultParserConfig()
	config.FallbackLimit = 20
	extractor := newTestExtractor(t, config)

	candidates, err := extractor.Extract(context.Background(), models.RawDocument{Content: b.String()})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(candidates) != 20 {
		t.Errorf("Expected fallback to stop at 20 candidates, got %d", len(candidates))
	}
}

func TestHTMLExtractor_NestedRowsCountOnce(t *testing.T) {
	content := `<html><body><div class="transactions">
		<div class="transaction-row">Coffee shop $4.00 01/02/2024</div>
		<div class="transaction-row">Bus ticket $2.75 01/03/2024</div>
	</div><p>google</p></body></html>`

	candidates, err := newTestExtractor(t, nil).Extract(context.Background(), models.RawDocument{Content: content})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("Expected 2 candidates, got %d", len(candidates))
	}
}

func TestHTMLExtractor_DescriptionRules(t *testing.T) {
	long := strings.Repeat("Grocery ", 30)
	content := `<html><body><table>
		<tr><td>` + long + `</td><td>$9.99</td><td>2024-02-01</td></tr>
		<tr><td>ab</td><td>$1.00</td><td>2024-02-02</td></tr>
		<tr><td>02/03/2024</td><td>Bookstore purchase</td><td>$15.00</td></tr>
	</table></body></html>`

	candidates, err := newTestExtractor(t, nil).Extract(context.Background(), models.RawDocument{Content: content})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("Expected 3 candidates, got %d", len(candidates))
	}

	if n := len([]rune(candidates[0].DescriptionText)); n > 100 {
		t.Errorf("Expected description truncated to 100 characters, got %d", n)
	}
	if candidates[1].DescriptionText != "Payment" {
		t.Errorf("Expected placeholder for short description, got %q", candidates[1].DescriptionText)
	}
	if candidates[2].DescriptionText != "Bookstore purchase" {
		t.Errorf("Expected date token removed from description, got %q", candidates[2].DescriptionText)
	}
}

func TestHTMLExtractor_RowsNeedAmountAndDate(t *testing.T) {
	content := `<html><body><p>google</p><table>
		<tr><td>No date here</td><td>$5.00</td></tr>
		<tr><td>No amount here</td><td>01/01/2024</td></tr>
	</table></body></html>`

	candidates, err := newTestExtractor(t, nil).Extract(context.Background(), models.RawDocument{Content: content})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	// Structured pass finds nothing, so the fallback pass picks up the lone amount
	if len(candidates) != 1 || candidates[0].Source != models.SourceFallback {
		t.Fatalf("Expected a single fallback candidate, got %+v", candidates)
	}
}

func TestHTMLExtractor_SkipsMalformedGrouping(t *testing.T) {
	content := `<html><body><h1>Google Pay</h1><table>
		<tr class="transaction"><td>Paid Corner Bakery</td><td>€10,50</td><td>01/15/2024</td></tr>
		<tr class="transaction"><td>Paid Hardware Store</td><td>$1,2,3</td><td>01/16/2024</td></tr>
		<tr class="transaction"><td>Lunch at cafe</td><td>$1,250.00</td><td>15/01/2024</td></tr>
	</table></body></html>`

	candidates, err := newTestExtractor(t, nil).Extract(context.Background(), models.RawDocument{Content: content})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(candidates) != 1 {
		t.Fatalf("Expected only the well-formed row, got %d candidates", len(candidates))
	}
	got := candidates[0]
	if !got.AmountValue.Equal(decimal.RequireFromString("1250")) {
		t.Errorf("Expected amount 1250, got %s", got.AmountValue)
	}
	if want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC); !got.TimestampValue.Equal(want) {
		t.Errorf("Expected day-first date %v, got %v", want, got.TimestampValue)
	}
}

func TestHTMLExtractor_Empty(t *testing.T) {
	content := `<html><body><p>Google Pay: nothing to see</p></body></html>`

	_, err := newTestExtractor(t, nil).Extract(context.Background(), models.RawDocument{Content: content, FileName: "empty.html"})
	if !errors.IsCode(err, errors.CodeExtractionEmpty) {
		t.Fatalf("Expected ExtractionEmpty error, got %v", err)
	}
}

func TestHTMLExtractor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestExtractor(t, nil).Extract(ctx, loadFixture(t, "activity_table.html"))
	if err != context.Canceled {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestNewExtractor(t *testing.T) {
	local, err := NewExtractor(ModeLocal, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Expected local extractor, got %v", err)
	}
	if _, ok := local.(*HTMLExtractor); !ok {
		t.Errorf("Expected *HTMLExtractor, got %T", local)
	}

	external, err := NewExtractor(ModeExternal, nil, &ExternalConfig{Command: "parser", Timeout: time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("Expected external extractor, got %v", err)
	}
	if _, ok := external.(*ExternalExtractor); !ok {
		t.Errorf("Expected *ExternalExtractor, got %T", external)
	}

	if _, err := NewExtractor(ModeExternal, nil, nil, nil, nil); err == nil {
		t.Error("Expected error for external mode without a command")
	}
	if _, err := NewExtractor("magic", nil, nil, nil, nil); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("Expected invalid config error for unknown mode, got %v", err)
	}
}
