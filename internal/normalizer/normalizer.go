// Package normalizer coerces candidate records into fully-typed transactions
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"
)

// Categorizer assigns a category to free text
type Categorizer interface {
	Categorize(text string) models.Category
}

// Config holds the normalization defaults
type Config struct {
	DefaultCurrency     string   `json:"default_currency"`
	SupportedCurrencies []string `json:"supported_currencies"`
	DefaultDescription  string   `json:"default_description"`
}

// DefaultConfig returns the normalization defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultCurrency:     models.DefaultCurrency,
		SupportedCurrencies: append([]string(nil), models.SupportedCurrencies...),
		DefaultDescription:  "Transaction",
	}
}

// Validate checks if the normalizer configuration is valid
func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.DefaultCurrency)) != 3 {
		return fmt.Errorf("default currency must be a 3-letter code, got %q", c.DefaultCurrency)
	}
	for _, code := range c.SupportedCurrencies {
		if len(strings.TrimSpace(code)) != 3 {
			return fmt.Errorf("supported currency must be a 3-letter code, got %q", code)
		}
	}
	if strings.TrimSpace(c.DefaultDescription) == "" {
		return fmt.Errorf("default description cannot be empty")
	}
	return nil
}

// statusAliases maps lower-cased status words onto the closed status set
var statusAliases = map[string]models.Status{
	"completed":   models.StatusCompleted,
	"complete":    models.StatusCompleted,
	"success":     models.StatusCompleted,
	"successful":  models.StatusCompleted,
	"pending":     models.StatusPending,
	"failed":      models.StatusFailed,
	"failure":     models.StatusFailed,
	"cancelled":   models.StatusCancelled,
	"canceled":    models.StatusCancelled,
	"processing":  models.StatusProcessing,
	"in progress": models.StatusProcessing,
}

// Normalizer turns CandidateRecords into NormalizedTransactions
type Normalizer struct {
	config      *Config
	supported   map[string]bool
	categorizer Categorizer
	logger      logger.Logger
	now         func() time.Time
}

// New creates a Normalizer; now supplies the ingestion time for undated candidates
func New(config *Config, categorizer Categorizer, log logger.Logger, now func() time.Time) (*Normalizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion.default_currency", config.DefaultCurrency, err)
	}
	if categorizer == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "categorizer", nil, nil)
	}
	if now == nil {
		now = time.Now
	}

	supported := make(map[string]bool, len(config.SupportedCurrencies)+1)
	for _, code := range config.SupportedCurrencies {
		supported[strings.ToUpper(strings.TrimSpace(code))] = true
	}
	supported[strings.ToUpper(config.DefaultCurrency)] = true

	return &Normalizer{
		config:      config,
		supported:   supported,
		categorizer: categorizer,
		logger:      logger.OrGlobal(log).WithComponent("normalizer"),
		now:         now,
	}, nil
}

// Normalize converts a single candidate; failures are NormalizationErrors scoped to this record
func (n *Normalizer) Normalize(c *models.CandidateRecord, sourceFile string) (*models.NormalizedTransaction, error) {
	if c == nil {
		return nil, errors.NormalizationError("candidate", nil, fmt.Errorf("nil candidate"))
	}

	status, err := n.status(c.StatusText)
	if err != nil {
		return nil, err
	}

	txType := models.TransactionTypeExpense
	if c.AmountValue.IsNegative() {
		txType = models.TransactionTypeIncome
	}

	importedAt := n.now()
	date := c.TimestampValue
	if date.IsZero() {
		date = importedAt
	}

	description := strings.TrimSpace(c.DescriptionText)
	recipient := strings.TrimSpace(c.Recipient)
	if description == "" {
		description = recipient
	}
	if description == "" {
		description = n.config.DefaultDescription
	}

	category := c.Category
	if category == "" {
		category = n.categorizer.Categorize(strings.TrimSpace(description + " " + recipient))
	}

	tx := &models.NormalizedTransaction{
		Type:                  txType,
		Amount:                c.AmountValue.Abs(),
		Currency:              n.currency(c.Currency),
		Category:              category,
		Description:           description,
		Recipient:             recipient,
		PaymentMethod:         strings.TrimSpace(c.PaymentMethod),
		MaskedAccountNumber:   models.MaskAccountNumber(c.MaskedAccountNumber),
		ExternalTransactionID: strings.TrimSpace(c.ExternalTransactionID),
		Status:                status,
		Date:                  date,
		Tags:                  tags(c.Source),
		Provenance:            models.ProvenanceImported,
		SourceFile:            sourceFile,
		ImportedAt:            importedAt,
	}

	if err := tx.Validate(); err != nil {
		return nil, errors.NormalizationError("transaction", c.AmountText, err)
	}

	return tx, nil
}

// currency upper-cases known codes and substitutes the default for anything else
func (n *Normalizer) currency(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if mapped := models.CurrencyForSymbol(code); mapped != "" {
		code = mapped
	}
	if n.supported[code] {
		return code
	}
	if code != "" {
		n.logger.WithField("currency", raw).Debug("Unsupported currency replaced by default")
	}
	return strings.ToUpper(n.config.DefaultCurrency)
}

func (n *Normalizer) status(raw string) (models.Status, error) {
	key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if key == "" {
		return models.StatusCompleted, nil
	}
	if status, ok := statusAliases[key]; ok {
		return status, nil
	}
	return "", errors.NormalizationError("status", raw, nil)
}

func tags(source models.ExtractionSource) []string {
	out := []string{models.TagImported, models.TagHTMLParse}
	switch source {
	case models.SourceExternal:
		out = append(out, models.TagExternalExtract)
	case models.SourceFallback:
		out = append(out, models.TagFallback)
	}
	return out
}
