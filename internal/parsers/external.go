package parsers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// ExternalExtractor delegates extraction to an external command.
// The command receives the path of a temporary copy of the document as its last argument
// and must print a JSON array of transaction objects to stdout.
type ExternalExtractor struct {
	config *ExternalConfig
	logger logger.Logger
}

// externalRecord is one element of the delegate's output array
type externalRecord struct {
	Amount        flexAmount `json:"amount"`
	Currency      string     `json:"currency"`
	Timestamp     string     `json:"timestamp"`
	Description   string     `json:"description"`
	Recipient     string     `json:"recipient"`
	PaymentMethod string     `json:"payment_method"`
	AccountNumber string     `json:"account_number"`
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	Category      string     `json:"category"`
}

// flexAmount accepts a JSON number or a currency-formatted string
type flexAmount struct {
	raw   string
	value decimal.Decimal
	ok    bool
}

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.raw = s
		if v, _, err := models.ParseAmount(s); err == nil {
			a.value, a.ok = v, true
		}
		return nil
	}

	a.raw = trimmed
	if v, err := decimal.NewFromString(trimmed); err == nil {
		a.value, a.ok = v, true
	}
	return nil
}

// NewExternalExtractor creates a delegate-backed extractor
func NewExternalExtractor(config *ExternalConfig, log logger.Logger) (*ExternalExtractor, error) {
	if config == nil {
		config = DefaultExternalConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extraction", config.Command, err)
	}

	return &ExternalExtractor{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("external_extractor"),
	}, nil
}

// Extract writes the document to a temp file, runs the delegate and maps its output
func (e *ExternalExtractor) Extract(ctx context.Context, doc models.RawDocument) ([]*models.CandidateRecord, error) {
	log := e.logger.WithFields(logger.Fields{
		"file_name": doc.FileName,
		"command":   e.config.Command,
	})

	path, cleanup, err := e.writeTempFile(doc.Content)
	if err != nil {
		return nil, errors.ExternalProcessError(errors.CodeExternalProcess, "", err).
			WithContext("stage", "temp_file")
	}
	defer cleanup()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	args := append(append([]string{}, e.config.Args...), path)
	cmd := exec.CommandContext(runCtx, e.config.Command, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	diagnostic := e.diagnostic(stderr.String())

	log.WithFields(logger.Fields{
		"duration":     time.Since(started).String(),
		"stdout_bytes": stdout.Len(),
		"stderr":       diagnostic,
	}).Debug("External extraction finished")

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.ExternalProcessError(errors.CodeExternalTimeout, diagnostic, runErr).
				WithContext("timeout", e.config.Timeout.String())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ExternalProcessError(errors.CodeExternalProcess, diagnostic, runErr)
	}

	var records []externalRecord
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &records); err != nil {
		return nil, errors.ExternalProcessError(errors.CodeExternalOutput, diagnostic, err).
			WithContext("stdout_preview", e.diagnostic(stdout.String()))
	}

	candidates := make([]*models.CandidateRecord, 0, len(records))
	for i, record := range records {
		candidate, ok := toCandidate(record)
		if !ok {
			log.WithFields(logger.Fields{"index": i, "amount": record.Amount.raw}).
				Warn("Skipping delegate record with unusable amount")
			continue
		}
		candidates = append(candidates, candidate)
	}

	if len(candidates) == 0 {
		return nil, errors.ExtractionEmptyError(doc.FileName)
	}

	return candidates, nil
}

// toCandidate maps a delegate record; the delegate encodes direction by sign
func toCandidate(r externalRecord) (*models.CandidateRecord, bool) {
	if !r.Amount.ok {
		return nil, false
	}

	description := strings.TrimSpace(r.Description)
	if description == "" {
		description = strings.TrimSpace(r.Recipient)
	}
	if description == "" {
		description = "Transaction"
	}

	category := models.CategoryUncategorized
	if parsed, err := models.ParseCategory(r.Category); err == nil {
		category = parsed
	}

	candidate := &models.CandidateRecord{
		AmountText:            r.Amount.raw,
		AmountValue:           r.Amount.value,
		Currency:              r.Currency,
		TimestampText:         r.Timestamp,
		DescriptionText:       description,
		Recipient:             strings.TrimSpace(r.Recipient),
		PaymentMethod:         strings.TrimSpace(r.PaymentMethod),
		MaskedAccountNumber:   r.AccountNumber,
		ExternalTransactionID: strings.TrimSpace(r.TransactionID),
		StatusText:            r.Status,
		Category:              category,
		Source:                models.SourceExternal,
	}
	if ts, err := models.ParseTimeWithFormats(r.Timestamp); err == nil {
		candidate.TimestampValue = ts
	}

	return candidate, true
}

// writeTempFile stores content in the configured temp dir and returns a cleanup func
func (e *ExternalExtractor) writeTempFile(content string) (string, func(), error) {
	dir := e.config.TempDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", nil, fmt.Errorf("create temp dir %s: %w", dir, err)
		}
	}

	f, err := os.CreateTemp(dir, "takeout-*.html")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			e.logger.WithError(err).WithField("path", f.Name()).Warn("Failed to remove temp file")
		}
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}

	return f.Name(), cleanup, nil
}

func (e *ExternalExtractor) diagnostic(s string) string {
	s = strings.TrimSpace(s)
	if e.config.MaxDiagnosticBytes > 0 && len(s) > e.config.MaxDiagnosticBytes {
		return s[:e.config.MaxDiagnosticBytes] + "..."
	}
	return s
}
