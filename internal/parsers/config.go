package parsers

import (
	"fmt"
	"strings"
	"time"
)

// ExtractionMode selects which Extractor implementation handles a document
type ExtractionMode string

const (
	// ModeLocal extracts candidates in-process from the markup
	ModeLocal ExtractionMode = "local"
	// ModeExternal delegates extraction to an external command
	ModeExternal ExtractionMode = "external"
)

// ParserConfig holds the heuristics used by the document validator and the local extractor
type ParserConfig struct {
	ProviderMarkers           []string `json:"provider_markers"`
	RowClassHints             []string `json:"row_class_hints"`
	IncomeKeywords            []string `json:"income_keywords"`
	MaxDescriptionLength      int      `json:"max_description_length"`
	MinDescriptionLength      int      `json:"min_description_length"`
	DescriptionPlaceholder    string   `json:"description_placeholder"`
	FallbackLimit             int      `json:"fallback_limit"`
	FallbackDescriptionPrefix string   `json:"fallback_description_prefix"`
}

// DefaultParserConfig returns the heuristics tuned for Google Takeout activity exports
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		ProviderMarkers: []string{"google"},
		RowClassHints:   []string{"transaction", "activity", "outer-cell", "content-cell"},
		IncomeKeywords:  []string{"received", "refund", "credited", "cashback"},

		MaxDescriptionLength:      100,
		MinDescriptionLength:      5,
		DescriptionPlaceholder:    "Payment",
		FallbackLimit:             20,
		FallbackDescriptionPrefix: "Google Pay Transaction",
	}
}

// Validate checks if the parser configuration is valid
func (c *ParserConfig) Validate() error {
	if len(c.ProviderMarkers) == 0 {
		return fmt.Errorf("at least one provider marker is required")
	}
	for _, marker := range c.ProviderMarkers {
		if strings.TrimSpace(marker) == "" {
			return fmt.Errorf("provider markers cannot be blank")
		}
	}

	if c.MaxDescriptionLength <= 0 {
		return fmt.Errorf("max description length must be positive, got %d", c.MaxDescriptionLength)
	}

	if c.MinDescriptionLength < 0 || c.MinDescriptionLength > c.MaxDescriptionLength {
		return fmt.Errorf("min description length must be between 0 and %d, got %d",
			c.MaxDescriptionLength, c.MinDescriptionLength)
	}

	if strings.TrimSpace(c.DescriptionPlaceholder) == "" {
		return fmt.Errorf("description placeholder cannot be empty")
	}

	if c.FallbackLimit <= 0 {
		return fmt.Errorf("fallback limit must be positive, got %d", c.FallbackLimit)
	}

	if strings.TrimSpace(c.FallbackDescriptionPrefix) == "" {
		return fmt.Errorf("fallback description prefix cannot be empty")
	}

	return nil
}

// ExternalConfig configures the external extraction service delegate
type ExternalConfig struct {
	Command            string        `json:"command"`
	Args               []string      `json:"args,omitempty"`
	TempDir            string        `json:"temp_dir"`
	Timeout            time.Duration `json:"timeout"`
	MaxDiagnosticBytes int           `json:"max_diagnostic_bytes"`
}

// DefaultExternalConfig returns the delegate defaults; Command must still be supplied
func DefaultExternalConfig() *ExternalConfig {
	return &ExternalConfig{
		TempDir:            "",
		Timeout:            30 * time.Second,
		MaxDiagnosticBytes: 4096,
	}
}

// Validate checks if the external configuration is valid
func (c *ExternalConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("external extraction command cannot be empty")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("external extraction timeout must be positive, got %s", c.Timeout)
	}

	if c.MaxDiagnosticBytes < 0 {
		return fmt.Errorf("max diagnostic bytes cannot be negative")
	}

	return nil
}
