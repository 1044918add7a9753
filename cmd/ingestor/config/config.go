// Package config loads the ingestor configuration from flags, environment and an
// optional config file, and converts it into the component configurations.
package config

import (
	"fmt"
	"strings"
	"time"

	"takeout-ingestion-service/internal/categorizer"
	"takeout-ingestion-service/internal/httpapi"
	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/normalizer"
	"takeout-ingestion-service/internal/parsers"
	"takeout-ingestion-service/internal/reporter"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. INGESTOR_STORE_URL
const EnvPrefix = "INGESTOR"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the complete ingestor configuration
type Config struct {
	Ingestion  IngestionConfig    `mapstructure:"ingestion"`
	Extraction ExtractionConfig   `mapstructure:"extraction"`
	Categories []categorizer.Rule `mapstructure:"categories"`
	Store      StoreConfig        `mapstructure:"store"`
	Server     httpapi.Config     `mapstructure:"server"`
	Log        logger.Config      `mapstructure:"log"`
}

// IngestionConfig holds the parsing and normalization heuristics
type IngestionConfig struct {
	DefaultCurrency           string   `mapstructure:"default_currency"`
	SupportedCurrencies       []string `mapstructure:"supported_currencies"`
	DefaultDescription        string   `mapstructure:"default_description"`
	MaxDescriptionLength      int      `mapstructure:"max_description_length"`
	MinDescriptionLength      int      `mapstructure:"min_description_length"`
	DescriptionPlaceholder    string   `mapstructure:"description_placeholder"`
	FallbackLimit             int      `mapstructure:"fallback_limit"`
	FallbackDescriptionPrefix string   `mapstructure:"fallback_description_prefix"`
	ProviderMarkers           []string `mapstructure:"provider_markers"`
	RowClassHints             []string `mapstructure:"row_class_hints"`
	IncomeKeywords            []string `mapstructure:"income_keywords"`
	Workers                   int      `mapstructure:"workers"`
	DedupeAmountTolerance     string   `mapstructure:"dedupe_amount_tolerance"`
	DedupeRequireSameType     bool     `mapstructure:"dedupe_require_same_type"`
}

// ExtractionConfig selects and configures the extraction strategy
type ExtractionConfig struct {
	Mode               string        `mapstructure:"mode"`
	Command            string        `mapstructure:"command"`
	Args               []string      `mapstructure:"args"`
	TempDir            string        `mapstructure:"temp_dir"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxDiagnosticBytes int           `mapstructure:"max_diagnostic_bytes"`
}

// StoreConfig selects the owner and transaction store
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SetDefaults registers every key with its default so environment overrides resolve
func SetDefaults(v *viper.Viper) {
	parserDefaults := parsers.DefaultParserConfig()
	externalDefaults := parsers.DefaultExternalConfig()
	normalizerDefaults := normalizer.DefaultConfig()
	serverDefaults := httpapi.DefaultConfig()
	logDefaults := logger.DefaultConfig()

	v.SetDefault("ingestion.default_currency", normalizerDefaults.DefaultCurrency)
	v.SetDefault("ingestion.supported_currencies", normalizerDefaults.SupportedCurrencies)
	v.SetDefault("ingestion.default_description", normalizerDefaults.DefaultDescription)
	v.SetDefault("ingestion.max_description_length", parserDefaults.MaxDescriptionLength)
	v.SetDefault("ingestion.min_description_length", parserDefaults.MinDescriptionLength)
	v.SetDefault("ingestion.description_placeholder", parserDefaults.DescriptionPlaceholder)
	v.SetDefault("ingestion.fallback_limit", parserDefaults.FallbackLimit)
	v.SetDefault("ingestion.fallback_description_prefix", parserDefaults.FallbackDescriptionPrefix)
	v.SetDefault("ingestion.provider_markers", parserDefaults.ProviderMarkers)
	v.SetDefault("ingestion.row_class_hints", parserDefaults.RowClassHints)
	v.SetDefault("ingestion.income_keywords", parserDefaults.IncomeKeywords)
	v.SetDefault("ingestion.workers", 4)
	v.SetDefault("ingestion.dedupe_amount_tolerance", "0")
	v.SetDefault("ingestion.dedupe_require_same_type", false)

	v.SetDefault("extraction.mode", string(parsers.ModeLocal))
	v.SetDefault("extraction.command", "")
	v.SetDefault("extraction.args", []string{})
	v.SetDefault("extraction.temp_dir", externalDefaults.TempDir)
	v.SetDefault("extraction.timeout", externalDefaults.Timeout)
	v.SetDefault("extraction.max_diagnostic_bytes", externalDefaults.MaxDiagnosticBytes)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.url", "")
	v.SetDefault("store.max_conns", 0)

	v.SetDefault("server.addr", serverDefaults.Addr)
	v.SetDefault("server.max_body_bytes", serverDefaults.MaxBodyBytes)
	v.SetDefault("server.request_timeout", serverDefaults.RequestTimeout)
	v.SetDefault("server.read_header_timeout", serverDefaults.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", serverDefaults.ShutdownTimeout)

	v.SetDefault("log.level", string(logDefaults.Level))
	v.SetDefault("log.format", string(logDefaults.Format))
	v.SetDefault("log.output", string(logDefaults.Output))
	v.SetDefault("log.file", "")
}

// BindEnv enables INGESTOR_SECTION_KEY environment overrides
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load applies defaults, unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err).
			WithSuggestion("check the config file syntax and value types")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section, reporting the first invalid setting
func (c *Config) Validate() error {
	if _, err := c.ParserConfig(); err != nil {
		return err
	}
	if _, err := c.NormalizerConfig(); err != nil {
		return err
	}
	if _, err := c.DuplicateConfig(); err != nil {
		return err
	}
	if _, err := c.Rules(); err != nil {
		return err
	}

	switch parsers.ExtractionMode(c.Extraction.Mode) {
	case parsers.ModeLocal:
	case parsers.ModeExternal:
		if _, err := c.ExternalConfig(); err != nil {
			return err
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "extraction.mode", c.Extraction.Mode, nil).
			WithSuggestion("use 'local' or 'external'")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.URL) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "store.url", nil, nil).
				WithSuggestion("set store.url or INGESTOR_STORE_URL to a postgres connection string")
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", c.Store.Driver, nil).
			WithSuggestion("use 'memory' or 'postgres'")
	}

	if c.Ingestion.Workers < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion.workers", c.Ingestion.Workers, nil)
	}

	if err := c.Server.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", c.Server.Addr, err)
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}

	return nil
}

// ParserConfig builds the validator and local extractor heuristics
func (c *Config) ParserConfig() (*parsers.ParserConfig, error) {
	pc := &parsers.ParserConfig{
		ProviderMarkers:           c.Ingestion.ProviderMarkers,
		RowClassHints:             c.Ingestion.RowClassHints,
		IncomeKeywords:            c.Ingestion.IncomeKeywords,
		MaxDescriptionLength:      c.Ingestion.MaxDescriptionLength,
		MinDescriptionLength:      c.Ingestion.MinDescriptionLength,
		DescriptionPlaceholder:    c.Ingestion.DescriptionPlaceholder,
		FallbackLimit:             c.Ingestion.FallbackLimit,
		FallbackDescriptionPrefix: c.Ingestion.FallbackDescriptionPrefix,
	}
	if err := pc.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion", "parser settings", err)
	}
	return pc, nil
}

// ExternalConfig builds the external extraction delegate configuration
func (c *Config) ExternalConfig() (*parsers.ExternalConfig, error) {
	ec := &parsers.ExternalConfig{
		Command:            c.Extraction.Command,
		Args:               c.Extraction.Args,
		TempDir:            c.Extraction.TempDir,
		Timeout:            c.Extraction.Timeout,
		MaxDiagnosticBytes: c.Extraction.MaxDiagnosticBytes,
	}
	if err := ec.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "extraction", c.Extraction.Command, err).
			WithSuggestion("set extraction.command and a positive extraction.timeout")
	}
	return ec, nil
}

// NormalizerConfig builds the normalization defaults
func (c *Config) NormalizerConfig() (*normalizer.Config, error) {
	nc := &normalizer.Config{
		DefaultCurrency:     strings.ToUpper(strings.TrimSpace(c.Ingestion.DefaultCurrency)),
		SupportedCurrencies: c.Ingestion.SupportedCurrencies,
		DefaultDescription:  c.Ingestion.DefaultDescription,
	}
	if err := nc.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion.default_currency", nc.DefaultCurrency, err)
	}
	return nc, nil
}

// DuplicateConfig builds the duplicate detector configuration
func (c *Config) DuplicateConfig() (*matcher.DuplicateConfig, error) {
	tolerance, err := decimal.NewFromString(strings.TrimSpace(c.Ingestion.DedupeAmountTolerance))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion.dedupe_amount_tolerance",
			c.Ingestion.DedupeAmountTolerance, err).WithSuggestion("use a decimal amount such as 0 or 0.01")
	}

	dc := &matcher.DuplicateConfig{
		AmountTolerance: tolerance,
		RequireSameType: c.Ingestion.DedupeRequireSameType,
	}
	if err := dc.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ingestion.dedupe_amount_tolerance",
			c.Ingestion.DedupeAmountTolerance, err)
	}
	return dc, nil
}

// Rules returns the configured category table, or nil for the built-in one
func (c *Config) Rules() ([]categorizer.Rule, error) {
	if len(c.Categories) == 0 {
		return nil, nil
	}
	for i, rule := range c.Categories {
		parsed, err := models.ParseCategory(string(rule.Category))
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("categories[%d].category", i),
				rule.Category, err).WithSuggestion("use one of the built-in category names")
		}
		c.Categories[i].Category = parsed
	}
	if _, err := categorizer.New(c.Categories); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "categories", len(c.Categories), err)
	}
	return c.Categories, nil
}

// ReportConfig creates a report configuration for the specified output format
func ReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		config.Format = reporter.FormatConsole
	}

	return config
}
