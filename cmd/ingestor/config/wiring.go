package config

import (
	"context"
	"time"

	"takeout-ingestion-service/internal/categorizer"
	"takeout-ingestion-service/internal/ingest"
	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/internal/normalizer"
	"takeout-ingestion-service/internal/owner"
	"takeout-ingestion-service/internal/parsers"
	"takeout-ingestion-service/internal/store"
	"takeout-ingestion-service/internal/store/pg"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"
)

// Stores bundles the owner and transaction stores of one driver
type Stores struct {
	Owners       store.OwnerStore
	Transactions store.TransactionStore
	Close        func()
}

// OpenStores opens the configured store driver; postgres schemas are created if missing
func (c *Config) OpenStores(ctx context.Context) (*Stores, error) {
	switch c.Store.Driver {
	case DriverPostgres:
		pgStore, err := pg.Open(ctx, pg.Config{URL: c.Store.URL, MaxConns: c.Store.MaxConns}, nil)
		if err != nil {
			return nil, errors.InternalError(errors.CodeStoreFailure, "open postgres", err).
				WithSuggestion("check store.url and that the database is reachable")
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			pgStore.Close()
			return nil, errors.InternalError(errors.CodeStoreFailure, "ensure schema", err)
		}
		return &Stores{Owners: pgStore, Transactions: pgStore, Close: pgStore.Close}, nil
	default:
		mem := store.NewMemory()
		return &Stores{Owners: mem, Transactions: mem, Close: func() {}}, nil
	}
}

// BuildOrchestrator wires every ingestion component from the configuration
func (c *Config) BuildOrchestrator(stores *Stores, log logger.Logger, now func() time.Time) (*ingest.Orchestrator, error) {
	if now == nil {
		now = time.Now
	}

	parserConfig, err := c.ParserConfig()
	if err != nil {
		return nil, err
	}
	validator, err := parsers.NewDocumentValidator(parserConfig, log)
	if err != nil {
		return nil, err
	}

	var externalConfig *parsers.ExternalConfig
	if parsers.ExtractionMode(c.Extraction.Mode) == parsers.ModeExternal {
		if externalConfig, err = c.ExternalConfig(); err != nil {
			return nil, err
		}
	}
	extractor, err := parsers.NewExtractor(parsers.ExtractionMode(c.Extraction.Mode), parserConfig, externalConfig, log, now)
	if err != nil {
		return nil, err
	}

	rules, err := c.Rules()
	if err != nil {
		return nil, err
	}
	cat, err := categorizer.New(rules)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "categories", len(rules), err)
	}

	normalizerConfig, err := c.NormalizerConfig()
	if err != nil {
		return nil, err
	}
	norm, err := normalizer.New(normalizerConfig, cat, log, now)
	if err != nil {
		return nil, err
	}

	duplicateConfig, err := c.DuplicateConfig()
	if err != nil {
		return nil, err
	}

	return ingest.New(ingest.Options{
		Validator:    validator,
		Extractor:    extractor,
		Normalizer:   norm,
		Detector:     matcher.NewDuplicateDetector(duplicateConfig),
		Resolver:     owner.NewResolver(stores.Owners, log),
		Transactions: stores.Transactions,
		Workers:      c.Ingestion.Workers,
		Logger:       log,
		Now:          now,
	})
}
