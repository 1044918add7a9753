// Package store defines the owner and transaction persistence contracts used by ingestion,
// with an in-memory implementation. A Postgres implementation lives in store/pg.
package store

import (
	"context"
	"errors"

	"takeout-ingestion-service/internal/models"
)

// ErrNotFound is returned by lookups that match nothing
var ErrNotFound = errors.New("store: not found")

// OwnerStore persists owners
type OwnerStore interface {
	FindByID(ctx context.Context, id string) (*models.Owner, error)
	FindByExternalRef(ctx context.Context, externalRef string) (*models.Owner, error)

	// UpsertByExternalRef inserts owner keyed by its ExternalRef, or returns the
	// existing owner for that ref unchanged. Concurrent calls for one ref return one id.
	UpsertByExternalRef(ctx context.Context, owner *models.Owner) (*models.Owner, error)
}

// InsertResult is the outcome of one record of an InsertMany call
type InsertResult struct {
	Index int
	ID    string
	Err   error
}

// TransactionStore persists normalized transactions
type TransactionStore interface {
	// InsertMany writes each record independently and reports one result per input,
	// in input order. A failure on one record does not stop the others.
	InsertMany(ctx context.Context, txs []*models.NormalizedTransaction) []InsertResult
}
