// Package pg implements the owner and transaction stores on Postgres using pgxpool
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures pgxpool for pg
type Config struct {
	URL      string
	MaxConns int32
}

// Store is a Postgres OwnerStore and TransactionStore
type Store struct {
	Pool *pgxpool.Pool
	now  func() time.Time
}

// Compile-time assertions
var (
	_ store.OwnerStore       = (*Store)(nil)
	_ store.TransactionStore = (*Store)(nil)
)

var newPool = pgxpool.NewWithConfig

// Open creates a Store with the given config and optional pool config mutator
func Open(ctx context.Context, cfg Config, poolCfgMut func(*pgxpool.Config)) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if poolCfgMut != nil {
		poolCfgMut(pcfg)
	}
	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool, now: time.Now}, nil
}

// Close closes the pool
func (s *Store) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

// EnsureSchema creates the owners and transactions tables if they are missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const ownerColumns = `id, external_ref, display_name, email, created_at`

func scanOwner(row pgx.Row) (*models.Owner, error) {
	var o models.Owner
	if err := row.Scan(&o.ID, &o.ExternalRef, &o.DisplayName, &o.Email, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// FindByID implements store.OwnerStore
func (s *Store) FindByID(ctx context.Context, id string) (*models.Owner, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	return scanOwner(s.Pool.QueryRow(ctx,
		`SELECT `+ownerColumns+` FROM owners WHERE id = $1`, id))
}

// FindByExternalRef implements store.OwnerStore
func (s *Store) FindByExternalRef(ctx context.Context, externalRef string) (*models.Owner, error) {
	return scanOwner(s.Pool.QueryRow(ctx,
		`SELECT `+ownerColumns+` FROM owners WHERE external_ref = $1`, externalRef))
}

// UpsertByExternalRef implements store.OwnerStore.
// The no-op DO UPDATE makes RETURNING yield the existing row, so the loser of a race
// gets the winner's id without overwriting any column.
func (s *Store) UpsertByExternalRef(ctx context.Context, owner *models.Owner) (*models.Owner, error) {
	if owner == nil {
		return nil, fmt.Errorf("owner cannot be nil")
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	id := owner.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := owner.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	o, err := scanOwner(s.Pool.QueryRow(ctx, `
		INSERT INTO owners (id, external_ref, display_name, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_ref) DO UPDATE SET external_ref = EXCLUDED.external_ref
		RETURNING `+ownerColumns,
		id, owner.ExternalRef, owner.DisplayName, owner.Email, createdAt))
	if err != nil {
		return nil, fmt.Errorf("upsert owner %q: %w", owner.ExternalRef, err)
	}
	return o, nil
}

// InsertMany implements store.TransactionStore; each row is its own statement
func (s *Store) InsertMany(ctx context.Context, txs []*models.NormalizedTransaction) []store.InsertResult {
	results := make([]store.InsertResult, len(txs))

	for i, tx := range txs {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		if tx == nil {
			results[i].Err = fmt.Errorf("transaction cannot be nil")
			continue
		}
		if err := tx.Validate(); err != nil {
			results[i].Err = err
			continue
		}

		id := tx.ID
		if id == "" {
			id = uuid.NewString()
		}

		tags := tx.Tags
		if tags == nil {
			tags = []string{}
		}

		if _, err := s.Pool.Exec(ctx, `
			INSERT INTO transactions (
				id, owner_id, type, amount, currency, category, description, recipient,
				payment_method, masked_account_number, external_transaction_id, status,
				occurred_at, tags, provenance, source_file, imported_at
			) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			id, tx.OwnerRef, string(tx.Type), tx.Amount.String(), tx.Currency, string(tx.Category),
			tx.Description, tx.Recipient, tx.PaymentMethod, tx.MaskedAccountNumber,
			tx.ExternalTransactionID, string(tx.Status), tx.Date, tags, string(tx.Provenance),
			tx.SourceFile, tx.ImportedAt,
		); err != nil {
			results[i].Err = fmt.Errorf("insert transaction: %w", err)
			continue
		}
		results[i].ID = id
	}

	return results
}

// CountTransactions returns the number of transactions stored for an owner
func (s *Store) CountTransactions(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.Pool.QueryRow(ctx,
		`SELECT count(*) FROM transactions WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
