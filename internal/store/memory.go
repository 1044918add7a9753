package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"takeout-ingestion-service/internal/models"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-process OwnerStore and TransactionStore
type Memory struct {
	mu           sync.RWMutex
	owners       map[string]*models.Owner
	ownersByRef  map[string]string
	transactions map[string]*models.NormalizedTransaction
	order        []string
	now          func() time.Time
}

// Compile-time assertions
var (
	_ OwnerStore       = (*Memory)(nil)
	_ TransactionStore = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		owners:       make(map[string]*models.Owner),
		ownersByRef:  make(map[string]string),
		transactions: make(map[string]*models.NormalizedTransaction),
		now:          time.Now,
	}
}

// FindByID implements OwnerStore
func (m *Memory) FindByID(ctx context.Context, id string) (*models.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *owner
	return &copied, nil
}

// FindByExternalRef implements OwnerStore
func (m *Memory) FindByExternalRef(ctx context.Context, externalRef string) (*models.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.ownersByRef[externalRef]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m.owners[id]
	return &copied, nil
}

// UpsertByExternalRef implements OwnerStore; the check and the insert share one lock
func (m *Memory) UpsertByExternalRef(ctx context.Context, owner *models.Owner) (*models.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if owner == nil || strings.TrimSpace(owner.ExternalRef) == "" {
		return nil, fmt.Errorf("owner external ref cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.ownersByRef[owner.ExternalRef]; ok {
		copied := *m.owners[id]
		return &copied, nil
	}

	created := *owner
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = m.now()
	}
	if err := created.Validate(); err != nil {
		return nil, err
	}
	if _, exists := m.owners[created.ID]; exists {
		return nil, fmt.Errorf("owner id %s already exists", created.ID)
	}

	m.owners[created.ID] = &created
	m.ownersByRef[created.ExternalRef] = created.ID

	result := created
	return &result, nil
}

// InsertMany implements TransactionStore
func (m *Memory) InsertMany(ctx context.Context, txs []*models.NormalizedTransaction) []InsertResult {
	results := make([]InsertResult, len(txs))

	m.mu.Lock()
	defer m.mu.Unlock()

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

		stored := *tx
		stored.Tags = append([]string(nil), tx.Tags...)
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if _, exists := m.transactions[stored.ID]; exists {
			results[i].Err = fmt.Errorf("transaction id %s already exists", stored.ID)
			continue
		}

		m.transactions[stored.ID] = &stored
		m.order = append(m.order, stored.ID)
		results[i].ID = stored.ID
	}

	return results
}

// Transactions returns stored transactions in insertion order
func (m *Memory) Transactions() []*models.NormalizedTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.NormalizedTransaction, 0, len(m.order))
	for _, id := range m.order {
		copied := *m.transactions[id]
		out = append(out, &copied)
	}
	return out
}

// OwnerCount returns the number of stored owners
func (m *Memory) OwnerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners)
}
