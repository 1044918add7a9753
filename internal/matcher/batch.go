package matcher

import (
	"encoding/json"
	"sort"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/errors"
)

// Selection is the ordered set of batch positions chosen for commit
type Selection []int

// Batch holds the normalized records of one document awaiting a commit decision.
// Only Selection changes after construction.
type Batch struct {
	FileName     string
	Transactions []*models.NormalizedTransaction
	SourceIndex  []int
	Flags        map[int]DuplicateFlag
	Selection    Selection
}

// NewBatch creates a batch with an empty selection; sourceIndex maps each
// position to the candidate it came from and defaults to the position itself
func NewBatch(fileName string, txs []*models.NormalizedTransaction, sourceIndex []int, flags map[int]DuplicateFlag) *Batch {
	if len(sourceIndex) != len(txs) {
		sourceIndex = make([]int, len(txs))
		for i := range sourceIndex {
			sourceIndex[i] = i
		}
	}
	if flags == nil {
		flags = make(map[int]DuplicateFlag)
	}

	return &Batch{
		FileName:     fileName,
		Transactions: txs,
		SourceIndex:  sourceIndex,
		Flags:        flags,
		Selection:    Selection{},
	}
}

// Len returns the number of records in the batch
func (b *Batch) Len() int {
	return len(b.Transactions)
}

// IsFlagged reports whether the record at position i is a likely duplicate
func (b *Batch) IsFlagged(i int) bool {
	_, ok := b.Flags[i]
	return ok
}

// DuplicateCount returns the number of flagged records
func (b *Batch) DuplicateCount() int {
	return len(b.Flags)
}

// Select replaces the selection with the given positions in document order.
// Repeats are dropped; an empty or nil list selects nothing.
func (b *Batch) Select(indices []int) (Selection, error) {
	seen := make(map[int]bool, len(indices))
	selection := make(Selection, 0, len(indices))

	for _, i := range indices {
		if i < 0 || i >= len(b.Transactions) {
			return nil, errors.ValidationError(errors.CodeOutOfRange, "selection", i, nil).
				WithContext("batch_size", len(b.Transactions))
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		selection = append(selection, i)
	}

	sort.Ints(selection)
	b.Selection = selection
	return selection, nil
}

// DefaultSelection returns every position that was not flagged as a duplicate
func (b *Batch) DefaultSelection() Selection {
	selection := make(Selection, 0, len(b.Transactions))
	for i := range b.Transactions {
		if !b.IsFlagged(i) {
			selection = append(selection, i)
		}
	}
	return selection
}

// SelectDefault applies DefaultSelection
func (b *Batch) SelectDefault() Selection {
	b.Selection = b.DefaultSelection()
	return b.Selection
}

// Selected returns the selected records in document order
func (b *Batch) Selected() []*models.NormalizedTransaction {
	out := make([]*models.NormalizedTransaction, 0, len(b.Selection))
	for _, i := range b.Selection {
		out = append(out, b.Transactions[i])
	}
	return out
}

// BatchEntry is one record of a batch as shown to a reviewer
type BatchEntry struct {
	Position    int                           `json:"position"`
	SourceIndex int                           `json:"sourceIndex"`
	Transaction *models.NormalizedTransaction `json:"transaction"`
	Duplicate   *DuplicateFlag                `json:"duplicate,omitempty"`
	Selected    bool                          `json:"selected"`
}

// Entries returns the batch as reviewable rows
func (b *Batch) Entries() []BatchEntry {
	selected := make(map[int]bool, len(b.Selection))
	for _, i := range b.Selection {
		selected[i] = true
	}

	entries := make([]BatchEntry, len(b.Transactions))
	for i, tx := range b.Transactions {
		entry := BatchEntry{
			Position:    i,
			SourceIndex: b.SourceIndex[i],
			Transaction: tx,
			Selected:    selected[i],
		}
		if flag, ok := b.Flags[i]; ok {
			f := flag
			entry.Duplicate = &f
		}
		entries[i] = entry
	}
	return entries
}

// MarshalJSON renders the batch for previews
func (b *Batch) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		FileName       string       `json:"fileName"`
		FoundCount     int          `json:"foundCount"`
		DuplicateCount int          `json:"duplicateCount"`
		Selection      Selection    `json:"selection"`
		Entries        []BatchEntry `json:"entries"`
	}{
		FileName:       b.FileName,
		FoundCount:     b.Len(),
		DuplicateCount: b.DuplicateCount(),
		Selection:      b.Selection,
		Entries:        b.Entries(),
	})
}
