package matcher

import (
	"fmt"
	"strings"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/pkg/textfold"
)

// DuplicateFlag marks a record as a likely repeat of an earlier one
type DuplicateFlag struct {
	DuplicateOf int    `json:"duplicateOf"`
	Reason      string `json:"reason"`
}

// DuplicateGroup lists the positions of records that look like the same transaction.
// Members[0] is the first occurrence and is never flagged.
type DuplicateGroup struct {
	GroupID string `json:"groupId"`
	Members []int  `json:"members"`
	Reason  string `json:"reason"`
}

// DuplicateDetectionResult represents the result of duplicate detection
type DuplicateDetectionResult struct {
	Flags  map[int]DuplicateFlag
	Groups []DuplicateGroup
}

// FlaggedCount returns the number of flagged records
func (r *DuplicateDetectionResult) FlaggedCount() int {
	return len(r.Flags)
}

// IsFlagged reports whether the record at position i was flagged
func (r *DuplicateDetectionResult) IsFlagged(i int) bool {
	_, ok := r.Flags[i]
	return ok
}

// DuplicateDetector flags records that share a day, an amount and a description
type DuplicateDetector struct {
	Config *DuplicateConfig
}

// NewDuplicateDetector creates a new duplicate detector
func NewDuplicateDetector(config *DuplicateConfig) *DuplicateDetector {
	if config == nil {
		config = DefaultDuplicateConfig()
	}
	return &DuplicateDetector{
		Config: config,
	}
}

// FlagDuplicates compares each record with every earlier one in document order.
// A record matching any earlier record is flagged as a duplicate of the first
// record of that record's group, so chains collapse onto one group head.
func (d *DuplicateDetector) FlagDuplicates(transactions []*models.NormalizedTransaction) *DuplicateDetectionResult {
	result := &DuplicateDetectionResult{
		Flags: make(map[int]DuplicateFlag),
	}

	folded := make([]string, len(transactions))
	for i, tx := range transactions {
		if tx != nil {
			folded[i] = textfold.Fold(tx.Description)
		}
	}

	groupIndex := make(map[int]int)
	for j, candidate := range transactions {
		if candidate == nil {
			continue
		}
		for i := 0; i < j; i++ {
			if transactions[i] == nil || !d.isPotentialDuplicate(transactions[i], candidate, folded[i], folded[j]) {
				continue
			}

			head := i
			if flag, ok := result.Flags[i]; ok {
				head = flag.DuplicateOf
			}
			reason := d.generateDuplicateReason(transactions[head])
			result.Flags[j] = DuplicateFlag{DuplicateOf: head, Reason: reason}

			if g, ok := groupIndex[head]; ok {
				result.Groups[g].Members = append(result.Groups[g].Members, j)
			} else {
				groupIndex[head] = len(result.Groups)
				result.Groups = append(result.Groups, DuplicateGroup{
					GroupID: fmt.Sprintf("DUP_%d", head),
					Members: []int{head, j},
					Reason:  reason,
				})
			}
			break
		}
	}

	return result
}

// isPotentialDuplicate checks if two transactions are potentially duplicates
func (d *DuplicateDetector) isPotentialDuplicate(a, b *models.NormalizedTransaction, foldedA, foldedB string) bool {
	if !models.SameDay(a.Date, b.Date) {
		return false
	}

	if !models.CompareAmountsWithTolerance(a.Amount, b.Amount, d.Config.AmountTolerance) {
		return false
	}

	if d.Config.RequireSameType && a.Type != b.Type {
		return false
	}

	if foldedA == "" || foldedB == "" {
		return false
	}

	return containsEither(foldedA, foldedB)
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// generateDuplicateReason creates a human-readable reason for a duplicate flag
func (d *DuplicateDetector) generateDuplicateReason(head *models.NormalizedTransaction) string {
	return fmt.Sprintf("same day (%s), amount (%s) and description as %q",
		head.Date.Format("2006-01-02"), head.Amount.StringFixed(2), head.Description)
}
