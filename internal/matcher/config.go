// Package matcher flags likely duplicate transactions within one document and
// tracks which records the caller chose to commit.
//
// Duplicate flags are advisory. Nothing in this package removes a record; the
// default selection simply leaves flagged records out, and an explicit
// selection may include them.
//
// Example usage:
//
//	detector := matcher.NewDuplicateDetector(matcher.DefaultDuplicateConfig())
//	flags := detector.FlagDuplicates(transactions)
//
//	batch := matcher.NewBatch("activity.html", transactions, sourceIndex, flags.Flags)
//	batch.SelectDefault()
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DuplicateConfig holds the parameters for duplicate detection
type DuplicateConfig struct {
	// AmountTolerance is the largest absolute amount difference still treated as equal
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// RequireSameType additionally requires matching income/expense direction
	RequireSameType bool `json:"require_same_type"`
}

// DefaultDuplicateConfig returns exact-amount duplicate detection
func DefaultDuplicateConfig() *DuplicateConfig {
	return &DuplicateConfig{
		AmountTolerance: decimal.Zero,
		RequireSameType: false,
	}
}

// Validate checks if the duplicate configuration is valid
func (c *DuplicateConfig) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", c.AmountTolerance.String())
	}
	return nil
}
