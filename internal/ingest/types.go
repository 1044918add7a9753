package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/owner"
	"takeout-ingestion-service/pkg/errors"
)

// Stage names the pipeline step that rejected a record
type Stage string

const (
	StageNormalization Stage = "normalization"
	StagePersistence   Stage = "persistence"
)

// IngestRequest is one document upload.
// A nil Selection applies the default policy (every record not flagged as a duplicate);
// a non-nil Selection, even an empty one, is honored exactly.
type IngestRequest struct {
	Document  models.RawDocument
	Hints     owner.Hints
	Selection []int
}

// Validate checks the request shape; document content is checked by the validator
func (r *IngestRequest) Validate() error {
	if r == nil {
		return errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
	}
	return nil
}

// Rejection records a single candidate or transaction that was not committed.
// Index is always the candidate index in extraction order; Position is the batch
// position and is set only for persistence rejections.
type Rejection struct {
	Stage       Stage                         `json:"stage"`
	Index       int                           `json:"index"`
	Position    *int                          `json:"position,omitempty"`
	Code        errors.ErrorCode              `json:"code"`
	Reason      string                        `json:"reason"`
	Candidate   *models.CandidateRecord       `json:"candidate,omitempty"`
	Transaction *models.NormalizedTransaction `json:"transaction,omitempty"`
	Err         error                         `json:"-"`
}

func newRejection(stage Stage, index int, err error) Rejection {
	r := Rejection{Stage: stage, Index: index, Reason: err.Error(), Err: err}
	if ingestErr, ok := errors.AsIngestError(err); ok {
		r.Code = ingestErr.Code
		r.Reason = ingestErr.Message
		if ingestErr.Cause != nil {
			r.Reason = fmt.Sprintf("%s: %v", ingestErr.Message, ingestErr.Cause)
		}
	}
	return r
}

// IngestResult summarizes one ingestion.
// FoundCount is the number of extracted candidates; committed plus rejected plus
// deselected records account for all of them.
type IngestResult struct {
	FileName       string                          `json:"fileName"`
	FoundCount     int                             `json:"foundCount"`
	SelectedCount  int                             `json:"selectedCount"`
	CommittedCount int                             `json:"committedCount"`
	DuplicateCount int                             `json:"duplicateCount"`
	Transactions   []*models.NormalizedTransaction `json:"transactions"`
	Rejected       []Rejection                     `json:"rejected"`
	Owner          *models.Owner                   `json:"owner,omitempty"`
	Duration       time.Duration                   `json:"-"`
}

// RejectedCount returns the number of rejected records
func (r *IngestResult) RejectedCount() int {
	return len(r.Rejected)
}

// ErrorSummary groups the typed rejection errors by category and code
func (r *IngestResult) ErrorSummary() *errors.ErrorSummary {
	errs := make([]*errors.IngestError, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		if ingestErr, ok := errors.AsIngestError(rej.Err); ok {
			errs = append(errs, ingestErr)
		}
	}
	return errors.NewErrorSummary(errs)
}

// PartialSuccess reports whether some found records were not committed
func (r *IngestResult) PartialSuccess() bool {
	return r.CommittedCount < r.FoundCount
}

// Summary returns a one-line description of the outcome
func (r *IngestResult) Summary() string {
	return fmt.Sprintf("%d found, %d selected, %d committed, %d rejected, %d flagged as duplicates",
		r.FoundCount, r.SelectedCount, r.CommittedCount, r.RejectedCount(), r.DuplicateCount)
}

// MarshalJSON adds the rejected count and duration in milliseconds
func (r *IngestResult) MarshalJSON() ([]byte, error) {
	type Alias IngestResult
	transactions := r.Transactions
	if transactions == nil {
		transactions = []*models.NormalizedTransaction{}
	}
	rejected := r.Rejected
	if rejected == nil {
		rejected = []Rejection{}
	}
	return json.Marshal(&struct {
		*Alias
		Transactions  []*models.NormalizedTransaction `json:"transactions"`
		Rejected      []Rejection                     `json:"rejected"`
		RejectedCount int                             `json:"rejectedCount"`
		DurationMs    int64                           `json:"durationMs"`
	}{
		Alias:         (*Alias)(r),
		Transactions:  transactions,
		Rejected:      rejected,
		RejectedCount: r.RejectedCount(),
		DurationMs:    r.Duration.Milliseconds(),
	})
}

// Progress tracks the steps of one ingestion
type Progress struct {
	FileName        string        `json:"file_name"`
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called to report ingestion progress
type ProgressCallback func(Progress)
