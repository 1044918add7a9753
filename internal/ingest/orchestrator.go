// Package ingest coordinates the ingestion of one uploaded activity export.
//
// An ingestion runs in two phases:
//   - Prepare validates the document, extracts candidates, normalizes every
//     candidate independently and flags likely duplicates. Nothing is written.
//   - Commit resolves the owner once and persists the selected records, each
//     on its own. A record that fails to persist does not stop the others.
//
// Fatal errors (invalid document, nothing extracted, delegate failure, no owner)
// return before any store call. Recoverable errors (a candidate that cannot be
// normalized, a record that cannot be stored) are collected in the result.
//
// Example usage:
//
//	orchestrator, err := ingest.New(ingest.Options{...})
//	orchestrator.AddProgressCallback(func(p ingest.Progress) {
//		fmt.Printf("%.0f%% - %s\n", p.PercentComplete, p.CurrentStep)
//	})
//
//	result, err := orchestrator.Ingest(ctx, &ingest.IngestRequest{
//		Document: models.RawDocument{Content: html, FileName: "My Activity.html"},
//		Hints:    owner.Hints{ExternalRef: "0xabc"},
//	})
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/owner"
	"takeout-ingestion-service/internal/store"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// DocumentValidator rejects documents that are not activity exports
type DocumentValidator interface {
	Validate(doc models.RawDocument) error
}

// Extractor pulls candidate records out of a document
type Extractor interface {
	Extract(ctx context.Context, doc models.RawDocument) ([]*models.CandidateRecord, error)
}

// Normalizer converts one candidate into a transaction
type Normalizer interface {
	Normalize(c *models.CandidateRecord, sourceFile string) (*models.NormalizedTransaction, error)
}

// DuplicateFlagger flags likely duplicates within a document
type DuplicateFlagger interface {
	FlagDuplicates(txs []*models.NormalizedTransaction) *matcher.DuplicateDetectionResult
}

// OwnerResolver finds or creates the owner of a commit
type OwnerResolver interface {
	Resolve(ctx context.Context, hints owner.Hints) (*models.Owner, error)
}

// Options wires the orchestrator's collaborators
type Options struct {
	Validator    DocumentValidator
	Extractor    Extractor
	Normalizer   Normalizer
	Detector     DuplicateFlagger
	Resolver     OwnerResolver
	Transactions store.TransactionStore

	// Workers bounds parallel normalization; values below 1 mean 1
	Workers int
	Logger  logger.Logger
	Now     func() time.Time
}

const totalSteps = 6

// Orchestrator runs ingestions. It holds no per-document state, so one instance
// serves concurrent requests.
type Orchestrator struct {
	validator    DocumentValidator
	extractor    Extractor
	normalizer   Normalizer
	detector     DuplicateFlagger
	resolver     OwnerResolver
	transactions store.TransactionStore
	workers      int
	logger       logger.Logger
	now          func() time.Time

	callbacksMu sync.RWMutex
	callbacks   []ProgressCallback
}

// New creates an Orchestrator; every collaborator is required
func New(opts Options) (*Orchestrator, error) {
	required := map[string]bool{
		"validator":    opts.Validator == nil,
		"extractor":    opts.Extractor == nil,
		"normalizer":   opts.Normalizer == nil,
		"detector":     opts.Detector == nil,
		"resolver":     opts.Resolver == nil,
		"transactions": opts.Transactions == nil,
	}
	for name, missing := range required {
		if missing {
			return nil, errors.ValidationError(errors.CodeMissingField, name, nil, nil).
				WithSuggestion("wire every ingestion collaborator before creating the orchestrator")
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		validator:    opts.Validator,
		extractor:    opts.Extractor,
		normalizer:   opts.Normalizer,
		detector:     opts.Detector,
		resolver:     opts.Resolver,
		transactions: opts.Transactions,
		workers:      workers,
		logger:       logger.OrGlobal(opts.Logger).WithComponent("ingest"),
		now:          now,
	}, nil
}

// AddProgressCallback adds a progress callback function
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.callbacksMu.Lock()
	defer o.callbacksMu.Unlock()
	o.callbacks = append(o.callbacks, callback)
}

// tracker reports progress for one ingestion call
type tracker struct {
	o        *Orchestrator
	progress Progress
}

func (o *Orchestrator) newTracker(fileName string) *tracker {
	return &tracker{o: o, progress: Progress{
		FileName:   fileName,
		TotalSteps: totalSteps,
		StartTime:  o.now(),
	}}
}

func (t *tracker) step(name string, completed int) {
	t.progress.CurrentStep = name
	t.progress.CompletedSteps = completed
	t.progress.ElapsedTime = t.o.now().Sub(t.progress.StartTime)
	t.progress.PercentComplete = float64(completed) / float64(t.progress.TotalSteps) * 100

	t.o.callbacksMu.RLock()
	callbacks := append([]ProgressCallback(nil), t.o.callbacks...)
	t.o.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(t.progress)
	}
}

// Ingest runs Prepare, applies the request's selection and runs Commit
func (o *Orchestrator) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := o.now()
	batch, rejected, err := o.Prepare(ctx, req.Document)
	if err != nil {
		return nil, err
	}

	if req.Selection != nil {
		if _, err := batch.Select(req.Selection); err != nil {
			return nil, err
		}
	} else {
		batch.SelectDefault()
	}

	hints := req.Hints
	if strings.TrimSpace(hints.ExternalRef) == "" {
		hints.ExternalRef = req.Document.DeclaredOwnerRef
	}

	result, err := o.Commit(ctx, batch, hints)
	if err != nil {
		return nil, err
	}

	result.FoundCount += len(rejected)
	result.Rejected = append(rejected, result.Rejected...)
	result.Duration = o.now().Sub(start)
	return result, nil
}

// Prepare validates, extracts, normalizes and flags one document. Normalization
// failures are returned as rejections; the batch holds the records that survived.
func (o *Orchestrator) Prepare(ctx context.Context, doc models.RawDocument) (*matcher.Batch, []Rejection, error) {
	op := logger.NewOperationLogger("prepare", o.logger).WithField("file_name", doc.FileName)
	progress := o.newTracker(doc.FileName)

	progress.step("Validating document", 0)
	if err := o.validator.Validate(doc); err != nil {
		op.Failure(err, "Document rejected")
		return nil, nil, err
	}

	progress.step("Extracting candidates", 1)
	candidates, err := o.extractor.Extract(ctx, doc)
	if err != nil {
		op.Failure(err, "Extraction failed")
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryExtraction, errors.CodeUnexpectedError, "extraction failed")
	}
	if len(candidates) == 0 {
		err := errors.ExtractionEmptyError(doc.FileName)
		op.Failure(err, "Nothing extracted")
		return nil, nil, err
	}
	op.Step("extracted", logger.Fields{"candidates": len(candidates)})

	progress.step("Normalizing records", 2)
	txs, sourceIndex, rejected, err := o.normalizeAll(ctx, candidates, doc.FileName)
	if err != nil {
		op.Failure(err, "Normalization interrupted")
		return nil, nil, err
	}

	progress.step("Flagging duplicates", 3)
	flags := o.detector.FlagDuplicates(txs)
	batch := matcher.NewBatch(doc.FileName, txs, sourceIndex, flags.Flags)

	op.Success("Document prepared", logger.Fields{
		"candidates": len(candidates),
		"normalized": len(txs),
		"rejected":   len(rejected),
		"duplicates": batch.DuplicateCount(),
	})
	return batch, rejected, nil
}

type normalized struct {
	tx  *models.NormalizedTransaction
	err error
}

// normalizeAll converts candidates in parallel and returns them in document order
func (o *Orchestrator) normalizeAll(
	ctx context.Context,
	candidates []*models.CandidateRecord,
	fileName string,
) ([]*models.NormalizedTransaction, []int, []Rejection, error) {
	results := make([]normalized, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tx, err := o.normalizer.Normalize(c, fileName)
			results[i] = normalized{tx: tx, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	txs := make([]*models.NormalizedTransaction, 0, len(candidates))
	sourceIndex := make([]int, 0, len(candidates))
	var rejected []Rejection
	for i, r := range results {
		if r.err != nil {
			rej := newRejection(StageNormalization, i, r.err)
			rej.Candidate = candidates[i]
			rejected = append(rejected, rej)
			o.logger.WithFields(logger.Fields{
				"candidate": i,
				"reason":    rej.Reason,
			}).Warn("Candidate rejected during normalization")
			continue
		}
		txs = append(txs, r.tx)
		sourceIndex = append(sourceIndex, i)
	}

	return txs, sourceIndex, rejected, nil
}

// Commit persists the batch's selection for the resolved owner. An empty
// selection returns at once without touching the resolver or the store.
func (o *Orchestrator) Commit(ctx context.Context, batch *matcher.Batch, hints owner.Hints) (*IngestResult, error) {
	if batch == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "batch", nil, nil)
	}

	start := o.now()
	op := logger.NewOperationLogger("commit", o.logger).WithField("file_name", batch.FileName)
	progress := o.newTracker(batch.FileName)

	result := &IngestResult{
		FileName:       batch.FileName,
		FoundCount:     batch.Len(),
		SelectedCount:  len(batch.Selection),
		DuplicateCount: batch.DuplicateCount(),
		Transactions:   []*models.NormalizedTransaction{},
	}

	if len(batch.Selection) == 0 {
		progress.step("Nothing selected", totalSteps)
		op.Success("Nothing selected, commit skipped", nil)
		result.Duration = o.now().Sub(start)
		return result, nil
	}

	progress.step("Resolving owner", 4)
	resolved, err := o.resolver.Resolve(ctx, hints)
	if err != nil {
		op.Failure(err, "Owner resolution failed")
		return nil, errors.WrapIfNeeded(err, errors.CategoryOwner, errors.CodeMissingOwnerRef, "owner resolution failed")
	}
	result.Owner = resolved

	progress.step("Persisting transactions", 5)
	selected := batch.Selected()
	pending := make([]*models.NormalizedTransaction, len(selected))
	for i, tx := range selected {
		copied := *tx
		copied.Tags = append([]string(nil), tx.Tags...)
		copied.OwnerRef = resolved.ID
		pending[i] = &copied
	}

	outcomes := o.transactions.InsertMany(ctx, pending)
	byIndex := make(map[int]store.InsertResult, len(outcomes))
	for _, outcome := range outcomes {
		byIndex[outcome.Index] = outcome
	}

	for i, tx := range pending {
		position := batch.Selection[i]
		outcome, ok := byIndex[i]
		switch {
		case !ok:
			result.Rejected = append(result.Rejected, o.persistenceRejection(batch, position, tx,
				errors.InternalError(errors.CodeStoreFailure, "insert transactions", nil)))
		case outcome.Err != nil:
			result.Rejected = append(result.Rejected, o.persistenceRejection(batch, position, tx, outcome.Err))
		default:
			tx.ID = outcome.ID
			result.Transactions = append(result.Transactions, tx)
		}
	}
	result.CommittedCount = len(result.Transactions)

	progress.step("Completed", totalSteps)
	result.Duration = o.now().Sub(start)
	op.Success("Commit completed", logger.Fields{
		"owner_id":  resolved.ID,
		"selected":  result.SelectedCount,
		"committed": result.CommittedCount,
		"rejected":  result.RejectedCount(),
	})

	return result, nil
}

func (o *Orchestrator) persistenceRejection(batch *matcher.Batch, position int, tx *models.NormalizedTransaction, err error) Rejection {
	rej := newRejection(StagePersistence, batch.SourceIndex[position], errors.PersistenceError(position, err))
	rej.Position = &position
	rej.Transaction = tx
	o.logger.WithFields(logger.Fields{
		"position":  position,
		"candidate": rej.Index,
		"reason":   rej.Reason,
	}).Warn("Transaction could not be persisted")
	return rej
}
