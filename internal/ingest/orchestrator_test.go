package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"takeout-ingestion-service/internal/categorizer"
	"takeout-ingestion-service/internal/matcher"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/normalizer"
	"takeout-ingestion-service/internal/owner"
	"takeout-ingestion-service/internal/parsers"
	"takeout-ingestion-service/internal/store"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	"github.com/shopspring/decimal"
)

const testDataDir = "../../testdata/takeout"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const threeRowExport = `<!DOCTYPE html>
<html><head><title>Google Pay</title></head><body>
<h1>Google Pay activity</h1>
<table>
  <tr class="transaction"><td>Starbucks Coffee</td><td>$10.00</td><td>01/15/2024</td></tr>
  <tr class="transaction"><td>Uber ride downtown</td><td>$25.50</td><td>01/16/2024</td></tr>
  <tr class="transaction"><td>Refund received</td><td>-$7.00</td><td>01/17/2024</td></tr>
</table>
</body></html>`

const duplicateExport = `<!DOCTYPE html>
<html><body><h1>Google Pay</h1>
<div class="activity">Starbucks Coffee $10.00 01/15/2024</div>
<div class="activity">STARBUCKS COFFEE $10.00 01/15/2024</div>
<div class="activity">Uber ride downtown $25.50 01/15/2024</div>
</body></html>`

// recordingResolver counts Resolve calls and delegates to a real resolver
type recordingResolver struct {
	mu    sync.Mutex
	calls int
	inner OwnerResolver
	err   error
}

func (r *recordingResolver) Resolve(ctx context.Context, hints owner.Hints) (*models.Owner, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.inner.Resolve(ctx, hints)
}

// recordingStore counts InsertMany calls and can fail chosen positions
type recordingStore struct {
	*store.Memory
	mu     sync.Mutex
	calls  int
	failAt map[int]bool
}

func (s *recordingStore) InsertMany(ctx context.Context, txs []*models.NormalizedTransaction) []store.InsertResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	results := make([]store.InsertResult, len(txs))
	for i, tx := range txs {
		if s.failAt[i] {
			results[i] = store.InsertResult{Index: i, Err: fmt.Errorf("disk full")}
			continue
		}
		r := s.Memory.InsertMany(ctx, []*models.NormalizedTransaction{tx})[0]
		r.Index = i
		results[i] = r
	}
	return results
}

// staticExtractor returns fixed candidates
type staticExtractor struct {
	candidates []*models.CandidateRecord
}

func (e *staticExtractor) Extract(context.Context, models.RawDocument) ([]*models.CandidateRecord, error) {
	return e.candidates, nil
}

type harness struct {
	orchestrator *Orchestrator
	resolver     *recordingResolver
	store        *recordingStore
}

func newHarness(t *testing.T, extractor Extractor) *harness {
	t.Helper()

	log := logger.Discard()
	now := func() time.Time { return fixedNow }

	validator, err := parsers.NewDocumentValidator(nil, log)
	if err != nil {
		t.Fatalf("NewDocumentValidator failed: %v", err)
	}
	if extractor == nil {
		extractor, err = parsers.NewHTMLExtractor(nil, log, now)
		if err != nil {
			t.Fatalf("NewHTMLExtractor failed: %v", err)
		}
	}
	norm, err := normalizer.New(nil, categorizer.Default(), log, now)
	if err != nil {
		t.Fatalf("normalizer.New failed: %v", err)
	}

	mem := store.NewMemory()
	st := &recordingStore{Memory: mem, failAt: map[int]bool{}}
	res := &recordingResolver{inner: owner.NewResolver(mem, log)}

	o, err := New(Options{
		Validator:    validator,
		Extractor:    extractor,
		Normalizer:   norm,
		Detector:     matcher.NewDuplicateDetector(nil),
		Resolver:     res,
		Transactions: st,
		Workers:      4,
		Logger:       log,
		Now:          now,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &harness{orchestrator: o, resolver: res, store: st}
}

func loadFixture(t *testing.T, name string) models.RawDocument {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(testDataDir, name))
	if err != nil {
		t.Fatalf("Failed to read fixture %s: %v", name, err)
	}
	return models.RawDocument{Content: string(content), FileName: name}
}

func TestIngest_ThreeRows(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.FoundCount != 3 || result.CommittedCount != 3 {
		t.Fatalf("Expected 3 found / 3 committed, got %s", result.Summary())
	}
	if result.PartialSuccess() {
		t.Error("Expected a complete commit")
	}

	expected := []struct {
		amount string
		txType models.TransactionType
	}{
		{"10", models.TransactionTypeExpense},
		{"25.5", models.TransactionTypeExpense},
		{"7", models.TransactionTypeIncome},
	}
	for i, want := range expected {
		tx := result.Transactions[i]
		if !tx.Amount.Equal(decimal.RequireFromString(want.amount)) || tx.Type != want.txType {
			t.Errorf("Transaction %d: expected %s %s, got %s %s", i, want.txType, want.amount, tx.Type, tx.Amount)
		}
		if tx.ID == "" || tx.OwnerRef != result.Owner.ID {
			t.Errorf("Transaction %d: expected id and owner ref, got %q / %q", i, tx.ID, tx.OwnerRef)
		}
		if !tx.ImportedFromDocument() {
			t.Errorf("Transaction %d: expected imported provenance", i)
		}
	}

	if result.Transactions[0].Category != models.CategoryFoodDining {
		t.Errorf("Expected Starbucks to be Food & Dining, got %s", result.Transactions[0].Category)
	}
	if len(h.store.Transactions()) != 3 {
		t.Errorf("Expected 3 stored transactions, got %d", len(h.store.Transactions()))
	}
}

func TestIngest_EmptySelectionHasNoSideEffects(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document:  models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Selection: []int{},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.CommittedCount != 0 || result.FoundCount != 3 {
		t.Errorf("Expected 3 found / 0 committed, got %s", result.Summary())
	}
	if h.resolver.calls != 0 {
		t.Errorf("Expected no owner resolution, got %d calls", h.resolver.calls)
	}
	if h.store.calls != 0 {
		t.Errorf("Expected no persistence calls, got %d", h.store.calls)
	}
	if h.store.OwnerCount() != 0 {
		t.Error("Expected no owner to be created")
	}
}

func TestIngest_ExplicitSelection(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document:  models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:     owner.Hints{ExternalRef: "0xabc"},
		Selection: []int{2, 0, 2},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.CommittedCount != 2 {
		t.Fatalf("Expected 2 committed, got %d", result.CommittedCount)
	}
	if !result.Transactions[0].Amount.Equal(decimal.NewFromInt(10)) {
		t.Error("Expected selected records in document order")
	}

	_, err = h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document:  models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:     owner.Hints{ExternalRef: "0xabc"},
		Selection: []int{3},
	})
	if !errors.IsCode(err, errors.CodeOutOfRange) {
		t.Errorf("Expected out_of_range for bad selection, got %v", err)
	}
}

func TestIngest_DefaultSelectionSkipsDuplicates(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: duplicateExport, FileName: "dupes.html"},
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.FoundCount != 3 || result.DuplicateCount != 1 || result.CommittedCount != 2 {
		t.Errorf("Expected 3 found / 1 duplicate / 2 committed, got %s", result.Summary())
	}
	if !result.PartialSuccess() {
		t.Error("Expected a deselected duplicate to make the result partial")
	}
}

func TestIngest_InvalidDocument(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: loadFixture(t, "not_takeout.html"),
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if !errors.IsCode(err, errors.CodeInvalidDocument) {
		t.Fatalf("Expected invalid_document, got %v", err)
	}
	if h.resolver.calls != 0 || h.store.calls != 0 {
		t.Error("Expected no owner or store calls for an invalid document")
	}
}

func TestIngest_NothingExtracted(t *testing.T) {
	h := newHarness(t, nil)

	doc := models.RawDocument{
		Content:  `<html><body><h1>Google Pay</h1><p>No activity yet.</p></body></html>`,
		FileName: "empty.html",
	}
	_, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{Document: doc})
	if !errors.IsCode(err, errors.CodeExtractionEmpty) {
		t.Fatalf("Expected extraction_empty, got %v", err)
	}
	if h.store.calls != 0 {
		t.Error("Expected no store calls")
	}

	empty := newHarness(t, &staticExtractor{})
	_, err = empty.orchestrator.Ingest(context.Background(), &IngestRequest{Document: doc})
	if !errors.IsCode(err, errors.CodeExtractionEmpty) {
		t.Errorf("Expected extraction_empty for an extractor returning nothing, got %v", err)
	}
}

func TestIngest_MissingOwnerFailsBeforeWrites(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
	})
	if !errors.IsCode(err, errors.CodeMissingOwnerRef) {
		t.Fatalf("Expected missing_owner_ref, got %v", err)
	}
	if h.resolver.calls != 1 {
		t.Errorf("Expected one resolution attempt, got %d", h.resolver.calls)
	}
	if h.store.calls != 0 {
		t.Errorf("Expected no persistence calls, got %d", h.store.calls)
	}
}

func TestIngest_DeclaredOwnerRef(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{
			Content:          threeRowExport,
			FileName:         "activity.html",
			DeclaredOwnerRef: "0xdeclared",
		},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Owner == nil || result.Owner.ExternalRef != "0xdeclared" {
		t.Errorf("Expected the declared ref to identify the owner, got %+v", result.Owner)
	}
}

func TestIngest_NormalizationRejections(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	candidates := []*models.CandidateRecord{
		{AmountValue: decimal.NewFromInt(10), TimestampValue: day, DescriptionText: "Coffee", Source: models.SourceExternal},
		{AmountValue: decimal.NewFromInt(20), TimestampValue: day, DescriptionText: "Taxi", StatusText: "reversed", Source: models.SourceExternal},
		{AmountValue: decimal.NewFromInt(-30), TimestampValue: day, DescriptionText: "Salary", Source: models.SourceExternal},
	}
	h := newHarness(t, &staticExtractor{candidates: candidates})

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.FoundCount != 3 || result.CommittedCount != 2 || result.RejectedCount() != 1 {
		t.Fatalf("Expected 3 found / 2 committed / 1 rejected, got %s", result.Summary())
	}
	rej := result.Rejected[0]
	if rej.Stage != StageNormalization || rej.Index != 1 || rej.Code != errors.CodeNormalizationFailed {
		t.Errorf("Unexpected rejection: %+v", rej)
	}
	if rej.Candidate != candidates[1] {
		t.Error("Expected rejection to carry the originating candidate")
	}
	if result.Transactions[0].Description != "Coffee" || result.Transactions[1].Description != "Salary" {
		t.Error("Expected surviving records in document order")
	}
	if summary := result.ErrorSummary(); summary.Total != 1 || !summary.HasCategory(errors.CategoryNormalization) {
		t.Errorf("Expected one normalization error in summary, got %+v", summary)
	}
}

func TestIngest_PartialPersistence(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failAt[1] = true

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.CommittedCount != 2 || result.RejectedCount() != 1 {
		t.Fatalf("Expected 2 committed / 1 rejected, got %s", result.Summary())
	}
	rej := result.Rejected[0]
	if rej.Stage != StagePersistence || rej.Index != 1 || rej.Code != errors.CodePersistenceFailed {
		t.Errorf("Unexpected rejection: %+v", rej)
	}
	if rej.Transaction == nil || !rej.Transaction.Amount.Equal(decimal.RequireFromString("25.5")) {
		t.Error("Expected rejection to carry the failed transaction")
	}
	if h.store.calls != 1 {
		t.Errorf("Expected a single InsertMany call, got %d", h.store.calls)
	}
	if !result.ErrorSummary().HasCode(errors.CodePersistenceFailed) {
		t.Error("Expected persistence failure in error summary")
	}
}

func TestIngest_RejectionIndexSpace(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	candidates := []*models.CandidateRecord{
		{AmountValue: decimal.NewFromInt(10), TimestampValue: day, DescriptionText: "Coffee", Source: models.SourceExternal},
		{AmountValue: decimal.NewFromInt(20), TimestampValue: day, DescriptionText: "Taxi", StatusText: "reversed", Source: models.SourceExternal},
		{AmountValue: decimal.NewFromInt(-30), TimestampValue: day, DescriptionText: "Salary", Source: models.SourceExternal},
	}
	h := newHarness(t, &staticExtractor{candidates: candidates})
	// batch position 1 holds candidate 2 once candidate 1 is rejected
	h.store.failAt[1] = true

	result, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.CommittedCount != 1 || result.RejectedCount() != 2 {
		t.Fatalf("Expected 1 committed / 2 rejected, got %s", result.Summary())
	}

	byStage := map[Stage]Rejection{}
	for _, rej := range result.Rejected {
		byStage[rej.Stage] = rej
	}

	norm, ok := byStage[StageNormalization]
	if !ok || norm.Index != 1 || norm.Position != nil {
		t.Errorf("Expected normalization rejection at candidate 1 with no position, got %+v", norm)
	}
	persisted, ok := byStage[StagePersistence]
	if !ok {
		t.Fatal("Expected a persistence rejection")
	}
	if persisted.Index != 2 {
		t.Errorf("Expected persistence rejection at candidate 2, got %d", persisted.Index)
	}
	if persisted.Position == nil || *persisted.Position != 1 {
		t.Errorf("Expected batch position 1, got %v", persisted.Position)
	}
	if persisted.Transaction == nil || persisted.Transaction.Description != "Salary" {
		t.Errorf("Expected the Salary record to be rejected, got %+v", persisted.Transaction)
	}
}

func TestIngest_OwnerIdempotentAcrossRuns(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := h.orchestrator.Ingest(ctx, &IngestRequest{
				Document: models.RawDocument{Content: threeRowExport, FileName: fmt.Sprintf("upload-%d.html", i)},
				Hints:    owner.Hints{ExternalRef: "0xshared"},
			})
			if err != nil {
				t.Errorf("Ingest failed: %v", err)
				return
			}
			ids[i] = result.Owner.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Fatalf("Expected one owner across runs, got %s and %s", ids[0], ids[i])
		}
	}
	if h.store.OwnerCount() != 1 {
		t.Errorf("Expected 1 owner, got %d", h.store.OwnerCount())
	}
}

func TestPrepareAndCommit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	batch, rejected, err := h.orchestrator.Prepare(ctx, loadFixture(t, "activity_table.html"))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if batch.Len() != 3 || len(rejected) != 0 {
		t.Fatalf("Expected 3 records and no rejections, got %d / %d", batch.Len(), len(rejected))
	}
	if len(batch.Selection) != 0 {
		t.Error("Expected Prepare to leave the selection empty")
	}

	result, err := h.orchestrator.Commit(ctx, batch, owner.Hints{ExternalRef: "0xabc"})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if result.CommittedCount != 0 || h.resolver.calls != 0 {
		t.Error("Expected an empty selection to commit nothing")
	}

	batch.SelectDefault()
	result, err = h.orchestrator.Commit(ctx, batch, owner.Hints{ExternalRef: "0xabc"})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if result.CommittedCount != 3 {
		t.Errorf("Expected 3 committed, got %d", result.CommittedCount)
	}
	for _, tx := range batch.Transactions {
		if tx.OwnerRef != "" || tx.ID != "" {
			t.Error("Commit should not modify the batch records")
		}
	}
}

func TestProgressCallbacks(t *testing.T) {
	h := newHarness(t, nil)

	var steps []string
	var last Progress
	h.orchestrator.AddProgressCallback(func(p Progress) {
		steps = append(steps, p.CurrentStep)
		last = p
	})

	_, err := h.orchestrator.Ingest(context.Background(), &IngestRequest{
		Document: models.RawDocument{Content: threeRowExport, FileName: "activity.html"},
		Hints:    owner.Hints{ExternalRef: "0xabc"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if len(steps) == 0 || steps[0] != "Validating document" {
		t.Fatalf("Unexpected steps: %v", steps)
	}
	if last.CurrentStep != "Completed" || last.PercentComplete != 100 {
		t.Errorf("Expected final progress at 100%%, got %+v", last)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error for missing collaborators")
	}
}

func TestIngestResult_MarshalJSON(t *testing.T) {
	result := &IngestResult{FileName: "a.html", FoundCount: 2, Duration: 1500 * time.Millisecond}
	data, err := result.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	for _, want := range []string{`"transactions":[]`, `"rejected":[]`, `"durationMs":1500`, `"foundCount":2`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %s in %s", want, data)
		}
	}
}
