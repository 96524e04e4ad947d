package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/pdfdoc"
)

func batchDoc(id string) domain.BatchDocumentRequest {
	return domain.BatchDocumentRequest{
		DocumentID: id,
		Document:   pdfdoc.New([]byte("contract "+id), 1),
		Signatures: []domain.SignatureRequest{signatureRequest("sig1")},
	}
}

func waitBatch(t *testing.T, o *Orchestrator, batchID string) domain.BatchReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.Wait(ctx, batchID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	report, err := o.GetBatchReport(batchID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	return report
}

func TestBatchAllDocumentsSucceed(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	docs := []domain.BatchDocumentRequest{batchDoc("d1"), batchDoc("d2"), batchDoc("d3")}

	batchID, err := o.StartBatchSigning(context.Background(), docs, domain.BatchOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)

	p := report.Progress
	if p.Status != domain.BatchCompleted {
		t.Fatalf("status = %s", p.Status)
	}
	if p.ProcessedDocuments != 3 || p.SuccessfulDocuments != 3 || p.FailedDocuments != 0 || p.PendingDocuments != 0 {
		t.Fatalf("progress = %+v", p)
	}
	for id, state := range p.Documents {
		if state != domain.DocumentCompleted {
			t.Fatalf("document %s state = %s", id, state)
		}
	}
	if report.Statistics.TotalDuration <= 0 || report.Statistics.AverageDocumentDuration <= 0 {
		t.Fatalf("statistics = %+v", report.Statistics)
	}

	raw, err := o.SignedDocument(batchID, "d2")
	if err != nil {
		t.Fatalf("signed document: %v", err)
	}
	restored, err := pdfdoc.Parse(raw)
	if err != nil {
		t.Fatalf("parse signed output: %v", err)
	}
	if len(restored.Signatures()) != 1 {
		t.Fatal("signed output carries no signature")
	}
}

func TestBatchPartialProcessedEqualsSuccessfulPlusFailed(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	bad := batchDoc("bad")
	bad.Signatures[0].Placement.Page = 9

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("good"), bad},
		domain.BatchOptions{ContinueOnError: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)

	p := report.Progress
	if p.Status != domain.BatchPartial {
		t.Fatalf("status = %s", p.Status)
	}
	if p.ProcessedDocuments != p.SuccessfulDocuments+p.FailedDocuments {
		t.Fatalf("processed %d != successful %d + failed %d",
			p.ProcessedDocuments, p.SuccessfulDocuments, p.FailedDocuments)
	}
	if p.SuccessfulDocuments != 1 || p.FailedDocuments != 1 {
		t.Fatalf("progress = %+v", p)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %+v", report.Errors)
	}
	e := report.Errors[0]
	if e.BatchID != batchID || e.DocumentID != "bad" || e.Code != domain.CodeInvalidPlacement {
		t.Fatalf("error annotation = %+v", e)
	}
}

func TestBatchAllDocumentsFail(t *testing.T) {
	backend := newTestBackend(t)
	backend.fatalErr = domain.NewError(domain.CodeKeyPermissionDenied, "denied")
	o := NewOrchestrator(newTestSigner(t, backend))

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1"), batchDoc("d2")},
		domain.BatchOptions{ContinueOnError: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	if report.Progress.FailedDocuments != 2 {
		t.Fatalf("progress = %+v", report.Progress)
	}
}

func TestBatchEmptyRejected(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	_, err := o.StartBatchSigning(context.Background(), nil, domain.BatchOptions{})
	if domain.CodeOf(err) != domain.CodeBatchEmpty {
		t.Fatalf("expected BATCH_EMPTY, got %v", err)
	}
}

func TestBatchStructuralFailuresSettleInPreparation(t *testing.T) {
	backend := newTestBackend(t)
	o := NewOrchestrator(newTestSigner(t, backend))

	noDoc := domain.BatchDocumentRequest{DocumentID: "nil-doc", Signatures: []domain.SignatureRequest{signatureRequest("sig1")}}
	noSigs := domain.BatchDocumentRequest{DocumentID: "no-sigs", Document: pdfdoc.New([]byte("x"), 1)}

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{noDoc, noSigs}, domain.BatchOptions{ContinueOnError: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)

	if report.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	if atomic.LoadInt32(&backend.signs) != 0 {
		t.Fatal("structurally invalid documents reached the backend")
	}
	codes := map[string]string{}
	for _, e := range report.Errors {
		codes[e.DocumentID] = e.Code
	}
	if codes["nil-doc"] != domain.CodeMalformedDocument || codes["no-sigs"] != domain.CodeInvalidConfig {
		t.Fatalf("error codes = %v", codes)
	}
}

func TestPreparationFailureAbortsBatch(t *testing.T) {
	backend := newTestBackend(t)
	o := NewOrchestrator(newTestSigner(t, backend))

	noDoc := domain.BatchDocumentRequest{DocumentID: "nil-doc", Signatures: []domain.SignatureRequest{signatureRequest("sig1")}}
	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{noDoc, batchDoc("good")},
		domain.BatchOptions{ContinueOnError: false})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)

	p := report.Progress
	if p.Status != domain.BatchFailed {
		t.Fatalf("status = %s", p.Status)
	}
	if p.Documents["nil-doc"] != domain.DocumentFailed || p.Documents["good"] != domain.DocumentCancelled {
		t.Fatalf("documents = %v", p.Documents)
	}
	if p.SuccessfulDocuments != 0 {
		t.Fatalf("progress = %+v", p)
	}
	if atomic.LoadInt32(&backend.signs) != 0 {
		t.Fatal("documents after the aborting failure reached the backend")
	}
}

func TestPreOptimizeFailsPlacementsInPreparation(t *testing.T) {
	backend := newTestBackend(t)
	o := NewOrchestrator(newTestSigner(t, backend))

	bad := batchDoc("bad")
	bad.Signatures[0].Placement.Page = 9

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{bad, batchDoc("good")},
		domain.BatchOptions{PreOptimize: true, ContinueOnError: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)

	p := report.Progress
	if p.Status != domain.BatchPartial {
		t.Fatalf("status = %s", p.Status)
	}
	if p.Documents["bad"] != domain.DocumentFailed || p.Documents["good"] != domain.DocumentCompleted {
		t.Fatalf("documents = %v", p.Documents)
	}
	if len(report.Errors) != 1 || report.Errors[0].Code != domain.CodeInvalidPlacement {
		t.Fatalf("errors = %+v", report.Errors)
	}
	// Only the valid document may consume signing capacity.
	if got := atomic.LoadInt32(&backend.signs); got != 1 {
		t.Fatalf("backend called %d times, want 1", got)
	}
}

func TestBatchFirstPagePlacements(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))

	docs := make([]domain.BatchDocumentRequest, 0, 3)
	for i := 0; i < 3; i++ {
		req := signatureRequest("sig1")
		req.Placement.Page = 0
		req.Placement.Rect = domain.Rect{X: 100, Y: 700, Width: 200, Height: 50}
		docs = append(docs, domain.BatchDocumentRequest{
			DocumentID: fmt.Sprintf("d%d", i),
			Document:   pdfdoc.New([]byte(fmt.Sprintf("contract %d", i)), 1),
			Signatures: []domain.SignatureRequest{req},
		})
	}

	batchID, err := o.StartBatchSigning(context.Background(), docs,
		domain.BatchOptions{PreOptimize: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchCompleted {
		t.Fatalf("status = %s, errors = %+v", report.Progress.Status, report.Errors)
	}
	if report.Progress.SuccessfulDocuments != 3 {
		t.Fatalf("progress = %+v", report.Progress)
	}
}

func TestBatchDuplicateDocumentIDs(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("same"), batchDoc("same")},
		domain.BatchOptions{ContinueOnError: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchPartial {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	if report.Progress.SuccessfulDocuments != 1 || report.Progress.FailedDocuments != 1 {
		t.Fatalf("progress = %+v", report.Progress)
	}
}

func TestCancelBatchTrueExactlyOnce(t *testing.T) {
	backend := newTestBackend(t)
	backend.gate = make(chan struct{})
	o := NewOrchestrator(newTestSigner(t, backend))

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1"), batchDoc("d2"), batchDoc("d3")},
		domain.BatchOptions{MaxConcurrency: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := o.CancelBatch(batchID)
	if err != nil || !first {
		t.Fatalf("first cancel = (%v, %v), want (true, nil)", first, err)
	}
	second, err := o.CancelBatch(batchID)
	if err != nil || second {
		t.Fatalf("second cancel = (%v, %v), want (false, nil)", second, err)
	}

	close(backend.gate)
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchCancelled {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	for id, state := range report.Progress.Documents {
		if state == domain.DocumentPending || state == domain.DocumentActive {
			t.Fatalf("document %s left in state %s", id, state)
		}
	}

	// Terminal batches keep answering false.
	late, err := o.CancelBatch(batchID)
	if err != nil || late {
		t.Fatalf("cancel after terminal = (%v, %v), want (false, nil)", late, err)
	}
}

func TestCancelUnknownBatch(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	_, err := o.CancelBatch("nope")
	if domain.CodeOf(err) != domain.CodeBatchNotFound {
		t.Fatalf("expected BATCH_NOT_FOUND, got %v", err)
	}
}

func TestRetryBudgetAbsorbsRecoverableFailures(t *testing.T) {
	backend := newTestBackend(t)
	backend.failures = 2
	o := NewOrchestrator(newTestSigner(t, backend))

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1")},
		domain.BatchOptions{RetryBudget: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchCompleted {
		t.Fatalf("status = %s, errors = %+v", report.Progress.Status, report.Errors)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	backend := newTestBackend(t)
	backend.failures = 10
	o := NewOrchestrator(newTestSigner(t, backend))
	o.DefaultRetryBudget = 0

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1")}, domain.BatchOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	if len(report.Errors) != 1 || report.Errors[0].Code != domain.CodeNetwork {
		t.Fatalf("errors = %+v", report.Errors)
	}
	if !report.Errors[0].Recoverable {
		t.Fatal("surfaced error lost its recoverable flag")
	}
	if got := atomic.LoadInt32(&backend.signs); got != 1 {
		t.Fatalf("backend called %d times with a zero budget, want 1", got)
	}
}

func TestFatalFailureConsumesNoRetryBudget(t *testing.T) {
	backend := newTestBackend(t)
	backend.fatalErr = domain.NewError(domain.CodeKeyPermissionDenied, "denied")
	o := NewOrchestrator(newTestSigner(t, backend))

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1")},
		domain.BatchOptions{RetryBudget: 5})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	if got := atomic.LoadInt32(&backend.signs); got != 1 {
		t.Fatalf("fatal failure retried: backend called %d times", got)
	}
}

func TestStopOnFirstErrorCancelsRemaining(t *testing.T) {
	backend := newTestBackend(t)
	backend.fatalErr = domain.NewError(domain.CodeKeyPermissionDenied, "denied")
	o := NewOrchestrator(newTestSigner(t, backend))

	docs := make([]domain.BatchDocumentRequest, 0, 6)
	for i := 0; i < 6; i++ {
		docs = append(docs, batchDoc(fmt.Sprintf("d%d", i)))
	}
	batchID, err := o.StartBatchSigning(context.Background(), docs,
		domain.BatchOptions{MaxConcurrency: 1, ContinueOnError: false})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchFailed {
		t.Fatalf("status = %s", report.Progress.Status)
	}
	cancelled := 0
	for _, state := range report.Progress.Documents {
		if state == domain.DocumentCancelled {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Fatal("no pending documents were swept after the stop")
	}
}

func TestGetBatchReportUnknown(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	_, err := o.GetBatchReport("nope")
	if domain.CodeOf(err) != domain.CodeBatchNotFound {
		t.Fatalf("expected BATCH_NOT_FOUND, got %v", err)
	}
}

func TestHealthStatusThresholds(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	if got := o.GetHealthStatus(); got.State != domain.HealthHealthy || got.ActiveBatches != 0 {
		t.Fatalf("idle health = %+v", got)
	}

	fill := func(n int) {
		o.mu.Lock()
		o.batches = make(map[string]*batchState, n)
		for i := 0; i < n; i++ {
			o.batches[fmt.Sprintf("b%d", i)] = &batchState{status: domain.BatchSigning}
		}
		o.mu.Unlock()
	}

	fill(100)
	if got := o.GetHealthStatus(); got.State != domain.HealthHealthy {
		t.Fatalf("health at 100 = %+v", got)
	}
	fill(101)
	if got := o.GetHealthStatus(); got.State != domain.HealthDegraded {
		t.Fatalf("health at 101 = %+v", got)
	}
	fill(501)
	if got := o.GetHealthStatus(); got.State != domain.HealthUnhealthy {
		t.Fatalf("health at 501 = %+v", got)
	}
}

// immediateQueue runs every job inline in a goroutine, enough to exercise the
// queued dispatch path without a real queue.
type immediateQueue struct {
	handlers map[string]JobHandler
}

func (q *immediateQueue) DefineJob(name string, handler JobHandler, _ JobOptions) error {
	if q.handlers == nil {
		q.handlers = make(map[string]JobHandler)
	}
	q.handlers[name] = handler
	return nil
}

func (q *immediateQueue) Enqueue(_ context.Context, name string, payload []byte) (string, error) {
	handler := q.handlers[name]
	go func() { _ = handler(context.Background(), payload) }()
	return "job-1", nil
}

func (q *immediateQueue) JobStatus(string) (JobState, error) { return JobSucceeded, nil }

// droppedQueue accepts every unit and never runs it, like a broker that lost
// the deliveries.
type droppedQueue struct{}

func (droppedQueue) DefineJob(string, JobHandler, JobOptions) error { return nil }
func (droppedQueue) Enqueue(context.Context, string, []byte) (string, error) {
	return "job-1", nil
}
func (droppedQueue) JobStatus(string) (JobState, error) { return JobRunning, nil }

func TestQueuedBatchSettlesWhenUnitsAreLost(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	o.Queue = droppedQueue{}
	o.PollInterval = 5 * time.Millisecond
	o.QueueSettleTimeout = 25 * time.Millisecond

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1"), batchDoc("d2")},
		domain.BatchOptions{UseQueue: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)

	p := report.Progress
	if p.Status != domain.BatchFailed {
		t.Fatalf("status = %s", p.Status)
	}
	if p.FailedDocuments != 2 || p.PendingDocuments != 0 {
		t.Fatalf("progress = %+v", p)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("errors = %+v", report.Errors)
	}
	for _, e := range report.Errors {
		if e.Code != domain.CodeTimeout {
			t.Fatalf("error code = %s", e.Code)
		}
	}
}

func TestBatchQueuedDispatch(t *testing.T) {
	o := NewOrchestrator(newTestSigner(t, newTestBackend(t)))
	o.Queue = &immediateQueue{}
	o.PollInterval = 10 * time.Millisecond

	batchID, err := o.StartBatchSigning(context.Background(),
		[]domain.BatchDocumentRequest{batchDoc("d1"), batchDoc("d2")},
		domain.BatchOptions{UseQueue: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	report := waitBatch(t, o, batchID)
	if report.Progress.Status != domain.BatchCompleted {
		t.Fatalf("status = %s, errors = %+v", report.Progress.Status, report.Errors)
	}
	if report.Progress.SuccessfulDocuments != 2 {
		t.Fatalf("progress = %+v", report.Progress)
	}
}
