package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/metrics"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
)

const queuedSignJob = "batch_sign_document"

// Orchestrator drives batch signing. Each batch is a state machine: preparing
// then signing, ending in completed, partial, failed, or cancelled. Per
// document the states are pending, active, and one of completed, failed, or
// cancelled. Processed always equals successful plus failed; cancelled
// documents were never processed.
type Orchestrator struct {
	Signer *DocumentSigner
	Queue  JobQueue
	Repo   BatchRepository
	Clock  Clock

	DefaultConcurrency int
	DefaultRetryBudget int
	PollInterval       time.Duration
	// QueueSettleTimeout bounds how long a queued batch may wait for its
	// dispatched units. Units still unreported at the deadline fail with
	// TIMEOUT so a lost queue delivery cannot keep a batch open forever.
	QueueSettleTimeout time.Duration

	mu      sync.RWMutex
	batches map[string]*batchState

	defineOnce sync.Once
	defineErr  error
}

func NewOrchestrator(signer *DocumentSigner) *Orchestrator {
	return &Orchestrator{
		Signer:             signer,
		Clock:              time.Now,
		DefaultConcurrency: 4,
		DefaultRetryBudget: 2,
		PollInterval:       500 * time.Millisecond,
		QueueSettleTimeout: 10 * time.Minute,
		batches:            make(map[string]*batchState),
	}
}

type batchState struct {
	mu sync.Mutex

	id       string
	status   domain.BatchStatus
	opts     domain.BatchOptions
	docs     map[string]domain.DocumentState
	requests map[string]domain.BatchDocumentRequest
	order    []string
	results  map[string][]byte
	errors   []*domain.Error

	total         int
	processed     int
	successful    int
	failed        int
	cancelledDocs int

	started     time.Time
	completedAt *time.Time
	durations   []time.Duration

	cancel          context.CancelFunc
	cancelRequested bool
	stopped         bool
	finalized       bool
	done            chan struct{}
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// StartBatchSigning validates the batch, registers its state, and starts the
// signing phase asynchronously. The returned id is immediately queryable.
func (o *Orchestrator) StartBatchSigning(ctx context.Context, docs []domain.BatchDocumentRequest, opts domain.BatchOptions) (string, error) {
	if len(docs) == 0 {
		return "", domain.NewError(domain.CodeBatchEmpty, "batch holds no documents")
	}

	state := &batchState{
		id:       uuid.NewString(),
		status:   domain.BatchPreparing,
		opts:     opts,
		docs:     make(map[string]domain.DocumentState, len(docs)),
		requests: make(map[string]domain.BatchDocumentRequest, len(docs)),
		results:  make(map[string][]byte),
		total:    len(docs),
		started:  o.now(),
		done:     make(chan struct{}),
	}

	// Preparation: structural validation only. Invalid documents fail here
	// without consuming retry budget; valid ones wait as pending. Unless
	// ContinueOnError is set, the first preparation failure stops the batch
	// and the remaining documents settle as cancelled.
	failPrep := func(id string, err *domain.Error) {
		state.docs[id] = domain.DocumentFailed
		state.processed++
		state.failed++
		state.errors = append(state.errors, err.WithBatch(state.id).WithDocument(id))
		if !opts.ContinueOnError {
			state.stopped = true
		}
	}
	for _, doc := range docs {
		id := doc.DocumentID
		if id == "" {
			id = uuid.NewString()
		}
		if state.stopped {
			if _, seen := state.docs[id]; !seen {
				state.docs[id] = domain.DocumentCancelled
				state.cancelledDocs++
			}
			continue
		}
		if _, dup := state.docs[id]; dup {
			failPrep(id, domain.Errorf(domain.CodeMalformedDocument, "duplicate document id %q", id))
			continue
		}
		if doc.Document == nil {
			failPrep(id, domain.NewError(domain.CodeMalformedDocument, "document is nil"))
			continue
		}
		if len(doc.Signatures) == 0 {
			failPrep(id, domain.NewError(domain.CodeInvalidConfig, "document requests no signatures"))
			continue
		}
		if opts.PreOptimize {
			if err := dryRunPlacements(doc.Document, doc.Signatures); err != nil {
				failPrep(id, asCoded(err))
				continue
			}
		}
		state.docs[id] = domain.DocumentPending
		state.requests[id] = doc
		state.order = append(state.order, id)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	state.status = domain.BatchSigning

	o.mu.Lock()
	if o.batches == nil {
		o.batches = make(map[string]*batchState)
	}
	o.batches[state.id] = state
	o.mu.Unlock()
	metrics.ActiveBatches.Inc()

	if opts.UseQueue && o.Queue != nil {
		if err := o.startQueued(ctx, state); err != nil {
			o.finalize(state)
			return state.id, err
		}
	} else {
		go o.runDirect(runCtx, state)
	}
	return state.id, nil
}

func (o *Orchestrator) concurrency(opts domain.BatchOptions) int {
	if opts.MaxConcurrency > 0 {
		return opts.MaxConcurrency
	}
	if o.DefaultConcurrency > 0 {
		return o.DefaultConcurrency
	}
	return 1
}

func (o *Orchestrator) retryBudget(opts domain.BatchOptions) int {
	if opts.RetryBudget > 0 {
		return opts.RetryBudget
	}
	return o.DefaultRetryBudget
}

func (o *Orchestrator) runDirect(ctx context.Context, state *batchState) {
	sem := semaphore.NewWeighted(int64(o.concurrency(state.opts)))
	var wg sync.WaitGroup

	for _, docID := range state.order {
		state.mu.Lock()
		halted := state.cancelRequested || state.stopped
		pending := state.docs[docID] == domain.DocumentPending
		if halted && pending {
			state.docs[docID] = domain.DocumentCancelled
			state.cancelledDocs++
		}
		state.mu.Unlock()
		if halted || !pending {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			state.mu.Lock()
			if state.docs[docID] == domain.DocumentPending {
				state.docs[docID] = domain.DocumentCancelled
				state.cancelledDocs++
			}
			state.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(docID string) {
			defer wg.Done()
			defer sem.Release(1)
			o.processDocument(ctx, state, docID)
		}(docID)
	}

	wg.Wait()
	o.finalize(state)
}

// processDocument runs one unit through the signer, retrying recoverable
// failures against the batch retry budget. Fatal failures consume no budget.
func (o *Orchestrator) processDocument(ctx context.Context, state *batchState, docID string) {
	state.mu.Lock()
	if state.cancelRequested || state.stopped || state.docs[docID] != domain.DocumentPending {
		if state.docs[docID] == domain.DocumentPending {
			state.docs[docID] = domain.DocumentCancelled
			state.cancelledDocs++
		}
		state.mu.Unlock()
		return
	}
	state.docs[docID] = domain.DocumentActive
	req := state.requests[docID]
	opts := state.opts
	state.mu.Unlock()

	budget := o.retryBudget(opts)
	started := time.Now()

	var signed domain.Document
	var err error
	for attempt := 0; ; attempt++ {
		signed, err = o.Signer.SignDocument(ctx, req.Document, req.Signatures, opts.ParallelSigning)
		if err == nil {
			break
		}
		if ctx.Err() != nil || !domain.IsRecoverable(err) || attempt >= budget {
			break
		}
		logger.L().Debug("retrying document after recoverable failure",
			zap.String("batch_id", state.id),
			zap.String("document_id", docID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.docs[docID] != domain.DocumentActive {
		// The queue monitor already settled this unit after its deadline.
		return
	}
	if err != nil && ctx.Err() != nil && state.cancelRequested {
		state.docs[docID] = domain.DocumentCancelled
		state.cancelledDocs++
		return
	}
	if err != nil {
		state.docs[docID] = domain.DocumentFailed
		state.processed++
		state.failed++
		state.errors = append(state.errors, asCoded(err).WithBatch(state.id).WithDocument(docID))
		if !opts.ContinueOnError {
			state.stopped = true
		}
		return
	}
	state.docs[docID] = domain.DocumentCompleted
	state.processed++
	state.successful++
	state.results[docID] = signed.Bytes()
	state.durations = append(state.durations, time.Since(started))
}

// dryRunPlacements threads every requested field through a scratch copy of
// the document. Placement conflicts surface during preparation instead of
// consuming signing capacity; the input document is never modified.
func dryRunPlacements(doc domain.Document, sigs []domain.SignatureRequest) error {
	scratch := doc
	for _, sig := range sigs {
		next, err := scratch.AddField(sig.Placement.FieldName, sig.Placement.Page, sig.Placement.Rect)
		if err != nil {
			return err
		}
		scratch = next
	}
	return nil
}

func asCoded(err error) *domain.Error {
	if coded, ok := err.(*domain.Error); ok {
		return coded
	}
	return domain.WrapError(domain.CodeSigningFailed, "document signing failed", err)
}

// finalize settles the terminal status exactly once.
func (o *Orchestrator) finalize(state *batchState) {
	state.mu.Lock()
	if state.finalized {
		state.mu.Unlock()
		return
	}
	state.finalized = true

	switch {
	case state.cancelRequested:
		state.status = domain.BatchCancelled
	case state.successful == state.total:
		state.status = domain.BatchCompleted
	case state.successful == 0:
		state.status = domain.BatchFailed
	default:
		state.status = domain.BatchPartial
	}
	now := o.now()
	state.completedAt = &now
	report := reportLocked(state)
	status := state.status
	state.mu.Unlock()

	close(state.done)
	metrics.ActiveBatches.Dec()
	metrics.BatchesTotal.WithLabelValues(string(status)).Inc()

	if o.Repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.Repo.Save(ctx, report); err != nil {
			logger.L().Warn("persist batch report failed",
				zap.String("batch_id", state.id), zap.Error(err))
		}
	}
}

// CancelBatch requests cooperative cancellation. Exactly one call observes
// true; later calls and calls on terminal batches observe false. Documents
// already signed stay signed.
func (o *Orchestrator) CancelBatch(batchID string) (bool, error) {
	o.mu.RLock()
	state, ok := o.batches[batchID]
	o.mu.RUnlock()
	if !ok {
		return false, domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", batchID)
	}

	state.mu.Lock()
	if state.finalized || state.cancelRequested {
		state.mu.Unlock()
		return false, nil
	}
	state.cancelRequested = true
	cancel := state.cancel
	state.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true, nil
}

func (o *Orchestrator) GetBatchProgress(batchID string) (domain.BatchProgress, error) {
	report, err := o.GetBatchReport(batchID)
	if err != nil {
		return domain.BatchProgress{}, err
	}
	return report.Progress, nil
}

func (o *Orchestrator) GetBatchReport(batchID string) (domain.BatchReport, error) {
	o.mu.RLock()
	state, ok := o.batches[batchID]
	o.mu.RUnlock()
	if !ok {
		if o.Repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return o.Repo.Get(ctx, batchID)
		}
		return domain.BatchReport{}, domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", batchID)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return reportLocked(state), nil
}

func reportLocked(state *batchState) domain.BatchReport {
	docs := make(map[string]domain.DocumentState, len(state.docs))
	for id, st := range state.docs {
		docs[id] = st
	}
	progress := domain.BatchProgress{
		BatchID:             state.id,
		Status:              state.status,
		TotalDocuments:      state.total,
		ProcessedDocuments:  state.processed,
		SuccessfulDocuments: state.successful,
		FailedDocuments:     state.failed,
		PendingDocuments:    state.total - state.processed - state.cancelledDocs,
		Documents:           docs,
		StartedAt:           state.started,
		CompletedAt:         state.completedAt,
	}

	var stats domain.BatchStatistics
	if state.completedAt != nil {
		stats.TotalDuration = state.completedAt.Sub(state.started)
	}
	if len(state.durations) > 0 {
		var sum time.Duration
		for _, d := range state.durations {
			sum += d
		}
		stats.AverageDocumentDuration = sum / time.Duration(len(state.durations))
	}

	errs := make([]*domain.Error, len(state.errors))
	copy(errs, state.errors)
	return domain.BatchReport{Progress: progress, Errors: errs, Statistics: stats}
}

// SignedDocument returns the signed bytes of a completed document.
func (o *Orchestrator) SignedDocument(batchID, documentID string) ([]byte, error) {
	o.mu.RLock()
	state, ok := o.batches[batchID]
	o.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", batchID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	result, ok := state.results[documentID]
	if !ok {
		return nil, domain.Errorf(domain.CodeBatchNotFound,
			"batch %q has no signed document %q", batchID, documentID)
	}
	return result, nil
}

// Wait blocks until the batch settles or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context, batchID string) error {
	o.mu.RLock()
	state, ok := o.batches[batchID]
	o.mu.RUnlock()
	if !ok {
		return domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", batchID)
	}
	select {
	case <-state.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetHealthStatus grades the orchestrator by in-flight load. Past 100 active
// batches the service is degraded, past 500 unhealthy.
func (o *Orchestrator) GetHealthStatus() domain.HealthStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	active := 0
	for _, state := range o.batches {
		state.mu.Lock()
		if !state.finalized {
			active++
		}
		state.mu.Unlock()
	}

	status := domain.HealthStatus{State: domain.HealthHealthy, ActiveBatches: active}
	switch {
	case active > 500:
		status.State = domain.HealthUnhealthy
	case active > 100:
		status.State = domain.HealthDegraded
	}
	return status
}

type queuedDocPayload struct {
	BatchID    string `json:"batch_id"`
	DocumentID string `json:"document_id"`
}

// startQueued dispatches every pending document to the job queue and leaves a
// monitor to settle the batch once all units report in.
func (o *Orchestrator) startQueued(ctx context.Context, state *batchState) error {
	o.defineOnce.Do(func() {
		o.defineErr = o.Queue.DefineJob(queuedSignJob, o.handleQueuedDocument, JobOptions{
			Concurrency: o.concurrency(state.opts),
		})
	})
	if o.defineErr != nil {
		return domain.WrapError(domain.CodeBackendUnavailable, "define signing job", o.defineErr)
	}

	for _, docID := range state.order {
		payload, err := json.Marshal(queuedDocPayload{BatchID: state.id, DocumentID: docID})
		if err != nil {
			return domain.WrapError(domain.CodeSigningFailed, "encode job payload", err)
		}
		if _, err := o.Queue.Enqueue(ctx, queuedSignJob, payload); err != nil {
			state.mu.Lock()
			if state.docs[docID] == domain.DocumentPending {
				state.docs[docID] = domain.DocumentFailed
				state.processed++
				state.failed++
				state.errors = append(state.errors,
					domain.WrapError(domain.CodeBackendUnavailable, "enqueue document", err).
						WithBatch(state.id).WithDocument(docID))
			}
			state.mu.Unlock()
		}
	}

	go o.monitorQueued(state)
	return nil
}

func (o *Orchestrator) handleQueuedDocument(ctx context.Context, payload []byte) error {
	var p queuedDocPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.WrapError(domain.CodeSigningFailed, "decode job payload", err)
	}
	o.mu.RLock()
	state, ok := o.batches[p.BatchID]
	o.mu.RUnlock()
	if !ok {
		return domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", p.BatchID)
	}
	o.processDocument(ctx, state, p.DocumentID)
	return nil
}

func (o *Orchestrator) monitorQueued(state *batchState) {
	interval := o.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	settleTimeout := o.QueueSettleTimeout
	if settleTimeout <= 0 {
		settleTimeout = 10 * time.Minute
	}
	deadline := time.Now().Add(settleTimeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		state.mu.Lock()
		settled := state.processed+state.cancelledDocs >= state.total
		if state.cancelRequested {
			// Queued units not yet picked up will never run; sweep them.
			for id, st := range state.docs {
				if st == domain.DocumentPending {
					state.docs[id] = domain.DocumentCancelled
					state.cancelledDocs++
				}
			}
			settled = state.processed+state.cancelledDocs >= state.total
		}
		if !settled && time.Now().After(deadline) {
			// Units the queue lost would keep the batch open forever. Fail
			// them and settle; a late handler sees a non-active state and
			// leaves the counts alone.
			for id, st := range state.docs {
				if st == domain.DocumentPending || st == domain.DocumentActive {
					state.docs[id] = domain.DocumentFailed
					state.processed++
					state.failed++
					state.errors = append(state.errors,
						domain.Errorf(domain.CodeTimeout, "document %q never reported back from the queue", id).
							WithBatch(state.id).WithDocument(id))
				}
			}
			settled = true
		}
		state.mu.Unlock()
		if settled {
			o.finalize(state)
			return
		}
	}
}
