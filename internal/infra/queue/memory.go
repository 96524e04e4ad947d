package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/usecase"
)

type jobDef struct {
	handler usecase.JobHandler
	opts    usecase.JobOptions
	sem     *semaphore.Weighted
}

// Memory is the in-process job queue used when no external worker fleet is
// wired in. Jobs run on goroutines bounded per job name; state is lost on
// restart, which is acceptable because batch state is re-creatable from the
// orchestrator's durable report.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*jobDef
	status map[string]usecase.JobState
	wg     sync.WaitGroup
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*jobDef),
		status: make(map[string]usecase.JobState),
	}
}

func (q *Memory) DefineJob(name string, handler usecase.JobHandler, opts usecase.JobOptions) error {
	if name == "" || handler == nil {
		return domain.NewError(domain.CodeInvalidConfig, "job name and handler are required")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[name]; exists {
		return domain.Errorf(domain.CodeInvalidConfig, "job %q already defined", name)
	}
	q.jobs[name] = &jobDef{
		handler: handler,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
	return nil
}

func (q *Memory) Enqueue(ctx context.Context, name string, payload []byte) (string, error) {
	q.mu.Lock()
	def, ok := q.jobs[name]
	if !ok || q.closed {
		q.mu.Unlock()
		if q.closed {
			return "", domain.NewError(domain.CodeBackendUnavailable, "queue is closed")
		}
		return "", domain.Errorf(domain.CodeInvalidConfig, "job %q is not defined", name)
	}
	jobID := uuid.NewString()
	q.status[jobID] = usecase.JobQueued
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(def, name, jobID, payload)
	return jobID, nil
}

func (q *Memory) run(def *jobDef, name, jobID string, payload []byte) {
	defer q.wg.Done()

	// Jobs outlive the enqueuing request, so they run off a fresh context.
	ctx := context.Background()
	if err := def.sem.Acquire(ctx, 1); err != nil {
		q.setStatus(jobID, usecase.JobFailed)
		return
	}
	defer def.sem.Release(1)

	q.setStatus(jobID, usecase.JobRunning)

	var err error
	for attempt := 0; attempt <= def.opts.MaxRetries; attempt++ {
		runCtx := ctx
		var cancel context.CancelFunc
		if def.opts.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, def.opts.Timeout)
		}
		err = def.handler(runCtx, payload)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			q.setStatus(jobID, usecase.JobSucceeded)
			return
		}
		if !domain.IsRecoverable(err) {
			break
		}
	}

	logger.L().Warn("job failed",
		zap.String("job", name), zap.String("job_id", jobID), zap.Error(err))
	q.setStatus(jobID, usecase.JobFailed)
}

func (q *Memory) setStatus(jobID string, state usecase.JobState) {
	q.mu.Lock()
	q.status[jobID] = state
	q.mu.Unlock()
}

func (q *Memory) JobStatus(jobID string) (usecase.JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, ok := q.status[jobID]
	if !ok {
		return "", domain.Errorf(domain.CodeInvalidConfig, "unknown job id %q", jobID)
	}
	return state, nil
}

// Close refuses new work and waits for in-flight jobs.
func (q *Memory) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
