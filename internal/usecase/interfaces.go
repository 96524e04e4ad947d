package usecase

import (
	"context"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

type Clock func() time.Time

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

type JobOptions struct {
	MaxRetries  int
	Timeout     time.Duration
	Concurrency int
}

type JobHandler func(ctx context.Context, payload []byte) error

// JobQueue is the asynchronous execution surface behind queued batch mode.
// Handlers are registered once per job name; enqueues after that dispatch to
// them with the queue's own retry and concurrency controls.
type JobQueue interface {
	DefineJob(name string, handler JobHandler, opts JobOptions) error
	Enqueue(ctx context.Context, name string, payload []byte) (string, error)
	JobStatus(jobID string) (JobState, error)
}

// AuditRecordRepository stores timestamp audit records append-only. There is
// no update or delete; duplicates of the same operation are expected.
type AuditRecordRepository interface {
	Append(ctx context.Context, record domain.TimestampAuditRecord) error
	List(ctx context.Context, limit int) ([]domain.TimestampAuditRecord, error)
}

// BatchRepository persists terminal batch reports for later retrieval. The
// live state machine stays in memory; this is the durable trail.
type BatchRepository interface {
	Save(ctx context.Context, report domain.BatchReport) error
	Get(ctx context.Context, batchID string) (domain.BatchReport, error)
}

// PolicyGate answers whether a signing request may proceed. A nil gate means
// everything is allowed.
type PolicyGate interface {
	Allow(ctx context.Context, input map[string]any) (bool, []string, error)
}
