package recordmem

import (
	"context"
	"sync"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// In-memory repositories backing no-db mode. Same contracts as the Postgres
// repositories, bounded so a long-lived process does not grow without limit.

const maxAuditRecords = 10000

type AuditRepository struct {
	mu      sync.Mutex
	records []domain.TimestampAuditRecord
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(_ context.Context, record domain.TimestampAuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	if len(r.records) > maxAuditRecords {
		r.records = r.records[len(r.records)-maxAuditRecords:]
	}
	return nil
}

func (r *AuditRepository) List(_ context.Context, limit int) ([]domain.TimestampAuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.records
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]domain.TimestampAuditRecord, len(records))
	copy(out, records)
	return out, nil
}

type BatchRepository struct {
	mu      sync.RWMutex
	reports map[string]domain.BatchReport
}

func NewBatchRepository() *BatchRepository {
	return &BatchRepository{reports: make(map[string]domain.BatchReport)}
}

func (r *BatchRepository) Save(_ context.Context, report domain.BatchReport) error {
	r.mu.Lock()
	r.reports[report.Progress.BatchID] = report
	r.mu.Unlock()
	return nil
}

func (r *BatchRepository) Get(_ context.Context, batchID string) (domain.BatchReport, error) {
	r.mu.RLock()
	report, ok := r.reports[batchID]
	r.mu.RUnlock()
	if !ok {
		return domain.BatchReport{}, domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", batchID)
	}
	return report, nil
}
