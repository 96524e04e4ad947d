package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
)

// AuditTrail appends timestamp operation records. Append-only by design:
// identical operation and result pairs are recorded again, never collapsed,
// so the trail reads as a faithful event sequence.
type AuditTrail struct {
	Repo  AuditRecordRepository
	Clock Clock
}

func NewAuditTrail(repo AuditRecordRepository, clock Clock) *AuditTrail {
	return &AuditTrail{Repo: repo, Clock: clock}
}

// Record satisfies the timestamp client's audit sink. Persistence failures
// are logged and swallowed; auditing must never fail the operation it
// describes.
func (t *AuditTrail) Record(ctx context.Context, operation string, result map[string]any, success bool, errMsg string) {
	if t == nil || t.Repo == nil {
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	record := domain.TimestampAuditRecord{
		ID:        uuid.NewString(),
		Operation: operation,
		Result:    result,
		Success:   success,
		Error:     errMsg,
		CreatedAt: t.now().UTC(),
	}
	if err := t.Repo.Append(ctx, record); err != nil {
		logger.L().Warn("audit record append failed",
			zap.String("operation", operation), zap.Error(err))
	}
}

// Records returns the most recent entries, newest last.
func (t *AuditTrail) Records(ctx context.Context, limit int) ([]domain.TimestampAuditRecord, error) {
	if t == nil || t.Repo == nil {
		return nil, nil
	}
	return t.Repo.List(ctx, limit)
}

func (t *AuditTrail) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}
