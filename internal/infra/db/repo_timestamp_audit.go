package db

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// TimestampAuditRepository is the durable, append-only audit trail. There is
// deliberately no update or delete path.
type TimestampAuditRepository struct {
	db *gorm.DB
}

func NewTimestampAuditRepository(db *gorm.DB) *TimestampAuditRepository {
	return &TimestampAuditRepository{db: db}
}

func (r *TimestampAuditRepository) Append(ctx context.Context, record domain.TimestampAuditRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	resultJSON, err := json.Marshal(record.Result)
	if err != nil {
		return domain.WrapError(domain.CodeBackendUnavailable, "encode audit result", err)
	}
	model := TimestampAuditModel{
		ID:         record.ID,
		Operation:  record.Operation,
		ResultJSON: resultJSON,
		Success:    record.Success,
		CreatedAt:  record.CreatedAt.UTC().Truncate(time.Microsecond),
	}
	if record.Error != "" {
		model.Error = &record.Error
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *TimestampAuditRepository) List(ctx context.Context, limit int) ([]domain.TimestampAuditRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []TimestampAuditModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TimestampAuditRecord, 0, len(models))
	for _, model := range models {
		record := domain.TimestampAuditRecord{
			ID:        model.ID,
			Operation: model.Operation,
			Success:   model.Success,
			CreatedAt: model.CreatedAt.UTC(),
		}
		if model.Error != nil {
			record.Error = *model.Error
		}
		if len(model.ResultJSON) > 0 {
			if err := json.Unmarshal(model.ResultJSON, &record.Result); err != nil {
				return nil, domain.WrapError(domain.CodeBackendUnavailable, "decode audit result", err)
			}
		}
		out = append(out, record)
	}
	return out, nil
}
