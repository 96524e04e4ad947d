package db

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// BatchReportRepository stores terminal batch reports as documents. The live
// state machine never touches the database; only settled reports land here.
type BatchReportRepository struct {
	db *gorm.DB
}

func NewBatchReportRepository(db *gorm.DB) *BatchReportRepository {
	return &BatchReportRepository{db: db}
}

func (r *BatchReportRepository) Save(ctx context.Context, report domain.BatchReport) error {
	if r.db == nil {
		return errDBUnavailable
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return domain.WrapError(domain.CodeBackendUnavailable, "encode batch report", err)
	}
	model := BatchReportModel{
		BatchID:     report.Progress.BatchID,
		Status:      string(report.Progress.Status),
		ReportJSON:  reportJSON,
		StartedAt:   report.Progress.StartedAt.UTC(),
		CompletedAt: report.Progress.CompletedAt,
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *BatchReportRepository) Get(ctx context.Context, batchID string) (domain.BatchReport, error) {
	if r.db == nil {
		return domain.BatchReport{}, errDBUnavailable
	}
	var model BatchReportModel
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.BatchReport{}, domain.Errorf(domain.CodeBatchNotFound, "batch %q not found", batchID)
	}
	if err != nil {
		return domain.BatchReport{}, err
	}
	var report domain.BatchReport
	if err := json.Unmarshal(model.ReportJSON, &report); err != nil {
		return domain.BatchReport{}, domain.WrapError(domain.CodeBackendUnavailable, "decode batch report", err)
	}
	return report, nil
}
