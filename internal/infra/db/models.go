package db

import "time"

type TimestampAuditModel struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	Operation  string `gorm:"not null;index"`
	ResultJSON []byte `gorm:"type:jsonb"`
	Success    bool   `gorm:"not null"`
	Error      *string
	CreatedAt  time.Time `gorm:"not null;index"`
}

func (TimestampAuditModel) TableName() string { return "timestamp_audit_records" }

type BatchReportModel struct {
	BatchID     string    `gorm:"primaryKey;type:uuid"`
	Status      string    `gorm:"not null;index"`
	ReportJSON  []byte    `gorm:"type:jsonb;not null"`
	StartedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (BatchReportModel) TableName() string { return "batch_reports" }
