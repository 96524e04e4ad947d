package domain

import "time"

type BatchStatus string

const (
	BatchPreparing BatchStatus = "preparing"
	BatchSigning   BatchStatus = "signing"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchPartial, BatchFailed, BatchCancelled:
		return true
	default:
		return false
	}
}

type DocumentState string

const (
	DocumentPending   DocumentState = "pending"
	DocumentActive    DocumentState = "active"
	DocumentCompleted DocumentState = "completed"
	DocumentFailed    DocumentState = "failed"
	DocumentCancelled DocumentState = "cancelled"
)

// SignatureRequest is one signature to apply to a document. The certificate
// chain rides along for backends that cannot produce it themselves.
type SignatureRequest struct {
	Placement Placement
	KeyRef    SigningKeyRef
	CertDER   []byte
	ChainDER  [][]byte
	Timestamp *TimestampRequestOptions
}

// BatchDocumentRequest is one document plus its ordered signature list.
// Sequential application threads each signature's output document into the
// next one so multiple signatures compose.
type BatchDocumentRequest struct {
	DocumentID string
	Document   Document
	Signatures []SignatureRequest
}

type BatchOptions struct {
	// ParallelSigning applies a document's signatures concurrently. Only
	// safe for independent signatures; that judgement is the caller's.
	ParallelSigning bool
	// MaxConcurrency bounds concurrent document units. Zero means the
	// orchestrator default.
	MaxConcurrency  int
	RetryBudget     int
	ContinueOnError bool
	// UseQueue dispatches to the asynchronous job queue instead of
	// in-process workers.
	UseQueue bool
	// PreOptimize dry-runs every placement during preparation so field
	// conflicts fail the document before it reaches a signing backend.
	PreOptimize bool
}

type BatchProgress struct {
	BatchID             string                   `json:"batch_id"`
	Status              BatchStatus              `json:"status"`
	TotalDocuments      int                      `json:"total_documents"`
	ProcessedDocuments  int                      `json:"processed_documents"`
	SuccessfulDocuments int                      `json:"successful_documents"`
	FailedDocuments     int                      `json:"failed_documents"`
	PendingDocuments    int                      `json:"pending_documents"`
	Documents           map[string]DocumentState `json:"documents"`
	StartedAt           time.Time                `json:"started_at"`
	CompletedAt         *time.Time               `json:"completed_at,omitempty"`
}

type BatchStatistics struct {
	TotalDuration           time.Duration `json:"total_duration"`
	AverageDocumentDuration time.Duration `json:"average_document_duration"`
}

type BatchReport struct {
	Progress   BatchProgress   `json:"progress"`
	Errors     []*Error        `json:"errors,omitempty"`
	Statistics BatchStatistics `json:"statistics"`
}

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

type HealthStatus struct {
	State         HealthState `json:"state"`
	ActiveBatches int         `json:"active_batches"`
}
