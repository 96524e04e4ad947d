package domain

import (
	"crypto/x509"
	"math/big"
	"time"
)

// Timestamp request lifecycle, one state machine per request.
type TimestampRequestState string

const (
	TimestampBuilt                   TimestampRequestState = "built"
	TimestampSent                    TimestampRequestState = "sent"
	TimestampGranted                 TimestampRequestState = "granted"
	TimestampGrantedWithMods         TimestampRequestState = "granted_with_modifications"
	TimestampRejected                TimestampRequestState = "rejected"
	TimestampVerified                TimestampRequestState = "verified"
	TimestampVerificationFailedState TimestampRequestState = "verification_failed"
)

// MessageImprint is the hash algorithm id plus hashed value submitted to the
// authority. It must equal the hash of exactly the bytes timestamped.
type MessageImprint struct {
	HashAlgorithm HashAlgorithm `json:"hash_algorithm"`
	HashedMessage []byte        `json:"hashed_message"`
}

type TimestampRequestOptions struct {
	HashAlgorithm      HashAlgorithm
	IncludeNonce       bool
	RequestCertificate bool
	PolicyOID          string
}

// TimestampRequest is an encoded RFC 3161 query plus the fields needed to
// check the eventual response against what was asked.
type TimestampRequest struct {
	Raw           []byte
	Imprint       MessageImprint
	Nonce         *big.Int
	CertRequested bool
	PolicyOID     string
	State         TimestampRequestState
}

// TimestampToken is a parsed, granted timestamp. Once obtained it is appended
// to the container's unsigned attributes and never altered.
type TimestampToken struct {
	PolicyOID       string
	Imprint         MessageImprint
	SerialNumber    *big.Int
	GenerationTime  time.Time
	AccuracySeconds int
	AccuracyMillis  int
	AccuracyMicros  int
	Nonce           *big.Int
	Certificates    []*x509.Certificate
	Raw             []byte
}

// TimestampResponse is the raw authority reply plus its decoded status.
type TimestampResponse struct {
	Status       int
	StatusString string
	Token        *TimestampToken
	Raw          []byte
	Authority    string
}

// RFC 3161 PKIStatus values.
const (
	TimestampStatusGranted         = 0
	TimestampStatusGrantedWithMods = 1
	TimestampStatusRejection       = 2
	TimestampStatusWaiting         = 3
	TimestampStatusRevocationWarn  = 4
	TimestampStatusRevocationNotif = 5
)

func (r *TimestampResponse) Granted() bool {
	if r == nil {
		return false
	}
	return r.Status == TimestampStatusGranted || r.Status == TimestampStatusGrantedWithMods
}

// TimestampVerification never surfaces as an error: invalidity is an expected
// outcome. Every invalid result carries at least one populated error.
type TimestampVerification struct {
	Valid  bool     `json:"is_valid"`
	Errors []string `json:"errors,omitempty"`
	Token  *TimestampToken
}

// FailoverConfig is the ordered authority list consumed front-to-back under a
// shared deadline. FailoverTimeout bounds the whole sequence independently of
// AttemptTimeout, which bounds each authority.
type FailoverConfig struct {
	Primary             string
	Fallbacks           []string
	MaxFailoverAttempts int
	AttemptTimeout      time.Duration
	FailoverTimeout     time.Duration
}

func (c FailoverConfig) Authorities() []string {
	out := make([]string, 0, 1+len(c.Fallbacks))
	if c.Primary != "" {
		out = append(out, c.Primary)
	}
	out = append(out, c.Fallbacks...)
	return out
}

// TimestampAuditRecord is one append-only audit entry. Identical
// operation+result pairs are recorded again, not deduplicated.
type TimestampAuditRecord struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Result    map[string]any `json:"result"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
