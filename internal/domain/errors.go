package domain

import (
	"errors"
	"fmt"
)

// Error codes grouped by the taxonomy the batch error list reports on.
const (
	// Configuration: fatal, never retried.
	CodeProviderUnregistered = "PROVIDER_UNREGISTERED"
	CodeInvalidConfig        = "INVALID_CONFIG"

	// Cryptographic: fatal per unit, never downgraded.
	CodeKeyUnavailable         = "KEY_UNAVAILABLE"
	CodeKeyPermissionDenied    = "KEY_PERMISSION_DENIED"
	CodeUnsupportedAlgorithm   = "UNSUPPORTED_ALGORITHM"
	CodeCertificateExpired     = "CERTIFICATE_EXPIRED"
	CodeCertificateKeyMismatch = "CERTIFICATE_KEY_MISMATCH"
	CodeSigningFailed          = "SIGNING_FAILED"

	// Protocol: retried across the failover list, then aggregated.
	CodeTimestampRejected  = "TIMESTAMP_REJECTED"
	CodeTimestampMalformed = "TIMESTAMP_MALFORMED"
	CodeTimestampExhausted = "TIMESTAMP_AUTHORITIES_EXHAUSTED"

	// Validation: fatal per unit, reports offending values.
	CodeInvalidPlacement  = "INVALID_PLACEMENT"
	CodeFieldNameConflict = "FIELD_NAME_CONFLICT"
	CodeMalformedDocument = "MALFORMED_DOCUMENT"
	CodePolicyDenied      = "POLICY_DENIED"

	// Transient: retried to budget, surfaced with Recoverable set.
	CodeTimeout            = "TIMEOUT"
	CodeNetwork            = "NETWORK_ERROR"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"

	// Batch lifecycle.
	CodeBatchEmpty    = "BATCH_EMPTY"
	CodeBatchNotFound = "BATCH_NOT_FOUND"
	CodeBatchTerminal = "BATCH_TERMINAL"
)

var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrBatchTerminal = errors.New("batch already terminal")
)

// Error is the coded error every operation surfaces. Code is machine-readable,
// Message is for humans; BatchID and DocumentID are filled in where known.
type Error struct {
	Code        string
	Message     string
	Recoverable bool
	BatchID     string
	DocumentID  string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message, Recoverable: recoverableCode(code)}
}

func Errorf(code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

func WrapError(code, message string, err error) *Error {
	e := NewError(code, message)
	e.Err = err
	return e
}

// WithDocument returns a copy annotated with the owning document id.
func (e *Error) WithDocument(documentID string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.DocumentID = documentID
	return &clone
}

// WithBatch returns a copy annotated with the owning batch id.
func (e *Error) WithBatch(batchID string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.BatchID = batchID
	return &clone
}

// CodeOf extracts the machine-readable code, or empty for foreign errors.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// recoverableCode is the fixed allow-list of transient conditions worth a
// retry. Deliberately small; anything unlisted is treated as fatal.
func recoverableCode(code string) bool {
	switch code {
	case CodeTimeout, CodeNetwork, CodeBackendUnavailable:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether the unit that produced err may be retried
// against the batch retry budget.
func IsRecoverable(err error) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Recoverable
	}
	return false
}
