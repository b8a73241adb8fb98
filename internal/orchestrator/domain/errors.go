package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConcurrency is returned when a batch is started with a non-positive concurrency limit
	ErrInvalidConcurrency = errors.New("concurrency limit must be greater than 0")

	// ErrNilAdapter is returned when a batch is started without a backend adapter
	ErrNilAdapter = errors.New("backend adapter is required")

	// ErrInvalidRetryPolicy is returned when the retry policy cannot be honoured
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrContentPolicy can be wrapped by backend clients to flag a content-policy refusal
	ErrContentPolicy = errors.New("content policy violation")
)

// ErrorRecord is the typed failure of a single job. It is data, not control flow:
// the orchestrator stores it in the job's result slot instead of propagating it.
type ErrorRecord struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	LastInput Payload   `json:"last_input"`
	Err       error     `json:"-"`
}

func (e *ErrorRecord) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ErrorRecord) Unwrap() error {
	return e.Err
}

// NewError creates an ErrorRecord of the given kind
func NewError(kind ErrorKind, message string, err error) *ErrorRecord {
	return &ErrorRecord{Kind: kind, Message: message, Err: err}
}

// SubmissionFailure creates an ErrorRecord for a request rejected before generation started
func SubmissionFailure(message string, err error) *ErrorRecord {
	return NewError(KindSubmissionFailure, message, err)
}

// PolicyRejection creates an ErrorRecord for a backend refusing to generate content
func PolicyRejection(message string, err error) *ErrorRecord {
	return NewError(KindPolicyRejection, message, err)
}

// Timeout creates an ErrorRecord for a poll loop that exceeded its bound
func Timeout(message string, err error) *ErrorRecord {
	return NewError(KindTimeout, message, err)
}

// DownloadFailure creates an ErrorRecord for an artifact that could not be retrieved or written
func DownloadFailure(message string, err error) *ErrorRecord {
	return NewError(KindDownloadFailure, message, err)
}

// UnexpectedFault creates an ErrorRecord for a failure that matches no known kind
func UnexpectedFault(message string, err error) *ErrorRecord {
	return NewError(KindUnexpectedFault, message, err)
}

// AsRecord extracts the ErrorRecord from err. Errors that carry no record are
// wrapped as UnexpectedFault.
func AsRecord(err error) *ErrorRecord {
	if err == nil {
		return nil
	}

	var rec *ErrorRecord
	if errors.As(err, &rec) {
		return rec
	}

	return UnexpectedFault("unrecognized job error", err)
}

// KindOf returns the kind carried by err, or an empty kind when err carries no record
func KindOf(err error) ErrorKind {
	var rec *ErrorRecord
	if errors.As(err, &rec) {
		return rec.Kind
	}
	return ""
}
