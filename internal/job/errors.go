package job

import "errors"

var (
	// ErrInvalidInput is returned synchronously by Submit when no URL is given
	ErrInvalidInput = errors.New("url is required")

	// ErrNotFound is returned when a job identifier is unknown
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyClaimed is returned when claiming a job that is not Pending
	ErrAlreadyClaimed = errors.New("job already claimed or not in Pending status")

	// ErrInProgress is returned when reclaiming a Processing job whose owner
	// may still be running it
	ErrInProgress = errors.New("job is still being processed")

	// ErrInvalidTransition is returned when a status change would break the lifecycle
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrDuplicate is returned when creating a job whose id already exists
	ErrDuplicate = errors.New("job already exists")
)

// ErrorKind classifies a failure for pollers.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "InvalidInput"
	KindNotFound        ErrorKind = "NotFound"
	KindTimeout         ErrorKind = "Timeout"
	KindExecutionFailed ErrorKind = "ExecutionFailed"
	KindInternalFault   ErrorKind = "InternalFault"
)

// Error is the failure recorded on a terminal Failed job.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// NewError creates a new Error
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
