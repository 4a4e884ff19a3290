package scoring

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionNotFound means the family exists but has no current version.
	// Callers can recover by naming an explicit version.
	ErrVersionNotFound = errors.New("version not found")
	// ErrModelUnavailable means no artifact could be obtained after all fallbacks.
	ErrModelUnavailable = errors.New("model unavailable")
	ErrPredictionFailed = errors.New("prediction failed")
	ErrTimeout          = errors.New("scoring deadline exceeded")
)

// Error is a server-side fault as seen by callers. Its message names only
// the class, the family and the request id; the underlying cause stays
// reachable through errors.Is/As for logging and tests.
type Error struct {
	Class     error
	Family    string
	RequestID string
	cause     error
}

func (e *Error) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("%s: family %q", e.Class, e.Family)
	}
	return fmt.Sprintf("%s: family %q (request %s)", e.Class, e.Family, e.RequestID)
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.cause}
}

// Cause returns the internal error this fault was raised for, or nil.
func (e *Error) Cause() error { return e.cause }

func newError(class error, family, requestID string, cause error) *Error {
	return &Error{Class: class, Family: family, RequestID: requestID, cause: cause}
}

// errorType labels an error for metrics.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrVersionNotFound):
		return "version_not_found"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrPredictionFailed):
		return "prediction_failed"
	case IsClientError(err):
		return "invalid_input"
	default:
		return "other"
	}
}
