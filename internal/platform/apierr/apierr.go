package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for the failure classes the core distinguishes. Services wrap
// these with operation context; handlers map them to HTTP statuses.
var (
	// ErrValidation covers missing or out-of-range instrumental fields and
	// malformed lineage requests. Fatal to the operation, nothing persisted.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers unknown ids and cross-project references.
	ErrNotFound = errors.New("not found")
	// ErrCancelled is the option gate's cancel policy outcome. Terminal, not a fault.
	ErrCancelled = errors.New("cancelled")
	// ErrConcurrentBuild means another caller holds the build claim for the
	// same geometry hash. Transient; callers await or re-poll.
	ErrConcurrentBuild = errors.New("concurrent build in progress")
	// ErrIntegrityFault means a stored artifact disagrees with a freshly
	// recomputed hash for identical inputs. Never retried silently.
	ErrIntegrityFault = errors.New("integrity fault")
	// ErrStorageFailure is a transient infrastructure error, surfaced after
	// bounded retries are exhausted.
	ErrStorageFailure = errors.New("storage failure")
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError classifies a service error into an HTTP-facing *Error using the
// sentinel taxonomy.
func FromError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return New(http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrCancelled):
		return New(http.StatusOK, "cancelled", err)
	case errors.Is(err, ErrConcurrentBuild):
		return New(http.StatusConflict, "concurrent_build_in_progress", err)
	case errors.Is(err, ErrIntegrityFault):
		return New(http.StatusConflict, "integrity_fault", err)
	case errors.Is(err, ErrStorageFailure):
		return New(http.StatusBadGateway, "storage_failure", err)
	default:
		return New(http.StatusInternalServerError, "internal_error", err)
	}
}
