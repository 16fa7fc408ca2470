package apierror

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// ErrInvalidState marks an operation attempted from a disallowed
	// lifecycle state. Always aborts the surrounding transaction.
	ErrInvalidState ErrorCode = "INVALID_STATE"

	// ErrNotExecutable marks a pledge that fails its eligibility predicate.
	// Expected during batch runs; skip and retry later.
	ErrNotExecutable ErrorCode = "NOT_EXECUTABLE"

	// ErrReconciliationRequired marks divergence between local state and the
	// payment gateway (charge accepted but not recorded, or voided locally
	// but not remotely). Never swallowed, never retried silently.
	ErrReconciliationRequired ErrorCode = "RECONCILIATION_REQUIRED"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// Retryable reports whether a batch driver may attempt the operation again
// later. Reconciliation-class errors are terminal until an operator steps
// in; invalid-state errors indicate a caller bug.
func Retryable(err error) bool {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.Code {
	case ErrInvalidState, ErrReconciliationRequired, ErrConflict:
		return false
	}
	return true
}
