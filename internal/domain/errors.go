package domain

import "errors"

// Common errors used throughout the application.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrPreconditionFailed    = errors.New("precondition failed")
	ErrDataIntegrity         = errors.New("data integrity failure")
	ErrInvalidSpec           = errors.New("invalid organization spec")
	ErrDuplicateAccount      = errors.New("account assigned to multiple organizational units")
	ErrMasterAccountMismatch = errors.New("master account id does not match spec")
	ErrRunInProgress         = errors.New("reconciliation already in progress")
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInvalidSpec        = "INVALID_SPEC"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeRunInProgress      = "RUN_IN_PROGRESS"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}

// IsFatal reports whether err must abort a run before any mutation is issued.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrDuplicateAccount) ||
		errors.Is(err, ErrMasterAccountMismatch)
}
