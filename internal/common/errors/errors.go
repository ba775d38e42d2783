// Package errors provides the application-specific error type shared by
// every tool handler, store, and HTTP route.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeBadRequest             = "BAD_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeInternalError          = "INTERNAL_ERROR"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeValidationError        = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	ErrCodePermissionDenied       = "PERMISSION_DENIED"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeTerminalStateImmutable = "TERMINAL_STATE_IMMUTABLE"
	ErrCodeOwnerWaitActive        = "OWNER_WAIT_ACTIVE"
	ErrCodePollingBlocked         = "POLLING_BLOCKED"
	ErrCodeConcurrencyTimeout     = "CONCURRENCY_TIMEOUT"
	ErrCodeWorkerLimitReached     = "WORKER_LIMIT_REACHED"
	ErrCodeGitDisabled            = "GIT_DISABLED"
	ErrCodeMergeConflict          = "MERGE_CONFLICT"
	ErrCodeBranchNotFound         = "BRANCH_NOT_FOUND"
	ErrCodeRecoveryExhausted      = "RECOVERY_EXHAUSTED"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a new forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// PermissionDenied creates an error for a role/tool/scope combination the
// permission guard does not allow.
func PermissionDenied(role, tool string) *AppError {
	return &AppError{
		Code:       ErrCodePermissionDenied,
		Message:    fmt.Sprintf("role '%s' is not permitted to call '%s'", role, tool),
		HTTPStatus: http.StatusForbidden,
	}
}

// InvalidTransition creates an error for an illegal task status move.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("cannot transition task from '%s' to '%s'", from, to),
		HTTPStatus: http.StatusConflict,
	}
}

// TerminalStateImmutable creates an error for a mutation attempted against a
// task already in a terminal status.
func TerminalStateImmutable(taskID, status string) *AppError {
	return &AppError{
		Code:       ErrCodeTerminalStateImmutable,
		Message:    fmt.Sprintf("task '%s' is in terminal status '%s' and can only be reopened", taskID, status),
		HTTPStatus: http.StatusConflict,
	}
}

// OwnerWaitActive creates an error returned when the owner calls a tool other
// than read_messages, get_unread_count or unlock_owner_wait while its
// wait-lock is held.
func OwnerWaitActive(agentID string) *AppError {
	return &AppError{
		Code:       ErrCodeOwnerWaitActive,
		Message:    fmt.Sprintf("owner '%s' is wait-locked; only read_messages, get_unread_count and unlock_owner_wait are allowed", agentID),
		HTTPStatus: http.StatusConflict,
	}
}

// PollingBlocked creates an error when a recipient polls its mailbox too
// aggressively and is temporarily throttled.
func PollingBlocked(agentID string) *AppError {
	return &AppError{
		Code:       ErrCodePollingBlocked,
		Message:    fmt.Sprintf("agent '%s' is polling its mailbox too frequently", agentID),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// ConcurrencyTimeout creates an error when an advisory file lock could not be
// acquired within its deadline.
func ConcurrencyTimeout(resource string) *AppError {
	return &AppError{
		Code:       ErrCodeConcurrencyTimeout,
		Message:    fmt.Sprintf("timed out waiting for exclusive access to '%s'", resource),
		HTTPStatus: http.StatusConflict,
	}
}

// WorkerLimitReached creates an error when a session's worker slot cap is hit.
func WorkerLimitReached(limit int) *AppError {
	return &AppError{
		Code:       ErrCodeWorkerLimitReached,
		Message:    fmt.Sprintf("worker limit of %d reached for this session", limit),
		HTTPStatus: http.StatusConflict,
	}
}

// GitDisabled creates an error when a worktree operation is attempted in a
// session that was started with enable_git=false.
func GitDisabled() *AppError {
	return &AppError{
		Code:       ErrCodeGitDisabled,
		Message:    "version control is disabled for this session",
		HTTPStatus: http.StatusConflict,
	}
}

// MergeConflict creates an error carrying the paths that conflicted during a
// merge-preview or merge-apply.
func MergeConflict(branch string, paths []string) *AppError {
	return &AppError{
		Code:       ErrCodeMergeConflict,
		Message:    fmt.Sprintf("merging branch '%s' produced conflicts in: %v", branch, paths),
		HTTPStatus: http.StatusConflict,
	}
}

// BranchNotFound creates an error for a reference to a non-existent branch.
func BranchNotFound(branch string) *AppError {
	return &AppError{
		Code:       ErrCodeBranchNotFound,
		Message:    fmt.Sprintf("branch '%s' not found", branch),
		HTTPStatus: http.StatusNotFound,
	}
}

// RecoveryExhausted creates an error once the healthcheck engine has used up
// every recovery stage for an agent without success.
func RecoveryExhausted(agentID string) *AppError {
	return &AppError{
		Code:       ErrCodeRecoveryExhausted,
		Message:    fmt.Sprintf("recovery attempts exhausted for agent '%s'", agentID),
		HTTPStatus: http.StatusConflict,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code returns the AppError code for err, or ErrCodeInternalError if err is
// not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}
