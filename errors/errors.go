package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// AppError is the unified error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the status the admin API answers with for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Registry error constructors ---

// Unreachable creates an error for a registry that could not be contacted.
func Unreachable(target string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeUnreachable, Message: fmt.Sprintf("registry %s is unreachable", target),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"target": target}, Cause: cause,
	}
}

// Timeout creates an error for a registry call that exceeded its deadline.
func Timeout(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// ServerError creates an error for a registry that answered with an error status.
func ServerError(status int, body string) *AppError {
	return &AppError{
		Code: ErrCodeServerError, Message: fmt.Sprintf("registry returned status %d", status),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"status": status, "body": body},
	}
}

// InvalidResponse creates an error for a registry response that could not be used.
func InvalidResponse(reason string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInvalidResponse, Message: fmt.Sprintf("invalid registry response: %s", reason),
		HTTPStatus: http.StatusBadGateway, Retryable: false, Cause: cause,
	}
}

// --- Lifecycle error constructors ---

// RegistrationFailed creates an error for a self-registration that gave up.
func RegistrationFailed(service string, attempts int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeRegistrationFailed, Message: fmt.Sprintf("registration of %s failed after %d attempts", service, attempts),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
		Details: map[string]any{"service": service, "attempts": attempts}, Cause: cause,
	}
}

// InvalidConfig creates an error for a rejected configuration value.
func InvalidConfig(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("invalid configuration: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// NotFound creates an error for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q was not found", resource, id),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// NotReady creates an error for a cached view that has not been populated yet.
func NotReady(service string) *AppError {
	return &AppError{
		Code: ErrCodeNotReady, Message: fmt.Sprintf("instances of %s are not known yet", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Internal wraps an unexpected error. The cause is not exposed to clients.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "internal error",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// Classify maps a transport-level error onto the registry taxonomy.
// AppErrors pass through unchanged; context cancellation is returned as is
// so callers can tell shutdown apart from failure.
func Classify(operation, target string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsAppError(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout(operation, err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(operation, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return InvalidResponse("malformed body", err)
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		return InvalidResponse("truncated body", err)
	}

	return Unreachable(target, err)
}
