package errors

import (
	stderrors "errors"
)

// ErrorResponse is the JSON body returned by the admin API.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details sent to clients.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts an AppError to an ErrorResponse for JSON serialization.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:      e.Code,
			Message:   e.Message,
			Retryable: e.Retryable,
			Details:   e.Details,
		},
	}
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether err is an AppError marked retryable.
// Errors that are not AppErrors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return true
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
