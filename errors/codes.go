package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Registry errors. Everything except INVALID_RESPONSE is retryable.
const (
	// ErrCodeUnreachable indicates the registry could not be contacted.
	ErrCodeUnreachable ErrorCode = "UNREACHABLE"
	// ErrCodeTimeout indicates a registry call exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeServerError indicates the registry answered with an error status.
	ErrCodeServerError ErrorCode = "SERVER_ERROR"
	// ErrCodeInvalidResponse indicates a response that could not be decoded.
	ErrCodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
)

// Lifecycle and lookup errors.
const (
	// ErrCodeRegistrationFailed indicates self-registration exhausted its retry budget.
	ErrCodeRegistrationFailed ErrorCode = "REGISTRATION_FAILED"
	// ErrCodeInvalidConfig indicates a configuration value was rejected.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeNotReady indicates a cached view has not been populated yet.
	ErrCodeNotReady ErrorCode = "NOT_READY"
	// ErrCodeInternal indicates an unexpected failure inside the agent.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeUnreachable:     true,
	ErrCodeTimeout:         true,
	ErrCodeServerError:     true,
	ErrCodeInvalidResponse: false,
	ErrCodeNotReady:        true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
