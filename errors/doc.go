// Package errors provides the structured error type shared by discoverykit.
//
// Every failure that crosses a package boundary is an *AppError carrying a
// machine-readable code and a retryable flag. Registry failures use the
// codes UNREACHABLE, TIMEOUT, SERVER_ERROR and INVALID_RESPONSE; only the
// last one is not retryable.
package errors
