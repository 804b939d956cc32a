package errors

import "fmt"

// ErrorType classifies pipeline errors for retry and routing decisions
type ErrorType string

const (
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeThrottled ErrorType = "throttled"
	ErrorTypeServer    ErrorType = "server_error"
	ErrorTypeParsing   ErrorType = "parsing"
	ErrorTypeClassify  ErrorType = "classify"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a typed pipeline error. Code carries the HTTP status where one
// exists, 0 otherwise.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates a typed error without an HTTP status
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Newf creates a typed error with a formatted message
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewWithCode creates a typed error carrying an HTTP status code
func NewWithCode(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Message: message, Code: code}
}

// IsRetryable reports whether an error of the given type is worth retrying
// on the same account. Auth errors are account-scoped and handled by
// eviction, not retry; not-found is terminal.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeThrottled, ErrorTypeServer:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeConfig:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500
	}
}

// IsFatal reports whether the error type must abort the run before or during
// dispatch. Only configuration problems and unwritable output storage are
// surfaced to the operator as run failures.
func IsFatal(errorType ErrorType) bool {
	return errorType == ErrorTypeConfig || errorType == ErrorTypeIO
}
