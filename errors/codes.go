package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: backend unreachable, request timeouts.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: unknown task id, duplicate completion, oversized title.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or contention.
	// Examples: identifier space exhausted, writer lock held elsewhere.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for task store failures.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Backend temporarily unavailable
	ErrCodeIO          ErrorCode = "IO"          // Persistence read/write failed

	// Permanent errors
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"         // No task under the id
	ErrCodeAlreadyCompleted ErrorCode = "ALREADY_COMPLETED" // Duplicate completion attempt
	ErrCodeFieldTooLarge    ErrorCode = "FIELD_TOO_LARGE"   // Bounded field over its cap
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"     // Malformed request
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"      // Caller could not be authenticated
	ErrCodeCanceled         ErrorCode = "CANCELED"          // Operation was canceled

	// Resource errors
	ErrCodeIDExhausted  ErrorCode = "ID_EXHAUSTED"  // Allocator cannot issue another id
	ErrCodeResourceBusy ErrorCode = "RESOURCE_BUSY" // Writer lock held elsewhere

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Stored or loaded data is malformed
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeIO:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeAlreadyCompleted, ErrCodeFieldTooLarge,
		ErrCodeInvalidInput, ErrCodeUnauthorized, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeIDExhausted, ErrCodeResourceBusy:
		return CategoryResource

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:          "operation timed out",
	ErrCodeUnavailable:      "backend temporarily unavailable",
	ErrCodeIO:               "persistence failure",
	ErrCodeNotFound:         "task not found",
	ErrCodeAlreadyCompleted: "task already completed",
	ErrCodeFieldTooLarge:    "field exceeds its size limit",
	ErrCodeInvalidInput:     "invalid input provided",
	ErrCodeUnauthorized:     "caller not authorized",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeIDExhausted:      "identifier space exhausted",
	ErrCodeResourceBusy:     "resource is busy",
	ErrCodeInternal:         "internal error",
	ErrCodeCorruption:       "data corruption detected",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
