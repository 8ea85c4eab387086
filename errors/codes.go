package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Flow-control errors
const (
	// ErrCodeRateLimitExceeded indicates the local wait budget for a rate-limit
	// slot was exhausted, or the provider answered 429.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeConcurrencyLimit indicates too many streams are in flight for a provider.
	ErrCodeConcurrencyLimit ErrorCode = "CONCURRENCY_LIMIT"
	// ErrCodeCancelled indicates the caller or a client shutdown aborted the operation.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// Transport errors (retryable)
const (
	// ErrCodeTransport indicates a connection failure, timeout or 5xx answer.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
)

// Protocol errors
const (
	// ErrCodeProtocolViolation indicates malformed or truncated provider output.
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"
	// ErrCodeUnsupportedFeature indicates a capability the provider does not offer.
	ErrCodeUnsupportedFeature ErrorCode = "UNSUPPORTED_FEATURE"
	// ErrCodeProvider indicates the provider rejected the request (4xx or in-band error).
	ErrCodeProvider ErrorCode = "PROVIDER_ERROR"
)

// Usage errors
const (
	// ErrCodeInvalidState indicates an operation that is illegal in the current state.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	// ErrCodeInvalidConfig indicates a configuration that failed validation.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInternal indicates a bug or an unexpected condition.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransport:         true,
	ErrCodeRateLimitExceeded: false,
	ErrCodeCancelled:         false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
// Only transport failures are retried; rate-limit exhaustion is surfaced to the caller.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
