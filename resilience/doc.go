// Package resilience provides the flow-control primitives the LLM client
// places in front of each provider.
//
//   - RateLimiter: token bucket with a strict FIFO wait queue, a wait budget
//     and shutdown
//   - Retry: jittered exponential backoff for retryable (transport) errors
//   - Bulkhead: caps concurrently open streams
//   - CircuitBreaker: fails fast after repeated transport failures
//
// All failures are reported as *errors.AppError:
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{Name: "deepseek", Rate: 2, Burst: 4})
//	if err := rl.Acquire(ctx, 1); err != nil {
//	    return err // RATE_LIMIT_EXCEEDED or CANCELLED
//	}
package resilience
