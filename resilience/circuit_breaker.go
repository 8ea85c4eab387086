package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/akirco/llmhub/errors"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name is the provider the breaker guards.
	Name string
	// MaxFailures consecutive failures trip the breaker.
	MaxFailures int
	// Cooldown is how long the breaker stays open before admitting probes.
	Cooldown time.Duration
	// Probes is the number of exchanges admitted while half-open. All of them
	// must succeed to close the breaker.
	Probes int
	// IsFailure decides which errors count against the provider. Defaults to
	// transport errors only; a rejected prompt says nothing about provider health.
	IsFailure func(error) bool
	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	State    State
	Failures int
	// RetryIn is the time left until an open breaker admits a probe.
	RetryIn time.Duration
}

// CircuitBreaker fails exchanges fast while a provider keeps failing at the
// transport level. Allow and Record bracket one exchange; the breaker never
// runs the exchange itself because a stream outlives the call that opened it.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	passed   int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Probes <= 0 {
		config.Probes = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return errors.KindOf(err) == errors.ErrCodeTransport
		}
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Allow admits an exchange or returns a non-retryable transport error while
// the breaker is open. Every nil return must be paired with one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.advance() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.probes < cb.config.Probes {
			cb.probes++
			return nil
		}
	}
	appErr := errors.New(errors.ErrCodeTransport, fmt.Sprintf("circuit open for %s", cb.config.Name)).
		WithDetail("circuit", cb.state.String()).
		WithDetail("retry_in_ms", cb.retryIn().Milliseconds())
	appErr.Retryable = false
	return appErr
}

// Record reports the outcome of an admitted exchange. Errors that are not
// failures per IsFailure count as successes.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.advance()
	if err != nil && cb.config.IsFailure(err) {
		cb.failures++
		if state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.moveTo(StateOpen)
		}
		return
	}
	switch state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.passed++
		if cb.passed >= cb.config.Probes {
			cb.moveTo(StateClosed)
		}
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.advance()
}

// Snapshot returns the current position, failure streak and cooldown left.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		State:    cb.advance(),
		Failures: cb.failures,
		RetryIn:  cb.retryIn(),
	}
}

// advance moves an open breaker to half-open once the cooldown elapsed.
// Caller holds mu.
func (cb *CircuitBreaker) advance() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.moveTo(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) retryIn() time.Duration {
	if cb.state != StateOpen {
		return 0
	}
	return max(cb.config.Cooldown-cb.now().Sub(cb.openedAt), 0)
}

func (cb *CircuitBreaker) moveTo(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.probes, cb.passed = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
