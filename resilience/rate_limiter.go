package resilience

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/akirco/llmhub/errors"
)

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	// Name identifies this rate limiter for metrics/logging.
	Name string
	// Rate is the number of tokens added per second. Zero or less disables limiting.
	Rate float64
	// Burst is the bucket capacity. Defaults to max(Rate, 1).
	Burst float64
	// MaxWait bounds how long a caller may wait. Zero means no bound.
	MaxWait time.Duration
	// OnLimit is called when a caller has to wait or is rejected.
	OnLimit func(name string, wait time.Duration)
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig(name string) RateLimiterConfig {
	return RateLimiterConfig{
		Name:  name,
		Rate:  10.0,
		Burst: 20,
	}
}

// waiter is one queued Acquire call.
type waiter struct {
	cost float64
	wake chan struct{}
}

// RateLimiter implements a token bucket with a strict FIFO wait queue.
//
// Only the waiter at the head of the queue watches the clock; everyone behind
// it sleeps until woken, so a later caller can never overtake an earlier one
// even when it asks for fewer tokens.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	queue      *list.List
	queued     float64
	closed     bool
	done       chan struct{}
}

// NewRateLimiter creates a new rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = config.Rate
		if config.Burst < 1 {
			config.Burst = 1
		}
	}
	return &RateLimiter{
		config:     config,
		tokens:     config.Burst,
		lastRefill: time.Now(),
		queue:      list.New(),
		done:       make(chan struct{}),
	}
}

// Acquire blocks until cost tokens are available and debits them. A cost
// above the burst is clamped to the burst. It fails with RateLimitExceeded
// when the expected wait exceeds MaxWait and with Cancelled when ctx is done
// or the limiter is closed; either way the caller's place in line is freed.
func (rl *RateLimiter) Acquire(ctx context.Context, cost float64) error {
	return rl.AcquireNotify(ctx, cost, nil)
}

// AcquireNotify is Acquire with a per-call hook. onQueue runs once, with the
// expected wait, after the caller has joined the queue and before it blocks.
// It does not run when tokens are granted immediately or the call is rejected.
func (rl *RateLimiter) AcquireNotify(ctx context.Context, cost float64, onQueue func(expected time.Duration)) error {
	if rl.unlimited() {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled("rate limit wait cancelled").WithCause(err)
		}
		return nil
	}
	cost = rl.clamp(cost)

	rl.mu.Lock()
	if rl.closed {
		rl.mu.Unlock()
		return errors.Cancelled("rate limiter closed")
	}
	rl.refill(time.Now())
	if rl.queue.Len() == 0 && rl.tokens >= cost {
		rl.tokens -= cost
		rl.mu.Unlock()
		return nil
	}

	expected := rl.waitFor(rl.queued + cost)
	if rl.config.MaxWait > 0 && expected > rl.config.MaxWait {
		rl.mu.Unlock()
		rl.notifyLimit(expected)
		return errors.RateLimitExceeded(rl.config.Name).
			WithDetail("expected_wait_ms", expected.Milliseconds())
	}

	w := &waiter{cost: cost, wake: make(chan struct{}, 1)}
	elem := rl.queue.PushBack(w)
	rl.queued += cost
	rl.mu.Unlock()
	rl.notifyLimit(expected)
	if onQueue != nil {
		onQueue(expected)
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		rl.mu.Lock()
		if rl.closed {
			rl.mu.Unlock()
			return errors.Cancelled("rate limiter closed")
		}
		var timerC <-chan time.Time
		if rl.queue.Front() == elem {
			now := time.Now()
			rl.refill(now)
			if rl.tokens >= cost {
				rl.tokens -= cost
				rl.remove(elem)
				rl.mu.Unlock()
				return nil
			}
			timer.Reset(rl.waitFor(cost))
			timerC = timer.C
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			rl.mu.Lock()
			if !rl.closed {
				rl.remove(elem)
			}
			rl.mu.Unlock()
			return errors.Cancelled("rate limit wait cancelled").WithCause(ctx.Err())
		case <-rl.done:
			return errors.Cancelled("rate limiter closed")
		case <-w.wake:
		case <-timerC:
		}
		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// TryAcquire debits cost tokens only if they are available right now and
// nobody is queued ahead.
func (rl *RateLimiter) TryAcquire(cost float64) bool {
	if rl.unlimited() {
		return true
	}
	cost = rl.clamp(cost)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed || rl.queue.Len() > 0 {
		return false
	}
	rl.refill(time.Now())
	if rl.tokens < cost {
		return false
	}
	rl.tokens -= cost
	return true
}

// Refund returns unused tokens to the bucket, capped at the burst.
func (rl *RateLimiter) Refund(cost float64) {
	if cost <= 0 || rl.unlimited() {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	rl.tokens += cost
	if rl.tokens > rl.config.Burst {
		rl.tokens = rl.config.Burst
	}
	rl.wakeHead()
}

// Close fails every pending and future Acquire with Cancelled.
func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return
	}
	rl.closed = true
	rl.queue.Init()
	rl.queued = 0
	close(rl.done)
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	return rl.tokens
}

// Pending returns the number of queued callers.
func (rl *RateLimiter) Pending() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.queue.Len()
}

// Rate returns the refill rate in tokens per second.
func (rl *RateLimiter) Rate() float64 { return rl.config.Rate }

// Burst returns the bucket capacity.
func (rl *RateLimiter) Burst() float64 { return rl.config.Burst }

// Name returns the limiter name.
func (rl *RateLimiter) Name() string { return rl.config.Name }

func (rl *RateLimiter) unlimited() bool { return rl.config.Rate <= 0 }

func (rl *RateLimiter) clamp(cost float64) float64 {
	if cost < 0 {
		return 0
	}
	if cost > rl.config.Burst {
		return rl.config.Burst
	}
	return cost
}

// refill adds tokens for the time elapsed since the last refill. Caller holds mu.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now
	rl.tokens += elapsed * rl.config.Rate
	if rl.tokens > rl.config.Burst {
		rl.tokens = rl.config.Burst
	}
}

// waitFor returns how long until need tokens will have accumulated. Caller holds mu.
func (rl *RateLimiter) waitFor(need float64) time.Duration {
	deficit := need - rl.tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / rl.config.Rate * float64(time.Second))
}

// remove drops elem from the queue and wakes the new head. Caller holds mu.
func (rl *RateLimiter) remove(elem *list.Element) {
	w := rl.queue.Remove(elem).(*waiter)
	rl.queued -= w.cost
	if rl.queue.Len() == 0 {
		rl.queued = 0
	}
	rl.wakeHead()
}

func (rl *RateLimiter) wakeHead() {
	front := rl.queue.Front()
	if front == nil {
		return
	}
	select {
	case front.Value.(*waiter).wake <- struct{}{}:
	default:
	}
}

func (rl *RateLimiter) notifyLimit(wait time.Duration) {
	if rl.config.OnLimit != nil {
		rl.config.OnLimit(rl.config.Name, wait)
	}
}
