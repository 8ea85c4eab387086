package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/akirco/llmhub/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func(int) (string, error) {
		calls++
		return "success", nil
	})
	if err != nil || result != "success" {
		t.Fatalf("Retry() = %q, %v", result, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesTransportErrors(t *testing.T) {
	var attempts []int
	result, err := Retry(context.Background(), fastRetry(3), func(attempt int) (string, error) {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return "", errors.Transport(fmt.Errorf("connection refused"))
		}
		return "success", nil
	})
	if err != nil || result != "success" {
		t.Fatalf("Retry() = %q, %v", result, err)
	}
	if len(attempts) != 3 || attempts[2] != 3 {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestRetry_ExceedsMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(3), func(int) (string, error) {
		calls++
		return "", errors.Transport(nil)
	})
	if errors.KindOf(err) != errors.ErrCodeTransport {
		t.Errorf("expected last transport error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limited", errors.RateLimitExceeded("x")},
		{"provider", errors.Provider("x", 401, "")},
		{"plain", fmt.Errorf("not an app error")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Retry(context.Background(), fastRetry(5), func(int) (int, error) {
				calls++
				return 0, tt.err
			})
			if err != tt.err {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestRetry_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Second}

	calls := 0
	_, err := Retry(ctx, cfg, func(int) (int, error) {
		calls++
		cancel()
		return 0, errors.Transport(nil)
	})
	if !errors.IsCancelled(err) {
		t.Errorf("err = %v, want CANCELLED", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	cfg := fastRetry(3)
	var seen []int
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		seen = append(seen, attempt)
		if backoff <= 0 {
			t.Errorf("backoff = %v", backoff)
		}
	}
	_, _ = Retry(context.Background(), cfg, func(int) (int, error) { return 0, errors.Transport(nil) })
	if len(seen) != 2 {
		t.Errorf("OnRetry calls = %v, want 2", seen)
	}
}

func TestRetry_CustomRetryIf(t *testing.T) {
	cfg := fastRetry(3)
	cfg.RetryIf = func(error) bool { return true }
	calls := 0
	_, _ = Retry(context.Background(), cfg, func(int) (int, error) {
		calls++
		return 0, fmt.Errorf("always")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestBackoff_Bounds(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2, Jitter: 0.5}
	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(attempt, cfg)
		if d <= 0 || d > cfg.MaxBackoff {
			t.Errorf("attempt %d: backoff %v out of bounds", attempt, d)
		}
	}
	noJitter := RetryConfig{InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}
	if got := Backoff(3, noJitter); got != 40*time.Millisecond {
		t.Errorf("Backoff(3) = %v, want 40ms", got)
	}
}
