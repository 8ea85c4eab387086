package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akirco/llmhub/errors"
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	Name string
	// MaxConcurrent is the number of slots.
	MaxConcurrent int
	// MaxWait bounds the wait for a slot. Zero fails immediately.
	MaxWait  time.Duration
	OnReject func(name string)
}

// BulkheadStats counts slot usage.
type BulkheadStats struct {
	InUse    int
	Max      int
	Waiting  int
	Rejected int64
}

// Bulkhead caps the number of concurrently open streams. A stream holds its
// slot until it ends, so slots are handed out as release functions.
type Bulkhead struct {
	config   BulkheadConfig
	slots    chan struct{}
	waiting  atomic.Int32
	rejected atomic.Int64
}

// NewBulkhead creates a bulkhead with config.MaxConcurrent slots, 10 if unset.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Bulkhead{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire takes a slot, waiting up to MaxWait. The returned release function
// is idempotent. A full bulkhead yields ConcurrencyLimit; a cancelled ctx
// yields Cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	if err := b.take(ctx); err != nil {
		if errors.KindOf(err) == errors.ErrCodeConcurrencyLimit {
			b.rejected.Add(1)
			if b.config.OnReject != nil {
				b.config.OnReject(b.config.Name)
			}
		}
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { <-b.slots }) }, nil
}

func (b *Bulkhead) take(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
	}
	if b.config.MaxWait <= 0 {
		return errors.ConcurrencyLimit(b.config.Name, b.config.MaxConcurrent)
	}

	b.waiting.Add(1)
	defer b.waiting.Add(-1)
	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return errors.ConcurrencyLimit(b.config.Name, b.config.MaxConcurrent).
			WithDetail("waited_ms", b.config.MaxWait.Milliseconds())
	case <-ctx.Done():
		return errors.Cancelled("stream slot wait cancelled").WithCause(ctx.Err())
	}
}

// InUse returns the number of held slots.
func (b *Bulkhead) InUse() int { return len(b.slots) }

// Stats returns current slot usage and the number of rejections so far.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		InUse:    len(b.slots),
		Max:      b.config.MaxConcurrent,
		Waiting:  int(b.waiting.Load()),
		Rejected: b.rejected.Load(),
	}
}
