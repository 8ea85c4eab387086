package llm

import (
	"context"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akirco/llmhub/errors"
)

const (
	// DefaultStreamBuffer is the number of events a pump holds for a slow consumer.
	DefaultStreamBuffer = 64
	// DefaultCloseTimeout bounds how long Close waits for the producer to stop.
	DefaultCloseTimeout = 5 * time.Second

	defaultReadSize = 4 << 10
)

// PumpConfig configures a Pump.
type PumpConfig struct {
	// Buffer is the event buffer capacity. Defaults to DefaultStreamBuffer.
	Buffer int
	// ReadSize caps each transport read. Defaults to 4 KiB.
	ReadSize int
	// CloseTimeout bounds the wait for the producer on cancellation.
	CloseTimeout time.Duration
	// Turn seeds the in-flight turn (role, metadata).
	Turn Turn
	// OnFinal receives the finished turn exactly once, in the consumer's
	// goroutine, before Done is returned. It also receives a flushed partial turn.
	OnFinal func(Turn)
	// OnClose runs once when the stream reaches a terminal state. err is nil
	// for a completed stream.
	OnClose func(turn Turn, err error)
}

type pumpStatus int32

const (
	pumpOpen pumpStatus = iota
	pumpDone
	pumpFailed
	pumpCancelled
	pumpFlushed
)

// Pump moves events from a transport body to a pull-based consumer through
// a bounded buffer. When the buffer is full the producer stops reading from
// the body, so a slow consumer throttles the network instead of growing memory.
//
// Next, All, Flush and Turn belong to a single consumer goroutine. Close
// may be called from anywhere.
type Pump struct {
	adapter Adapter
	body    io.ReadCloser
	cfg     PumpConfig

	events       chan StreamEvent
	stop         chan struct{}
	faulted      chan struct{}
	producerDone chan struct{}
	stopOnce     sync.Once
	closeOnce    sync.Once
	unwatch      func() bool

	// mu guards the fields below; Close may run beside the consumer.
	mu     sync.Mutex
	status pumpStatus
	err    error
	fault  *errors.AppError
	turn   Turn
	tools  *ToolCallAccumulator

	bytesRead atomic.Int64
	chunks    atomic.Int64
	highWater atomic.Int64
	stuck     atomic.Bool
}

// NewPump starts reading body through adapter. Cancelling ctx aborts the
// stream and closes body.
func NewPump(ctx context.Context, adapter Adapter, body io.ReadCloser, cfg PumpConfig) *Pump {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultStreamBuffer
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = defaultReadSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	turn := cfg.Turn.Clone()
	if turn.Role == "" {
		turn.Role = RoleAssistant
	}
	turn.Finished = false

	p := &Pump{
		adapter:      adapter,
		body:         body,
		cfg:          cfg,
		events:       make(chan StreamEvent, cfg.Buffer),
		stop:         make(chan struct{}),
		faulted:      make(chan struct{}),
		producerDone: make(chan struct{}),
		turn:         turn,
		tools:        NewToolCallAccumulator(),
	}
	p.unwatch = context.AfterFunc(ctx, p.abort)
	go p.produce()
	return p
}

func (p *Pump) produce() {
	defer close(p.producerDone)
	buf := make([]byte, p.cfg.ReadSize)
	for {
		n, err := p.body.Read(buf)
		if n > 0 {
			p.bytesRead.Add(int64(n))
			p.chunks.Add(1)
			if !p.push(p.adapter.ParseChunk(buf[:n])) {
				return
			}
		}
		if err == nil {
			continue
		}
		if p.stopped() {
			return
		}
		if err == io.EOF {
			p.push(p.adapter.Finish())
			return
		}
		p.raise(errors.Wrap(err))
		return
	}
}

// push forwards events until a terminal one. It reports whether the
// producer should keep reading.
func (p *Pump) push(events []StreamEvent) bool {
	for _, ev := range events {
		if ev.Kind == EventError {
			p.raise(ev.Err)
			return false
		}
		select {
		case p.events <- ev:
		case <-p.stop:
			return false
		}
		p.observeDepth()
		if ev.Terminal() {
			return false
		}
	}
	return true
}

func (p *Pump) observeDepth() {
	depth := int64(len(p.events))
	for {
		hw := p.highWater.Load()
		if depth <= hw || p.highWater.CompareAndSwap(hw, depth) {
			return
		}
	}
}

// raise records a stream failure. It preempts buffered events.
func (p *Pump) raise(err *errors.AppError) {
	if err == nil {
		err = errors.Internal(nil)
	}
	p.mu.Lock()
	if p.fault == nil {
		p.fault = err
		close(p.faulted)
	}
	p.mu.Unlock()
}

func (p *Pump) abort() {
	p.stopOnce.Do(func() {
		close(p.stop)
		_ = p.body.Close()
	})
}

func (p *Pump) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *Pump) isFaulted() bool {
	select {
	case <-p.faulted:
		return true
	default:
		return false
	}
}

// Next returns the next event. After the terminal event it returns io.EOF.
// An Error event is returned together with its error. Once the stream is
// cancelled every call returns a Cancelled error.
func (p *Pump) Next(ctx context.Context) (StreamEvent, error) {
	p.mu.Lock()
	status, err := p.status, p.err
	p.mu.Unlock()
	switch status {
	case pumpDone, pumpFailed, pumpFlushed:
		return StreamEvent{}, io.EOF
	case pumpCancelled:
		return StreamEvent{}, err
	}

	if p.stopped() {
		return StreamEvent{}, p.cancel(nil)
	}
	if p.isFaulted() {
		return p.fail()
	}

	select {
	case ev := <-p.events:
		if p.stopped() {
			return StreamEvent{}, p.cancel(nil)
		}
		if p.isFaulted() {
			return p.fail()
		}
		return p.deliver(ev)
	case <-p.faulted:
		return p.fail()
	case <-p.stop:
		return StreamEvent{}, p.cancel(nil)
	case <-ctx.Done():
		p.abort()
		return StreamEvent{}, p.cancel(ctx.Err())
	case <-p.producerDone:
		select {
		case ev := <-p.events:
			return p.deliver(ev)
		default:
		}
		if p.isFaulted() {
			return p.fail()
		}
		if p.stopped() {
			return StreamEvent{}, p.cancel(nil)
		}
		p.raise(errors.Internal(nil).WithDetail("reason", "producer exited without a terminal event"))
		return p.fail()
	}
}

func (p *Pump) deliver(ev StreamEvent) (StreamEvent, error) {
	p.mu.Lock()
	switch ev.Kind {
	case EventContentDelta:
		p.turn.appendText(SegmentText, ev.Text)
	case EventReasoningDelta:
		p.turn.appendText(SegmentReasoning, ev.Text)
	case EventToolCallDelta:
		p.tools.Apply(ev.ToolCall)
	case EventUsage:
		u := *ev.Usage
		p.turn.Usage = &u
	case EventDone:
		p.turn.ToolCalls = p.tools.Build()
		p.turn.FinishReason = ev.FinishReason
		p.turn.Finished = true
		p.status = pumpDone
	}
	p.mu.Unlock()

	if ev.Kind == EventDone {
		if p.cfg.OnFinal != nil {
			p.cfg.OnFinal(p.snapshot())
		}
		p.release(nil)
	}
	return ev, nil
}

// fail discards whatever is buffered and surfaces the recorded fault.
func (p *Pump) fail() (StreamEvent, error) {
	p.drain()

	p.mu.Lock()
	fault := p.fault
	p.turn.Metadata = withMeta(p.turn.Metadata, "error", string(fault.Code))
	p.status = pumpFailed
	p.err = fault
	p.mu.Unlock()

	p.release(fault)
	return errorEvent(fault), fault
}

// cancel moves the pump to the cancelled state, waiting for the producer to
// stop. cause may be nil.
func (p *Pump) cancel(cause error) error {
	err, ok := p.halt(cause)
	if !ok {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	}
	p.release(err)
	return err
}

// halt stops the producer and marks an open pump cancelled without reporting
// the terminal state. It reports false when the pump had already ended.
func (p *Pump) halt(cause error) (*errors.AppError, bool) {
	p.abort()
	if !p.waitProducer() {
		p.stuck.Store(true)
	}
	p.drain()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != pumpOpen {
		return nil, false
	}
	err := errors.Cancelled("stream cancelled")
	if cause != nil {
		err = err.WithCause(cause)
	}
	p.status = pumpCancelled
	p.err = err
	return err, true
}

func (p *Pump) waitProducer() bool {
	if p.stuck.Load() {
		return false
	}
	timer := time.NewTimer(p.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-p.producerDone:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Pump) drain() {
	for {
		select {
		case <-p.events:
		default:
			return
		}
	}
}

func (p *Pump) snapshot() Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turn.Clone()
}

// release stops watching the context, closes the body and reports the
// terminal state once.
func (p *Pump) release(err error) {
	p.unwatch()
	p.abort()
	p.closeOnce.Do(func() {
		if p.cfg.OnClose != nil {
			p.cfg.OnClose(p.snapshot(), err)
		}
	})
}

// Close cancels the stream unless it already ended. It closes the transport
// body and waits up to CloseTimeout for the producer to stop.
func (p *Pump) Close() error {
	p.mu.Lock()
	open := p.status == pumpOpen
	p.mu.Unlock()
	if !open {
		p.abort()
		return nil
	}
	p.cancel(nil)
	if p.stuck.Load() {
		return errors.Internal(nil).WithDetail("reason", "stream producer did not stop in time")
	}
	return nil
}

// Flush commits the partial turn of an open or cancelled stream, marking it
// finished with metadata partial=true and handing it to OnFinal. A running
// stream is stopped first and reports its terminal state only after OnFinal
// returned.
func (p *Pump) Flush() (Turn, error) {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	switch status {
	case pumpDone, pumpFlushed:
		return Turn{}, errors.InvalidState("stream already finalized")
	case pumpFailed:
		return Turn{}, errors.InvalidState("cannot flush a failed stream")
	}

	var stopped *errors.AppError
	if status == pumpOpen {
		stopped, _ = p.halt(nil)
	}
	finish := func() {
		if stopped != nil {
			p.release(stopped)
		}
	}

	p.mu.Lock()
	if p.status == pumpDone || p.status == pumpFailed {
		// The producer reached its own end while being stopped.
		p.mu.Unlock()
		return Turn{}, errors.InvalidState("stream already finalized")
	}
	if len(p.turn.Segments) == 0 && p.tools.Len() == 0 {
		p.mu.Unlock()
		finish()
		return Turn{}, errors.InvalidState("nothing to flush")
	}
	p.turn.ToolCalls = p.tools.Build()
	p.turn.Finished = true
	p.turn.Metadata = withMeta(p.turn.Metadata, "partial", true)
	p.status = pumpFlushed
	p.err = nil
	turn := p.turn.Clone()
	p.mu.Unlock()

	if p.cfg.OnFinal != nil {
		p.cfg.OnFinal(turn.Clone())
	}
	finish()
	return turn, nil
}

// All returns the remaining events as an iterator. The sequence ends after
// the terminal event; an Error event is yielded with its error. Breaking out
// of the loop early closes the stream.
func (p *Pump) All(ctx context.Context) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		for {
			ev, err := p.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(ev, err) {
				_ = p.Close()
				return
			}
			if err != nil || ev.Terminal() {
				return
			}
		}
	}
}

// Turn returns a copy of the in-flight or final turn.
func (p *Pump) Turn() Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.turn.Clone()
	if !t.Finished {
		t.ToolCalls = p.tools.Build()
	}
	return t
}

// Err returns the terminal error, or nil while open or after success.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Buffered returns the number of events waiting for the consumer.
func (p *Pump) Buffered() int { return len(p.events) }

// Capacity returns the buffer size.
func (p *Pump) Capacity() int { return cap(p.events) }

// HighWater returns the largest buffer occupancy observed.
func (p *Pump) HighWater() int { return int(p.highWater.Load()) }

// BytesRead returns the number of body bytes consumed.
func (p *Pump) BytesRead() int64 { return p.bytesRead.Load() }

// Chunks returns the number of body reads that returned data.
func (p *Pump) Chunks() int64 { return p.chunks.Load() }

func withMeta(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any, 1)
	}
	m[key] = value
	return m
}
