package llm

import (
	"context"
	"io"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/akirco/llmhub/errors"
	"github.com/akirco/llmhub/logger"
	"github.com/akirco/llmhub/observability"
	"github.com/akirco/llmhub/resilience"
)

// Conversation is one dialogue with a provider. It owns its Memory and
// allows a single exchange at a time.
type Conversation struct {
	id     string
	client *Client
	params ModelParams
	window HistoryOptions

	mu     sync.Mutex
	memory *Memory
	busy   atomic.Bool
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithSystemPrompt starts the conversation with a system turn.
func WithSystemPrompt(text string) ConversationOption {
	return func(cv *Conversation) {
		if text != "" {
			_, _ = cv.memory.Append(SystemTurn(text))
		}
	}
}

// WithParams overlays generation settings on the client defaults.
func WithParams(p ModelParams) ConversationOption {
	return func(cv *Conversation) { cv.params = cv.params.merge(p) }
}

// WithMemory resumes from an existing memory, e.g. one from RestoreMemory.
func WithMemory(m *Memory) ConversationOption {
	return func(cv *Conversation) {
		if m != nil {
			cv.memory = m
		}
	}
}

// WithConversationID replaces the generated id.
func WithConversationID(id string) ConversationOption {
	return func(cv *Conversation) {
		if id != "" {
			cv.id = id
		}
	}
}

// WithHistoryWindow limits how much stored history each request carries.
func WithHistoryWindow(opts HistoryOptions) ConversationOption {
	return func(cv *Conversation) {
		opts.Order = Chronological
		cv.window = opts
	}
}

// NewConversation starts an empty conversation using the client's defaults.
func (c *Client) NewConversation(opts ...ConversationOption) *Conversation {
	cv := &Conversation{
		id:     uuid.NewString(),
		client: c,
		params: ModelParams{Model: c.cfg.Model}.merge(c.cfg.Params),
		memory: NewMemory(c.cfg.Memory, c.estimator),
	}
	for _, opt := range opts {
		opt(cv)
	}
	return cv
}

// ID returns the conversation id.
func (cv *Conversation) ID() string { return cv.id }

// Params returns the generation settings used for each request.
func (cv *Conversation) Params() ModelParams { return cv.params }

// Turns returns a copy of the stored turns.
func (cv *Conversation) Turns() []Turn {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.memory.Turns()
}

// History returns a window of the stored turns, copied at call time.
func (cv *Conversation) History(opts HistoryOptions) iter.Seq[Turn] {
	cv.mu.Lock()
	turns := slices.Collect(cv.memory.History(opts))
	cv.mu.Unlock()
	return slices.Values(turns)
}

// Len returns the number of stored turns.
func (cv *Conversation) Len() int {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.memory.Len()
}

// Clear drops the stored turns. It fails while an exchange is in flight.
func (cv *Conversation) Clear() error {
	if cv.busy.Load() {
		return errors.InvalidState("conversation has an exchange in flight")
	}
	cv.mu.Lock()
	cv.memory.Clear()
	cv.mu.Unlock()
	return nil
}

// Snapshot encodes the conversation memory. See RestoreMemory.
func (cv *Conversation) Snapshot() ([]byte, error) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.memory.Snapshot()
}

// Send runs a buffered exchange and returns the stored assistant turn.
// Connection failures are retried with backoff; once the stream has started
// nothing is retried. turn and the reply are appended to memory together,
// and only when the reply completes.
func (cv *Conversation) Send(ctx context.Context, turn Turn) (Turn, error) {
	s, err := cv.start(ctx, turn, cv.client.cfg.retryConfig())
	if err != nil {
		return Turn{}, err
	}
	defer s.Close()

	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return Turn{}, err
		}
		if ev.Kind == EventDone {
			break
		}
	}
	reply, ok := s.Result()
	if !ok {
		return Turn{}, errors.Internal(nil).WithDetail("reason", "stream ended without a stored reply")
	}
	return reply, nil
}

// SendText sends a user message and returns the reply text.
func (cv *Conversation) SendText(ctx context.Context, text string) (string, error) {
	reply, err := cv.Send(ctx, UserTurn(text))
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

// Stream starts an exchange and returns its event stream. The caller must
// drain or Close it. Cancelling ctx cancels the stream.
func (cv *Conversation) Stream(ctx context.Context, turn Turn) (*Stream, error) {
	return cv.start(ctx, turn, resilience.RetryConfig{MaxAttempts: 1})
}

// Stream is the consumer side of a streamed exchange.
type Stream struct {
	*Pump
	ex *exchange
}

// ConversationID returns the id of the owning conversation.
func (s *Stream) ConversationID() string { return s.ex.conv.id }

// Result returns the assistant turn as stored in memory, with its sequence
// id, once the stream completed or was flushed.
func (s *Stream) Result() (Turn, bool) {
	s.ex.mu.Lock()
	defer s.ex.mu.Unlock()
	return s.ex.stored, s.ex.hasStored
}

func (cv *Conversation) start(ctx context.Context, turn Turn, retry resilience.RetryConfig) (*Stream, error) {
	if !turn.Finished {
		return nil, errors.InvalidState("cannot send an unfinished turn")
	}
	if !cv.busy.CompareAndSwap(false, true) {
		return nil, errors.InvalidState("conversation has an exchange in flight")
	}
	c := cv.client

	ctx, span := observability.StartSpan(ctx, observability.SpanExchange,
		observability.AttrProvider.String(string(c.cfg.Provider)),
		observability.AttrModel.String(cv.params.Model),
		observability.AttrConversationID.String(cv.id),
	)
	ex := &exchange{
		client:  c,
		conv:    cv,
		ctx:     ctx,
		span:    span,
		start:   time.Now(),
		pending: turn.Clone(),
	}
	ex.emit(PhaseQueued, nil)

	if c.isClosed() {
		return nil, ex.abort(errors.Cancelled("client closed"))
	}

	cv.mu.Lock()
	ex.history = append(slices.Collect(cv.memory.History(cv.window)), ex.pending)
	cv.mu.Unlock()

	adapter, err := NewAdapter(c.cfg.Provider)
	if err != nil {
		return nil, ex.abort(err)
	}
	req, err := adapter.BuildRequest(ex.history, cv.params)
	if err != nil {
		return nil, ex.abort(err)
	}

	if c.bulkhead != nil {
		release, err := c.bulkhead.Acquire(ctx)
		if err != nil {
			return nil, ex.abort(err)
		}
		ex.releaseSlot = release
	}

	reserved, err := c.reserve(ctx, EstimateTurns(c.estimator, ex.history), cv.params.MaxTokens, func(expected time.Duration) {
		ex.emit(PhaseRateLimited, func(ev *Event) { ev.Wait = expected })
	})
	ex.reserved = reserved
	if err != nil {
		return nil, ex.abort(err)
	}

	retry.RetryIf = resilience.DefaultRetryIf
	retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.log.WithContext(ctx).Warn("retrying provider connection", logger.Fields(
			logger.FieldConversationID, cv.id,
			logger.FieldAttempt, attempt,
			logger.FieldError, err.Error(),
			"backoff_ms", backoff.Milliseconds(),
		))
	}
	body, err := resilience.Retry(ctx, retry, func(attempt int) (io.ReadCloser, error) {
		ex.attempt = attempt
		ex.emit(PhaseSending, nil)
		return ex.connect(req)
	})
	if err != nil {
		return nil, ex.abort(err)
	}

	pump := NewPump(ctx, adapter, body, PumpConfig{
		Buffer:       c.cfg.StreamBuffer,
		CloseTimeout: c.cfg.CloseTimeout,
		Turn:         Turn{Role: RoleAssistant},
		OnFinal:      ex.commit,
		OnClose:      ex.closed,
	})
	if !c.track(ex, pump) {
		_ = pump.Close()
		return nil, errors.Cancelled("client closed")
	}
	ex.streamed = true
	ex.emit(PhaseStreaming, nil)
	return &Stream{Pump: pump, ex: ex}, nil
}

// exchange carries the state of one request through its phases.
type exchange struct {
	client *Client
	conv   *Conversation
	ctx    context.Context
	span   trace.Span
	start  time.Time

	pending     Turn
	history     []Turn
	reserved    int
	attempt     int
	streamed    bool
	releaseSlot func()

	mu        sync.Mutex
	stored    Turn
	hasStored bool
	endOnce   sync.Once
}

func (ex *exchange) emit(phase Phase, fill func(*Event)) {
	ev := Event{
		Client:         ex.client.cfg.Name,
		Provider:       ex.client.cfg.Provider,
		Model:          ex.conv.params.Model,
		ConversationID: ex.conv.id,
		Phase:          phase,
		Attempt:        ex.attempt,
		Latency:        time.Since(ex.start),
	}
	if fill != nil {
		fill(&ev)
	}
	ex.client.observer.Observe(ex.ctx, ev)
}

func (ex *exchange) connect(req WireRequest) (io.ReadCloser, error) {
	ctx, span := observability.StartSpan(ex.ctx, observability.SpanConnect,
		observability.AttrAttempt.Int(ex.attempt))
	breaker := ex.client.breaker
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			observability.EndSpan(span, err)
			return nil, err
		}
	}
	body, err := ex.client.transport.Send(ctx, req)
	if err != nil {
		err = errors.Wrap(err)
	}
	if breaker != nil {
		breaker.Record(err)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// commit stores the pending turn and the reply. It runs in the consumer's
// goroutine for a completed or flushed stream.
func (ex *exchange) commit(reply Turn) {
	ex.emit(PhaseFinalizing, nil)
	cv := ex.conv

	cv.mu.Lock()
	_, err := cv.memory.Append(ex.pending)
	var stored Turn
	if err == nil {
		stored, err = cv.memory.Append(reply)
	}
	cv.mu.Unlock()
	if err != nil {
		ex.client.log.Error("cannot store exchange", logger.ErrorFields("commit", err))
		return
	}

	ex.mu.Lock()
	ex.stored, ex.hasStored = stored, true
	ex.mu.Unlock()

	if reply.Usage != nil && reply.Usage.PromptTokens > 0 {
		ex.client.estimator.Observe(ex.history, reply.Usage.PromptTokens)
	}
}

// closed runs once when the pump reaches a terminal state.
func (ex *exchange) closed(turn Turn, err error) {
	ex.client.untrack(ex)
	ex.client.refund(ex.reserved, turn.Usage)
	ex.end(err, func(ev *Event) {
		ev.FinishReason = turn.FinishReason
		if turn.Usage != nil {
			ev.TokensIn = turn.Usage.PromptTokens
			ev.TokensOut = turn.Usage.CompletionTokens
		}
	})
}

// abort ends an exchange that never reached streaming and returns err.
func (ex *exchange) abort(err error) error {
	ex.end(err, nil)
	return err
}

func (ex *exchange) end(err error, fill func(*Event)) {
	ex.endOnce.Do(func() {
		if ex.releaseSlot != nil {
			ex.releaseSlot()
		}
		phase := PhaseCompleted
		switch {
		case err == nil:
		case errors.IsCancelled(err):
			phase = PhaseCancelled
		default:
			phase = PhaseFailed
		}
		ex.emit(phase, func(ev *Event) {
			ev.Streamed = ex.streamed
			if err != nil {
				ev.Err = err
				ev.ErrorKind = errors.KindOf(err)
			}
			if fill != nil {
				fill(ev)
			}
		})
		ex.span.SetAttributes(observability.AttrOutcome.String(string(phase)))
		observability.EndSpan(ex.span, err)
		ex.conv.busy.Store(false)
	})
}
