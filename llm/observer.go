package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/akirco/llmhub/errors"
	"github.com/akirco/llmhub/logger"
	"github.com/akirco/llmhub/observability"
)

// Phase is a step in the lifecycle of one exchange.
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseRateLimited Phase = "rate_limited"
	PhaseSending     Phase = "sending"
	PhaseStreaming   Phase = "streaming"
	PhaseFinalizing  Phase = "finalizing"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
	PhaseCancelled   Phase = "cancelled"
)

// Terminal reports whether no phase follows p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Event reports a phase transition of an exchange.
type Event struct {
	Client         string
	Provider       ProviderKind
	Model          string
	ConversationID string
	Phase          Phase
	// Attempt is the connection attempt, starting at 1.
	Attempt int
	// Latency is the time since the exchange was queued.
	Latency time.Duration
	// Wait is the expected time queued on the rate limiters, set on rate_limited.
	Wait      time.Duration
	TokensIn  int
	TokensOut int
	// Streamed reports, on a terminal event, that the Streaming phase was reached.
	Streamed     bool
	FinishReason string
	ErrorKind    errors.ErrorCode
	Err          error
}

// Observer receives lifecycle events. Observe runs inline on the exchange's
// goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(ctx, ev)
		}
	}
}

// LogObserver writes events to a structured logger. Terminal phases log at
// info or warn, the rest at debug.
type LogObserver struct {
	log *logger.Logger
}

// NewLogObserver logs through log, or the global logger when log is nil.
func NewLogObserver(log *logger.Logger) *LogObserver {
	if log == nil {
		log = logger.WithComponent("llm")
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) Observe(ctx context.Context, ev Event) {
	fields := logger.Fields(
		logger.FieldProvider, string(ev.Provider),
		logger.FieldPhase, string(ev.Phase),
		logger.FieldConversationID, ev.ConversationID,
	)
	if ev.Model != "" {
		fields[logger.FieldModel] = ev.Model
	}
	if ev.Attempt > 1 {
		fields[logger.FieldAttempt] = ev.Attempt
	}
	if ev.Latency > 0 {
		logger.MergeWithDuration(fields, ev.Latency)
	}

	log := o.log.WithContext(ctx)
	switch ev.Phase {
	case PhaseCompleted:
		fields[logger.FieldTokensIn] = ev.TokensIn
		fields[logger.FieldTokensOut] = ev.TokensOut
		fields["finish_reason"] = ev.FinishReason
		log.Info("exchange completed", fields)
	case PhaseFailed:
		fields[logger.FieldErrorKind] = string(ev.ErrorKind)
		if ev.Err != nil {
			fields[logger.FieldError] = ev.Err.Error()
		}
		if ev.ErrorKind == errors.ErrCodeInternal {
			log.Error("exchange failed", fields)
			return
		}
		log.Warn("exchange failed", fields)
	case PhaseCancelled:
		log.Info("exchange cancelled", fields)
	case PhaseRateLimited:
		fields["wait_ms"] = ev.Wait.Milliseconds()
		log.Debug("exchange rate limited", fields)
	default:
		log.Debug("exchange phase", fields)
	}
}

// MetricsObserver records events as OpenTelemetry metrics and as events on
// the span carried by ctx.
type MetricsObserver struct {
	metrics *observability.LLMMetrics
}

// NewMetricsObserver creates the llmhub instruments on the global meter.
func NewMetricsObserver() (*MetricsObserver, error) {
	m, err := observability.NewLLMMetrics(observability.Meter())
	if err != nil {
		return nil, err
	}
	return &MetricsObserver{metrics: m}, nil
}

// NewMetricsObserverWith records into existing instruments.
func NewMetricsObserverWith(m *observability.LLMMetrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) Observe(ctx context.Context, ev Event) {
	provider := string(ev.Provider)
	o.metrics.RecordPhase(ctx, provider, string(ev.Phase))

	attrs := []attribute.KeyValue{observability.AttrPhase.String(string(ev.Phase))}
	if ev.Attempt > 0 {
		attrs = append(attrs, observability.AttrAttempt.Int(ev.Attempt))
	}

	switch ev.Phase {
	case PhaseRateLimited:
		o.metrics.RecordRateLimitWait(ctx, provider, ev.Wait)
	case PhaseStreaming:
		o.metrics.StreamStarted(ctx, provider, ev.Latency)
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		if ev.Streamed {
			o.metrics.StreamEnded(ctx, provider)
		}
		o.metrics.RecordExchange(ctx, provider, string(ev.Phase), string(ev.ErrorKind), ev.Latency)
		o.metrics.RecordTokens(ctx, provider, ev.TokensIn, ev.TokensOut)
		if ev.ErrorKind != "" {
			attrs = append(attrs, observability.AttrErrorKind.String(string(ev.ErrorKind)))
		}
	}
	observability.AddSpanEvent(ctx, "llm.phase", attrs...)
}
