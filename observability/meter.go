package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/akirco/llmhub/logger"
)

// InitMeter installs a global meter provider exporting over OTLP HTTP.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.MetricInterval.String(),
	))
	return mp, nil
}

// Meter returns the llmhub meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// LLMMetrics holds the instruments recorded for provider exchanges.
type LLMMetrics struct {
	exchanges     metric.Int64Counter
	phases        metric.Int64Counter
	duration      metric.Float64Histogram
	firstByte     metric.Float64Histogram
	active        metric.Int64UpDownCounter
	tokens        metric.Int64Counter
	rateLimitWait metric.Float64Histogram
	errors        metric.Int64Counter
}

// NewLLMMetrics creates the llmhub instruments on meter.
func NewLLMMetrics(meter metric.Meter) (*LLMMetrics, error) {
	var (
		m   LLMMetrics
		err error
	)
	if m.exchanges, err = meter.Int64Counter("llm.exchanges",
		metric.WithDescription("Completed exchanges by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.exchanges counter: %w", err)
	}
	if m.phases, err = meter.Int64Counter("llm.phases",
		metric.WithDescription("Lifecycle phase transitions"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.phases counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("llm.exchange.duration",
		metric.WithDescription("Exchange duration from queueing to terminal phase"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.exchange.duration histogram: %w", err)
	}
	if m.firstByte, err = meter.Float64Histogram("llm.stream.first_event",
		metric.WithDescription("Latency until the stream started"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.stream.first_event histogram: %w", err)
	}
	if m.active, err = meter.Int64UpDownCounter("llm.streams.active",
		metric.WithDescription("Streams currently open"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.streams.active counter: %w", err)
	}
	if m.tokens, err = meter.Int64Counter("llm.tokens",
		metric.WithDescription("Tokens reported by providers"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.tokens counter: %w", err)
	}
	if m.rateLimitWait, err = meter.Float64Histogram("llm.ratelimit.wait",
		metric.WithDescription("Time spent waiting on provider rate limits"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.ratelimit.wait histogram: %w", err)
	}
	if m.errors, err = meter.Int64Counter("llm.errors",
		metric.WithDescription("Failed exchanges by error kind"),
	); err != nil {
		return nil, fmt.Errorf("creating llm.errors counter: %w", err)
	}
	return &m, nil
}

// RecordPhase counts a phase transition.
func (m *LLMMetrics) RecordPhase(ctx context.Context, provider, phase string) {
	m.phases.Add(ctx, 1, metric.WithAttributes(
		AttrProvider.String(provider),
		AttrPhase.String(phase),
	))
}

// StreamStarted marks a stream as open and records the time it took to get there.
func (m *LLMMetrics) StreamStarted(ctx context.Context, provider string, latency time.Duration) {
	m.active.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider)))
	m.firstByte.Record(ctx, latency.Seconds(), metric.WithAttributes(AttrProvider.String(provider)))
}

// StreamEnded releases an open stream.
func (m *LLMMetrics) StreamEnded(ctx context.Context, provider string) {
	m.active.Add(ctx, -1, metric.WithAttributes(AttrProvider.String(provider)))
}

// RecordExchange records a finished exchange. errorKind is empty on success.
func (m *LLMMetrics) RecordExchange(ctx context.Context, provider, outcome, errorKind string, duration time.Duration) {
	m.exchanges.Add(ctx, 1, metric.WithAttributes(
		AttrProvider.String(provider),
		AttrOutcome.String(outcome),
	))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		AttrProvider.String(provider),
		AttrOutcome.String(outcome),
	))
	if errorKind != "" {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			AttrProvider.String(provider),
			AttrErrorKind.String(errorKind),
		))
	}
}

// RecordTokens adds provider-reported token usage.
func (m *LLMMetrics) RecordTokens(ctx context.Context, provider string, in, out int) {
	if in > 0 {
		m.tokens.Add(ctx, int64(in), metric.WithAttributes(
			AttrProvider.String(provider), attribute.String("direction", "input")))
	}
	if out > 0 {
		m.tokens.Add(ctx, int64(out), metric.WithAttributes(
			AttrProvider.String(provider), attribute.String("direction", "output")))
	}
}

// RecordRateLimitWait records time spent waiting on a limiter.
func (m *LLMMetrics) RecordRateLimitWait(ctx context.Context, provider string, wait time.Duration) {
	m.rateLimitWait.Record(ctx, wait.Seconds(), metric.WithAttributes(AttrProvider.String(provider)))
}
