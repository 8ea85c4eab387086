package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/akirco/llmhub/httpclient"
	"github.com/akirco/llmhub/logger"
	"github.com/akirco/llmhub/observability"
	"github.com/akirco/llmhub/resilience"
)

// Client talks to one provider. It owns the provider's rate limiters,
// concurrency cap and circuit breaker, so every Conversation created from
// it shares them. A Client is safe for concurrent use.
type Client struct {
	cfg       ClientConfig
	transport Transport
	observer  Observer
	log       *logger.Logger
	estimator Estimator

	requests *resilience.RateLimiter
	tokens   *resilience.RateLimiter
	bulkhead *resilience.Bulkhead
	breaker  *resilience.CircuitBreaker

	httpClient *http.Client

	mu      sync.Mutex
	closed  bool
	streams map[*exchange]*Pump
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithHTTPClient sends requests through hc, e.g. one configured with a proxy.
// Connect and header timeouts from the config are then hc's responsibility.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver receives lifecycle events instead of the default LogObserver.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger used for client diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithEstimator sets the token estimator shared by the client's conversations.
func WithEstimator(e Estimator) Option {
	return func(c *Client) { c.estimator = e }
}

// NewClient validates cfg and builds a client for its provider.
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Headers = cloneHeaders(cfg.Headers)

	c := &Client{
		cfg:     cfg,
		streams: make(map[*exchange]*Pump),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.WithComponent("llm")
	}
	c.log = c.log.WithFields(logger.Fields(logger.FieldProvider, string(cfg.Provider), "client", cfg.Name))
	if c.observer == nil {
		c.observer = NewLogObserver(c.log)
	}
	if c.estimator == nil {
		c.estimator = NewCharEstimator()
	}
	if c.transport == nil {
		var hc *httpclient.Client
		var err error
		if c.httpClient != nil {
			hc, err = httpclient.NewWithHTTPClient(cfg.httpConfig(), c.httpClient)
		} else {
			hc, err = httpclient.New(cfg.httpConfig())
		}
		if err != nil {
			return nil, err
		}
		c.transport = NewHTTPTransport(hc)
	}

	c.requests = resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:    cfg.Name,
		Rate:    cfg.RateLimit.RequestsPerSecond,
		Burst:   float64(cfg.RateLimit.RequestBurst),
		MaxWait: cfg.RateLimit.MaxWait,
	})
	c.tokens = resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:    cfg.Name,
		Rate:    cfg.RateLimit.TokensPerSecond,
		Burst:   float64(cfg.RateLimit.TokenBurst),
		MaxWait: cfg.RateLimit.MaxWait,
	})
	if cfg.MaxConcurrentStreams > 0 {
		c.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          cfg.Name,
			MaxConcurrent: cfg.MaxConcurrentStreams,
			OnReject: func(string) {
				c.log.Warn("stream rejected", logger.Fields("max_concurrent_streams", cfg.MaxConcurrentStreams))
			},
		})
	}
	if cfg.CircuitBreaker.MaxFailures > 0 {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        cfg.Name,
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			Cooldown:    cfg.CircuitBreaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				c.log.Warn("circuit state changed", logger.Fields("from", from.String(), "to", to.String()))
			},
		})
	}

	c.log.Debug("client created", logger.Fields(
		logger.FieldModel, cfg.Model,
		"base_url", cfg.BaseURL,
		"api_key", httpclient.RedactKey(cfg.APIKey),
	))
	return c, nil
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() ClientConfig {
	cfg := c.cfg
	cfg.Headers = cloneHeaders(cfg.Headers)
	return cfg
}

// Provider returns the provider kind.
func (c *Client) Provider() ProviderKind { return c.cfg.Provider }

// Estimator returns the token estimator.
func (c *Client) Estimator() Estimator { return c.estimator }

// InFlight returns the number of open streams.
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// Close fails queued rate-limit waiters with Cancelled, cancels every open
// stream and releases idle connections. Later exchanges fail with Cancelled.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pumps := make([]*Pump, 0, len(c.streams))
	for _, p := range c.streams {
		pumps = append(pumps, p)
	}
	c.mu.Unlock()

	c.requests.Close()
	c.tokens.Close()

	var errs []error
	for _, p := range pumps {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	c.log.Debug("client closed", logger.Fields("cancelled_streams", len(pumps)))
	return stderrors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// track registers an open stream. It fails once the client is closed.
func (c *Client) track(ex *exchange, p *Pump) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.streams[ex] = p
	return true
}

func (c *Client) untrack(ex *exchange) {
	c.mu.Lock()
	delete(c.streams, ex)
	c.mu.Unlock()
}

// CheckHealth maps the circuit breaker state to a health status.
func (c *Client) CheckHealth(context.Context) observability.Health {
	h := observability.Health{
		Name:   c.cfg.Name,
		Status: observability.HealthStatusUp,
		Details: map[string]string{
			"provider":  string(c.cfg.Provider),
			"in_flight": strconv.Itoa(c.InFlight()),
			"queued":    strconv.Itoa(c.requests.Pending() + c.tokens.Pending()),
		},
	}
	if c.bulkhead != nil {
		s := c.bulkhead.Stats()
		h.Details["streams"] = fmt.Sprintf("%d/%d", s.InUse, s.Max)
		h.Details["streams_rejected"] = strconv.FormatInt(s.Rejected, 10)
	}
	if c.isClosed() {
		h.Status = observability.HealthStatusDown
		h.Message = "client closed"
		return h
	}
	if c.breaker == nil {
		return h
	}
	snap := c.breaker.Snapshot()
	h.Details["circuit"] = snap.State.String()
	h.Details["failures"] = strconv.Itoa(snap.Failures)
	switch snap.State {
	case resilience.StateHalfOpen:
		h.Status = observability.HealthStatusDegraded
		h.Message = "probing provider after failures"
	case resilience.StateOpen:
		h.Status = observability.HealthStatusDown
		h.Message = fmt.Sprintf("circuit open after %d failures", snap.Failures)
		h.Details["retry_in"] = snap.RetryIn.Round(time.Second).String()
	}
	return h
}

// reserve waits on both limiters and returns the token cost it debited.
// onQueue runs at most once, when the exchange first has to queue on either
// limiter. A failed token wait hands the request slot back.
func (c *Client) reserve(ctx context.Context, promptTokens, maxTokens int, onQueue func(expected time.Duration)) (int, error) {
	var queued bool
	notify := func(expected time.Duration) {
		if !queued && onQueue != nil {
			queued = true
			onQueue(expected)
		}
	}
	if err := c.requests.AcquireNotify(ctx, 1, notify); err != nil {
		return 0, err
	}
	cost := promptTokens + maxTokens
	if burst := int(c.tokens.Burst()); c.tokens.Rate() > 0 && cost > burst {
		cost = burst
	}
	if err := c.tokens.AcquireNotify(ctx, float64(cost), notify); err != nil {
		c.requests.Refund(1)
		return 0, err
	}
	return cost, nil
}

// refund returns the part of a token reservation the exchange did not use.
func (c *Client) refund(reserved int, usage *Usage) {
	if usage == nil || usage.TotalTokens <= 0 {
		return
	}
	if unused := reserved - usage.TotalTokens; unused > 0 {
		c.tokens.Refund(float64(unused))
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
