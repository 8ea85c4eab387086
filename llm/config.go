package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/akirco/llmhub/config"
	"github.com/akirco/llmhub/errors"
	"github.com/akirco/llmhub/httpclient"
	"github.com/akirco/llmhub/logger"
	"github.com/akirco/llmhub/observability"
	"github.com/akirco/llmhub/resilience"
	"github.com/akirco/llmhub/validation"
)

// RateLimitConfig sizes the two per-provider token buckets. A zero rate
// disables that bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	RequestBurst      int     `yaml:"request_burst" mapstructure:"request_burst" validate:"gte=0"`
	TokensPerSecond   float64 `yaml:"tokens_per_second" mapstructure:"tokens_per_second" validate:"gte=0"`
	TokenBurst        int     `yaml:"token_burst" mapstructure:"token_burst" validate:"gte=0"`
	// MaxWait bounds how long an exchange may queue for either bucket. Zero waits indefinitely.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait" validate:"gte=0"`
}

// RetryConfig controls reconnects on transport failures before streaming starts.
type RetryConfig struct {
	// MaxAttempts includes the first try. One disables retries.
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff" validate:"gte=0"`
	Jitter         float64       `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// CircuitBreakerConfig trips the provider after consecutive transport failures.
type CircuitBreakerConfig struct {
	// MaxFailures is the trip threshold. Zero disables the breaker.
	MaxFailures  int           `yaml:"max_failures" mapstructure:"max_failures" validate:"gte=0"`
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout" validate:"gte=0"`
}

// ClientConfig configures a Client for one provider. NewClient keeps its own
// copy, so later changes to the caller's value have no effect.
type ClientConfig struct {
	// Name labels logs and metrics. Defaults to the provider kind.
	Name     string            `yaml:"name" mapstructure:"name"`
	Provider ProviderKind      `yaml:"provider" mapstructure:"provider" validate:"required"`
	BaseURL  string            `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,http_url"`
	APIKey   string            `yaml:"api_key" mapstructure:"api_key"`
	Model    string            `yaml:"model" mapstructure:"model"`
	Headers  map[string]string `yaml:"headers" mapstructure:"headers"`

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"gte=0"`
	// Timeout bounds the wait for response headers. Streamed bodies are
	// bounded by the caller's context only.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`

	StreamBuffer int `yaml:"stream_buffer" mapstructure:"stream_buffer" validate:"gte=0"`
	// CloseTimeout bounds how long cancelling a stream waits for its reader.
	CloseTimeout time.Duration `yaml:"close_timeout" mapstructure:"close_timeout" validate:"gte=0"`
	// MaxConcurrentStreams caps in-flight exchanges. Zero means unlimited.
	MaxConcurrentStreams int `yaml:"max_concurrent_streams" mapstructure:"max_concurrent_streams" validate:"gte=0"`

	RateLimit      RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`

	// Memory is the default for new conversations.
	Memory MemoryConfig `yaml:"memory" mapstructure:"memory"`
	// Params are the default generation settings for new conversations.
	Params ModelParams `yaml:"params" mapstructure:"params"`
}

// ApplyDefaults fills zero fields, including the provider's base URL and model.
func (c *ClientConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = string(c.Provider)
	}
	if c.BaseURL == "" {
		c.BaseURL = c.Provider.DefaultBaseURL()
	}
	if c.Model == "" {
		c.Model = c.Provider.DefaultModel()
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 10 * time.Second
	}
	if c.CircuitBreaker.ResetTimeout == 0 {
		c.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
	if c.Memory.MaxTurns == 0 {
		c.Memory.MaxTurns = DefaultMaxTurns
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	return validation.New().
		Merge(validation.Validate(c)).
		Custom(c.Provider == "" || c.Provider.Valid(), "provider", fmt.Sprintf("unknown provider %q", c.Provider)).
		Custom(c.Provider != ProviderGeneric || c.BaseURL != "", "base_url", "is required for the generic provider").
		Custom(c.Retry.MaxBackoff == 0 || c.Retry.MaxBackoff >= c.Retry.InitialBackoff, "retry.max_backoff", "must not be below initial_backoff").
		Validate()
}

func (c *ClientConfig) httpConfig() httpclient.Config {
	return httpclient.Config{
		Name:            c.Name,
		BaseURL:         c.BaseURL,
		ConnectTimeout:  c.ConnectTimeout,
		ResponseTimeout: c.Timeout,
		Auth:            c.Provider.Auth(c.APIKey),
		Headers:         c.Headers,
	}
}

func (c *ClientConfig) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         c.Retry.Jitter,
	}
}

// FileConfig is the layout of an llmhub configuration file.
type FileConfig struct {
	Logging   logger.Config        `yaml:"logging" mapstructure:"logging"`
	Telemetry observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
	Providers []ClientConfig       `yaml:"providers" mapstructure:"providers"`
}

// Find returns the provider entry with the given name or kind.
func (f *FileConfig) Find(name string) (ClientConfig, bool) {
	for _, p := range f.Providers {
		if p.Name == name {
			return p, true
		}
	}
	for _, p := range f.Providers {
		if string(p.Provider) == name {
			return p, true
		}
	}
	return ClientConfig{}, false
}

// LoadConfigs reads serviceName's configuration file and .env, then applies
// <PREFIX>_API_KEY, <PREFIX>_API_BASE and <PREFIX>_MODEL for every provider
// kind (for example DEEPSEEK_API_KEY). A provider that only appears in the
// environment is added with defaults. Every entry is defaulted and validated.
func LoadConfigs(serviceName string, opts ...config.LoaderOption) (*FileConfig, error) {
	var fc FileConfig
	if err := config.LoadConfig(serviceName, &fc, opts...); err != nil {
		return nil, err
	}
	applyEnvOverrides(&fc)

	seen := make(map[string]bool, len(fc.Providers))
	for i := range fc.Providers {
		p := &fc.Providers[i]
		p.ApplyDefaults()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, errors.InvalidConfig(fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
	}
	fc.Logging.ApplyDefaults()
	if err := fc.Logging.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// applyEnvOverrides reads the environment directly since viper cannot bind
// variables to elements of a list.
func applyEnvOverrides(fc *FileConfig) {
	for _, kind := range ProviderKinds() {
		prefix := kind.EnvPrefix()
		key, base, model := os.Getenv(prefix+"_API_KEY"), os.Getenv(prefix+"_API_BASE"), os.Getenv(prefix+"_MODEL")
		if key == "" && base == "" && model == "" {
			continue
		}
		idx := -1
		for i, p := range fc.Providers {
			if p.Provider == kind {
				idx = i
				break
			}
		}
		if idx < 0 {
			fc.Providers = append(fc.Providers, ClientConfig{Provider: kind})
			idx = len(fc.Providers) - 1
		}
		p := &fc.Providers[idx]
		if key != "" {
			p.APIKey = key
		}
		if base != "" {
			p.BaseURL = base
		}
		if model != "" {
			p.Model = model
		}
	}
}

// WriteDefaultConfig writes a starter configuration listing every hosted
// provider with placeholder keys. The format follows the file extension.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.InvalidConfig("create config directory").WithCause(err)
	}

	var providers []map[string]any
	for _, kind := range ProviderKinds() {
		if kind == ProviderGeneric {
			continue
		}
		providers = append(providers, map[string]any{
			"provider": string(kind),
			"base_url": kind.DefaultBaseURL(),
			"model":    kind.DefaultModel(),
			"api_key":  fmt.Sprintf("your_%s_key_here", kind),
		})
	}

	v := viper.New()
	v.Set("logging", map[string]any{"level": "info", "format": "console"})
	v.Set("telemetry", map[string]any{"enabled": false})
	v.Set("providers", providers)
	if err := v.WriteConfigAs(path); err != nil {
		return errors.InvalidConfig(fmt.Sprintf("write %s", path)).WithCause(err)
	}
	return nil
}
