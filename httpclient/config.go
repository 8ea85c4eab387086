package httpclient

import (
	"time"

	"github.com/akirco/llmhub/validation"
)

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultResponseTimeout = 60 * time.Second
	defaultMaxErrorBody    = 64 << 10
)

// Config configures the HTTP client.
type Config struct {
	// Name labels errors and logs, usually the provider name.
	Name string `yaml:"name" mapstructure:"name"`

	// BaseURL is the base URL prepended to all request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// ConnectTimeout bounds dialing and the TLS handshake. Defaults to 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// ResponseTimeout bounds the wait for response headers. The body of a
	// streamed response is not bounded; cancel the context instead. Defaults to 60s.
	ResponseTimeout time.Duration `yaml:"response_timeout" mapstructure:"response_timeout"`

	// Auth sets credentials on every request unless the request has its own.
	Auth Auth `yaml:"-" mapstructure:"-"`

	// Headers are default headers applied to all requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// MaxErrorBody caps how much of an error response body is read. Defaults to 64 KiB.
	MaxErrorBody int64 `yaml:"max_error_body" mapstructure:"max_error_body"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.MaxErrorBody <= 0 {
		c.MaxErrorBody = defaultMaxErrorBody
	}
	if c.Name == "" {
		c.Name = "http"
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	return validation.New().
		HTTPURL("base_url", c.BaseURL).
		Min("connect_timeout", float64(c.ConnectTimeout), 1).
		Min("response_timeout", float64(c.ResponseTimeout), 1).
		Validate()
}
