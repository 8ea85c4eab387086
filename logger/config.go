package logger

import "github.com/akirco/llmhub/validation"

// Config is the logging section of an llmhub configuration file.
type Config struct {
	// Level is one of trace, debug, info, warn, error or disabled.
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	// Format is json for machines or console for humans.
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json console"`
	// Output is stdout, stderr or discard.
	Output    string `yaml:"output" mapstructure:"output" validate:"omitempty,oneof=stdout stderr discard"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults selects info-level JSON on stderr with timestamps.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
	c.Timestamp = true
}

// Validate rejects unknown levels and formats.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
