// Package validation checks llmhub configuration values.
//
// Struct tags are evaluated with go-playground/validator; cross-field rules
// that tags cannot express are collected with a Validator. Both return an
// *errors.AppError with code INVALID_CONFIG and the offending fields in
// Details["fields"].
//
//	type RateLimit struct {
//	    RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
//	}
//	err := validation.Validate(cfg)
//
//	v := validation.New()
//	v.Custom(cfg.Burst >= 1 || cfg.Rate == 0, "burst", "must be at least 1 when rate is set")
//	err := v.Validate()
package validation
