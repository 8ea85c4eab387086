package validation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/akirco/llmhub/errors"
)

func TestValidatorHTTPURL(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"", false},
		{"https://api.deepseek.com", false},
		{"http://localhost:11434", false},
		{"ftp://example.com", true},
		{"/relative/path", true},
		{"https://", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := New().HTTPURL("base_url", tt.value).HasErrors(); got != tt.wantErr {
				t.Errorf("HTTPURL(%q) hasErrors = %v, want %v", tt.value, got, tt.wantErr)
			}
		})
	}
}

func TestValidatorMin(t *testing.T) {
	v := New().Min("burst", 0.5, 1).Min("rate", 2, 1)
	if len(v.Errors()) != 1 || v.Errors()[0].Field != "burst" {
		t.Fatalf("errors = %v", v.Errors())
	}
	if !strings.Contains(v.Errors()[0].Message, "at least 1") {
		t.Errorf("message = %q", v.Errors()[0].Message)
	}
}

func TestValidatorValidate(t *testing.T) {
	if err := New().Validate(); err != nil {
		t.Fatalf("Validate() on clean validator = %v", err)
	}

	err := New().
		Custom(false, "rate_limit.token_burst", "must be set when tokens_per_second is set").
		Custom(false, "model", "is required").
		Validate()

	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeInvalidConfig {
		t.Errorf("code = %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "model: is required") {
		t.Errorf("message = %q", appErr.Message)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok || len(fields) != 2 {
		t.Errorf("fields detail = %v", appErr.Details["fields"])
	}
}

type limits struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
	MaxWait           time.Duration `mapstructure:"max_wait" validate:"gte=0"`
}

type provider struct {
	Name    string `mapstructure:"name" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,http_url"`
	Limits  limits `mapstructure:"rate_limit"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         provider
		wantFields []string
	}{
		{"valid", provider{Name: "deepseek", BaseURL: "https://api.deepseek.com"}, nil},
		{"missing name", provider{}, []string{"name"}},
		{"bad url", provider{Name: "x", BaseURL: "nope"}, []string{"base_url"}},
		{"negative nested", provider{Name: "x", Limits: limits{RequestsPerSecond: -1}}, []string{"rate_limit.requests_per_second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.in)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			appErr, ok := errors.AsAppError(err)
			if !ok {
				t.Fatalf("expected AppError, got %v", err)
			}
			fields := appErr.Details["fields"].([]FieldError)
			for i, want := range tt.wantFields {
				if fields[i].Field != want {
					t.Errorf("field[%d] = %q, want %q", i, fields[i].Field, want)
				}
			}
		})
	}
}

func TestValidatorMerge(t *testing.T) {
	structErr := Validate(provider{})
	v := New().Merge(structErr).Merge(fmt.Errorf("plain")).Merge(nil)
	if len(v.Errors()) != 2 {
		t.Errorf("errors = %v, want 2", v.Errors())
	}
}

func TestToSnakeCase(t *testing.T) {
	if got := toSnakeCase("MaxWait"); got != "max_wait" {
		t.Errorf("toSnakeCase() = %q", got)
	}
}
