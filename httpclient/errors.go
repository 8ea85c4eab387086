package httpclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/akirco/llmhub/errors"
)

// ClassifyStatus converts a non-2xx response into the error taxonomy:
//
//	429          -> RATE_LIMIT_EXCEEDED (Retry-After in Details["retry_after_ms"])
//	408, 5xx     -> TRANSPORT_ERROR (retryable)
//	other 4xx    -> PROVIDER_ERROR (status in Details["status"])
//
// It returns nil for 2xx status codes.
func ClassifyStatus(name string, status int, header http.Header, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := providerMessage(body)

	switch {
	case status == http.StatusTooManyRequests:
		appErr := errors.RateLimitExceeded(name).WithDetail("status", status)
		appErr.HTTPStatus = status
		if d, ok := retryAfter(header); ok {
			appErr.WithDetail("retry_after_ms", d.Milliseconds())
		}
		if msg != "" {
			appErr.Message += ": " + msg
		}
		return appErr
	case status == http.StatusRequestTimeout || status >= 500:
		if msg == "" {
			msg = http.StatusText(status)
		}
		appErr := errors.Transport(stderrors.New(msg)).WithDetail("status", status)
		appErr.HTTPStatus = status
		return appErr
	default:
		return errors.Provider(name, status, msg).WithDetail("status", status)
	}
}

// ClassifyTransport converts a failure to obtain a response into the taxonomy.
// Explicit cancellation is CANCELLED; timeouts and network failures are
// retryable TRANSPORT_ERRORs.
func ClassifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(ctx.Err(), context.Canceled) || stderrors.Is(err, context.Canceled) {
		return errors.Cancelled("request cancelled").WithCause(err)
	}
	appErr := errors.Transport(err)
	var netErr net.Error
	if (stderrors.As(err, &netErr) && netErr.Timeout()) || stderrors.Is(err, context.DeadlineExceeded) {
		appErr.WithDetail("timeout", true)
	}
	return appErr
}

// providerMessage extracts a human-readable message from a provider error
// body. It understands {"error":{"message":...}}, {"error":"..."} and
// {"message":...}, and falls back to the trimmed body.
func providerMessage(body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if len(envelope.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			}
			if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var flat string
			if json.Unmarshal(envelope.Error, &flat) == nil && flat != "" {
				return flat
			}
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	const maxLen = 512
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}

func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
