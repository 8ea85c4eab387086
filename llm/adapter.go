package llm

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/akirco/llmhub/errors"
)

// WireRequest is a provider-specific HTTP request, relative to the
// provider's base URL.
type WireRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Adapter translates between the provider-neutral model and one provider's
// wire format. An adapter keeps partial-frame state between ParseChunk calls,
// so each stream needs its own instance.
type Adapter interface {
	// Kind returns the provider the adapter speaks to.
	Kind() ProviderKind

	// BuildRequest serializes history and params. It fails with
	// UnsupportedFeature when params need a capability the provider lacks.
	BuildRequest(history []Turn, params ModelParams) (WireRequest, error)

	// ParseChunk consumes raw response bytes, which may split frames
	// anywhere, and returns the events completed by them.
	ParseChunk(raw []byte) []StreamEvent

	// Finish is called once the byte stream ends. It flushes a trailing
	// frame and reports a stream that stopped before its terminal event.
	Finish() []StreamEvent
}

// NewAdapter returns a fresh adapter for kind.
func NewAdapter(kind ProviderKind) (Adapter, error) {
	switch kind {
	case ProviderDeepseek, ProviderOpenAI, ProviderSiliconflow, ProviderZhipuAI,
		ProviderAlibailian, ProviderXAI, ProviderVolcengine, ProviderTencent,
		ProviderQianfan, ProviderGoogle:
		return newCompatAdapter(kind), nil
	case ProviderAnthropic:
		return newAnthropicAdapter(), nil
	case ProviderOllama:
		return newOllamaAdapter(), nil
	case ProviderGeneric:
		return newGenericAdapter(), nil
	default:
		return nil, errors.InvalidConfig(fmt.Sprintf("unknown provider %q", kind))
	}
}

// checkRequest validates the inputs every dialect shares.
func checkRequest(kind ProviderKind, history []Turn, params ModelParams) error {
	if len(history) == 0 {
		return errors.InvalidState("cannot build a request from an empty history")
	}
	for _, t := range history {
		if !t.Finished {
			return errors.InvalidState(fmt.Sprintf("turn %d is not finished", t.ID))
		}
	}
	if params.Model == "" && kind != ProviderGeneric {
		return errors.InvalidConfig("model is required")
	}
	return checkCapabilities(kind, params)
}

func jsonRequest(path string, body any, headers map[string]string) (WireRequest, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return WireRequest{}, errors.Internal(err)
	}
	h := map[string]string{"Accept": "text/event-stream"}
	for k, v := range headers {
		h[k] = v
	}
	return WireRequest{Method: http.MethodPost, Path: path, Headers: h, Body: data}, nil
}

// streamState enforces the single-terminal-event rule shared by all dialects.
type streamState struct {
	provider ProviderKind
	ended    bool
	events   []StreamEvent
}

func (s *streamState) emit(ev StreamEvent) {
	if s.ended {
		return
	}
	if ev.Terminal() {
		s.ended = true
	}
	s.events = append(s.events, ev)
}

func (s *streamState) violation(format string, args ...any) {
	s.emit(errorEvent(errors.ProtocolViolation(string(s.provider), fmt.Sprintf(format, args...))))
}

func (s *streamState) providerError(status int, msg string) {
	s.emit(errorEvent(errors.Provider(string(s.provider), status, msg)))
}

// take returns the events gathered since the last call.
func (s *streamState) take() []StreamEvent {
	out := s.events
	s.events = nil
	return out
}

// truncated ends a stream that stopped without a terminal event.
func (s *streamState) truncated() {
	if !s.ended {
		s.violation("stream ended before completion")
	}
}
