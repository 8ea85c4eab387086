package llm

import (
	"encoding/json"

	"github.com/akirco/llmhub/httpclient/sse"
)

// genericAdapter speaks a minimal SSE dialect used by gateways and test
// doubles: every data frame is {"delta": "...", "usage": {...}, "error": {...}}
// and data: [DONE] ends the stream.
type genericAdapter struct {
	decoder *sse.Decoder
	state   streamState
}

func newGenericAdapter() *genericAdapter {
	return &genericAdapter{
		decoder: sse.NewDecoder(),
		state:   streamState{provider: ProviderGeneric},
	}
}

func (a *genericAdapter) Kind() ProviderKind { return ProviderGeneric }

type genericRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []genericMessage `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
}

type genericMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *genericAdapter) BuildRequest(history []Turn, params ModelParams) (WireRequest, error) {
	if err := checkRequest(ProviderGeneric, history, params); err != nil {
		return WireRequest{}, err
	}
	req := genericRequest{
		Model:       params.Model,
		Messages:    make([]genericMessage, 0, len(history)),
		Stream:      true,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	for _, t := range history {
		req.Messages = append(req.Messages, genericMessage{Role: string(t.Role), Content: t.Text()})
	}
	return jsonRequest(ProviderGeneric.ChatPath(), req, nil)
}

type genericFrame struct {
	Delta        string `json:"delta"`
	Reasoning    string `json:"reasoning"`
	FinishReason string `json:"finish_reason"`
	Usage        *struct {
		TokensIn  int `json:"tokens_in"`
		TokensOut int `json:"tokens_out"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func (a *genericAdapter) ParseChunk(raw []byte) []StreamEvent {
	if a.state.ended {
		return nil
	}
	events, err := a.decoder.Feed(raw)
	for _, ev := range events {
		a.handle(ev)
	}
	if err != nil {
		a.state.violation("%v", err)
	}
	return a.state.take()
}

func (a *genericAdapter) Finish() []StreamEvent {
	if a.state.ended {
		return nil
	}
	for _, ev := range a.decoder.Flush() {
		a.handle(ev)
	}
	a.state.truncated()
	return a.state.take()
}

func (a *genericAdapter) handle(ev sse.Event) {
	if a.state.ended || ev.Data == "" {
		return
	}
	if ev.Data == "[DONE]" {
		a.state.emit(doneEvent(""))
		return
	}
	var f genericFrame
	if err := json.Unmarshal([]byte(ev.Data), &f); err != nil {
		a.state.violation("malformed frame: %v", err)
		return
	}
	if f.Error != nil {
		a.state.providerError(f.Error.Status, f.Error.Message)
		return
	}
	if f.Reasoning != "" {
		a.state.emit(reasoningEvent(f.Reasoning))
	}
	if f.Delta != "" {
		a.state.emit(contentEvent(f.Delta))
	}
	if f.Usage != nil {
		a.state.emit(usageEvent(Usage{PromptTokens: f.Usage.TokensIn, CompletionTokens: f.Usage.TokensOut}))
	}
	if f.FinishReason != "" {
		a.state.emit(doneEvent(f.FinishReason))
	}
}
