package llm

import (
	"bytes"
	"encoding/json"

	"github.com/akirco/llmhub/httpclient/sse"
)

// compatAdapter speaks the OpenAI chat completions dialect, which most
// hosted providers implement.
type compatAdapter struct {
	kind         ProviderKind
	decoder      *sse.Decoder
	state        streamState
	finishReason string
}

func newCompatAdapter(kind ProviderKind) *compatAdapter {
	return &compatAdapter{
		kind:    kind,
		decoder: sse.NewDecoder(),
		state:   streamState{provider: kind},
	}
}

func (a *compatAdapter) Kind() ProviderKind { return a.kind }

type compatRequest struct {
	Model           string                `json:"model"`
	Messages        []compatMessage       `json:"messages"`
	Stream          bool                  `json:"stream"`
	StreamOptions   *compatStreamOptions  `json:"stream_options,omitempty"`
	Temperature     *float64              `json:"temperature,omitempty"`
	TopP            *float64              `json:"top_p,omitempty"`
	MaxTokens       int                   `json:"max_tokens,omitempty"`
	Stop            []string              `json:"stop,omitempty"`
	Tools           []compatTool          `json:"tools,omitempty"`
	ToolChoice      string                `json:"tool_choice,omitempty"`
	ResponseFormat  *compatResponseFormat `json:"response_format,omitempty"`
	ReasoningEffort string                `json:"reasoning_effort,omitempty"`
	EnableThinking  *bool                 `json:"enable_thinking,omitempty"`
	Thinking        *compatThinking       `json:"thinking,omitempty"`
}

type compatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type compatResponseFormat struct {
	Type string `json:"type"`
}

type compatThinking struct {
	Type string `json:"type"`
}

type compatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []compatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type compatToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function compatFunctionCall `json:"function"`
}

type compatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type compatTool struct {
	Type     string         `json:"type"`
	Function compatFunction `json:"function"`
}

type compatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (a *compatAdapter) BuildRequest(history []Turn, params ModelParams) (WireRequest, error) {
	if err := checkRequest(a.kind, history, params); err != nil {
		return WireRequest{}, err
	}

	req := compatRequest{
		Model:         params.Model,
		Messages:      make([]compatMessage, 0, len(history)),
		Stream:        true,
		StreamOptions: &compatStreamOptions{IncludeUsage: true},
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		MaxTokens:     params.MaxTokens,
		Stop:          params.Stop,
		ToolChoice:    params.ToolChoice,
	}
	for _, t := range history {
		req.Messages = append(req.Messages, toCompatMessage(t))
	}
	for _, tool := range params.Tools {
		req.Tools = append(req.Tools, compatTool{
			Type:     "function",
			Function: compatFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}
	if params.ResponseFormat == ResponseFormatJSON {
		req.ResponseFormat = &compatResponseFormat{Type: string(ResponseFormatJSON)}
	}
	if params.Reasoning {
		a.applyReasoning(&req, params)
	}
	return jsonRequest(a.kind.ChatPath(), req, nil)
}

// applyReasoning maps the reasoning switch onto each vendor's extension.
// Deepseek, Tencent and Qianfan select reasoning by model name alone.
func (a *compatAdapter) applyReasoning(req *compatRequest, params ModelParams) {
	switch a.kind {
	case ProviderOpenAI, ProviderXAI, ProviderGoogle:
		req.ReasoningEffort = params.ReasoningEffort
		if req.ReasoningEffort == "" {
			req.ReasoningEffort = "medium"
		}
	case ProviderSiliconflow, ProviderAlibailian:
		on := true
		req.EnableThinking = &on
	case ProviderZhipuAI, ProviderVolcengine:
		req.Thinking = &compatThinking{Type: "enabled"}
	}
}

func toCompatMessage(t Turn) compatMessage {
	m := compatMessage{Role: string(t.Role), Content: t.Text(), ToolCallID: t.ToolCallID}
	for _, c := range t.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, compatToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: compatFunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}
	return m
}

type compatChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			Reasoning        string           `json:"reasoning"`
			ToolCalls        []compatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *compatUsage `json:"usage"`
	Error *compatError `json:"error"`
}

type compatUsage struct {
	PromptTokens         int `json:"prompt_tokens"`
	CompletionTokens     int `json:"completion_tokens"`
	TotalTokens          int `json:"total_tokens"`
	PromptCacheHitTokens int `json:"prompt_cache_hit_tokens"`
	PromptTokensDetails  *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (u *compatUsage) toUsage() Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CachedTokens:     u.PromptCacheHitTokens,
	}
	if u.PromptTokensDetails != nil && out.CachedTokens == 0 {
		out.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

type compatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (a *compatAdapter) ParseChunk(raw []byte) []StreamEvent {
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

func (a *compatAdapter) Finish() []StreamEvent {
	if a.state.ended {
		return nil
	}
	for _, ev := range a.decoder.Flush() {
		a.handle(ev)
	}
	// Some gateways close the stream after the finish reason without [DONE].
	if a.finishReason != "" {
		a.state.emit(doneEvent(a.finishReason))
	}
	a.state.truncated()
	return a.state.take()
}

func (a *compatAdapter) handle(ev sse.Event) {
	if a.state.ended {
		return
	}
	data := bytes.TrimSpace([]byte(ev.Data))
	if len(data) == 0 {
		return
	}
	if string(data) == "[DONE]" {
		a.state.emit(doneEvent(a.finishReason))
		return
	}

	var chunk compatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		a.state.violation("malformed chunk: %v", err)
		return
	}
	if chunk.Error != nil {
		msg := chunk.Error.Message
		if msg == "" {
			msg = chunk.Error.Type
		}
		a.state.providerError(0, msg)
		return
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		d := choice.Delta
		reasoning := d.ReasoningContent
		if reasoning == "" {
			reasoning = d.Reasoning
		}
		if reasoning != "" {
			a.state.emit(reasoningEvent(reasoning))
		}
		if d.Content != "" {
			a.state.emit(contentEvent(d.Content))
		}
		for i, tc := range d.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			a.state.emit(toolCallEvent(ToolCallDelta{
				Index:          idx,
				ID:             tc.ID,
				Type:           tc.Type,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			}))
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			a.finishReason = *choice.FinishReason
		}
	}
	if chunk.Usage != nil {
		a.state.emit(usageEvent(chunk.Usage.toUsage()))
	}
}
