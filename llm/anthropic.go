package llm

import (
	"encoding/json"

	"github.com/akirco/llmhub/httpclient/sse"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
	anthropicMinThinking      = 1024
)

// anthropicAdapter speaks the Messages API. Its stream names every frame
// with an event: line.
type anthropicAdapter struct {
	decoder      *sse.Decoder
	state        streamState
	inputTokens  int
	cachedTokens int
	finishReason string
}

func newAnthropicAdapter() *anthropicAdapter {
	return &anthropicAdapter{
		decoder: sse.NewDecoder(),
		state:   streamState{provider: ProviderAnthropic},
	}
}

func (a *anthropicAdapter) Kind() ProviderKind { return ProviderAnthropic }

type anthropicRequest struct {
	Model         string               `json:"model"`
	MaxTokens     int                  `json:"max_tokens"`
	System        string               `json:"system,omitempty"`
	Messages      []anthropicMessage   `json:"messages"`
	Tools         []anthropicTool      `json:"tools,omitempty"`
	ToolChoice    *anthropicToolChoice `json:"tool_choice,omitempty"`
	Stream        bool                 `json:"stream"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Thinking      *anthropicThinking   `json:"thinking,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

func (a *anthropicAdapter) BuildRequest(history []Turn, params ModelParams) (WireRequest, error) {
	if err := checkRequest(ProviderAnthropic, history, params); err != nil {
		return WireRequest{}, err
	}

	req := anthropicRequest{
		Model:         params.Model,
		MaxTokens:     params.MaxTokens,
		Stream:        true,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		StopSequences: params.Stop,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = anthropicDefaultMaxTokens
	}

	var system []string
	for _, t := range history {
		if t.Role == RoleSystem {
			system = append(system, t.Text())
			continue
		}
		req.Messages = appendAnthropicMessage(req.Messages, toAnthropicMessage(t))
	}
	for i, s := range system {
		if i > 0 {
			req.System += "\n\n"
		}
		req.System += s
	}

	for _, tool := range params.Tools {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		req.Tools = append(req.Tools, anthropicTool{Name: tool.Name, Description: tool.Description, InputSchema: schema})
	}
	switch params.ToolChoice {
	case "auto", "none":
		req.ToolChoice = &anthropicToolChoice{Type: params.ToolChoice}
	case "required":
		req.ToolChoice = &anthropicToolChoice{Type: "any"}
	}

	if params.Reasoning {
		budget := max(params.ReasoningBudget, anthropicMinThinking)
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + anthropicDefaultMaxTokens
		}
	}

	return jsonRequest(ProviderAnthropic.ChatPath(), req, map[string]string{
		"anthropic-version": anthropicVersion,
	})
}

func toAnthropicMessage(t Turn) anthropicMessage {
	switch t.Role {
	case RoleTool:
		return anthropicMessage{Role: "user", Content: []anthropicBlock{{
			Type: "tool_result", ToolUseID: t.ToolCallID, Content: t.Text(),
		}}}
	case RoleAssistant:
		m := anthropicMessage{Role: "assistant"}
		if text := t.Text(); text != "" {
			m.Content = append(m.Content, anthropicBlock{Type: "text", Text: text})
		}
		for _, c := range t.ToolCalls {
			input := json.RawMessage(c.Arguments)
			if len(input) == 0 || !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			m.Content = append(m.Content, anthropicBlock{Type: "tool_use", ID: c.ID, Name: c.Name, Input: input})
		}
		return m
	default:
		return anthropicMessage{Role: "user", Content: []anthropicBlock{{Type: "text", Text: t.Text()}}}
	}
}

// appendAnthropicMessage merges consecutive same-role messages; the API
// requires roles to alternate.
func appendAnthropicMessage(msgs []anthropicMessage, m anthropicMessage) []anthropicMessage {
	if n := len(msgs); n > 0 && msgs[n-1].Role == m.Role {
		msgs[n-1].Content = append(msgs[n-1].Content, m.Content...)
		return msgs
	}
	return append(msgs, m)
}

func (a *anthropicAdapter) ParseChunk(raw []byte) []StreamEvent {
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

func (a *anthropicAdapter) Finish() []StreamEvent {
	if a.state.ended {
		return nil
	}
	for _, ev := range a.decoder.Flush() {
		a.handle(ev)
	}
	a.state.truncated()
	return a.state.take()
}

type anthropicUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}

type anthropicFrame struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicAdapter) handle(ev sse.Event) {
	if a.state.ended || ev.Data == "" {
		return
	}
	var f anthropicFrame
	if err := json.Unmarshal([]byte(ev.Data), &f); err != nil {
		a.state.violation("malformed %s frame: %v", ev.Event, err)
		return
	}
	typ := ev.Event
	if typ == "" {
		typ = f.Type
	}

	switch typ {
	case "message_start":
		a.inputTokens = f.Message.Usage.InputTokens
		a.cachedTokens = f.Message.Usage.CacheReadInputTokens

	case "content_block_start":
		if f.ContentBlock.Type == "tool_use" {
			a.state.emit(toolCallEvent(ToolCallDelta{
				Index: f.Index, ID: f.ContentBlock.ID, Type: "function", Name: f.ContentBlock.Name,
			}))
		}

	case "content_block_delta":
		switch f.Delta.Type {
		case "text_delta":
			if f.Delta.Text != "" {
				a.state.emit(contentEvent(f.Delta.Text))
			}
		case "thinking_delta":
			if f.Delta.Thinking != "" {
				a.state.emit(reasoningEvent(f.Delta.Thinking))
			}
		case "input_json_delta":
			if f.Delta.PartialJSON != "" {
				a.state.emit(toolCallEvent(ToolCallDelta{Index: f.Index, ArgumentsDelta: f.Delta.PartialJSON}))
			}
		}

	case "message_delta":
		if f.Delta.StopReason != "" {
			a.finishReason = f.Delta.StopReason
		}
		if f.Usage != nil {
			a.state.emit(usageEvent(Usage{
				PromptTokens:     a.inputTokens,
				CompletionTokens: f.Usage.OutputTokens,
				CachedTokens:     a.cachedTokens,
			}))
		}

	case "message_stop":
		a.state.emit(doneEvent(a.finishReason))

	case "error":
		msg := f.Error.Message
		if f.Error.Type != "" {
			msg = f.Error.Type + ": " + msg
		}
		a.state.providerError(0, msg)
	}
	// ping, content_block_stop and unknown frame types carry nothing.
}
