package llm

import (
	"encoding/json"
	"maps"
	"strings"

	"github.com/akirco/llmhub/errors"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SegmentKind distinguishes answer text from model reasoning.
type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentReasoning SegmentKind = "reasoning"
)

// Segment is one ordered piece of a turn's content.
type Segment struct {
	Kind SegmentKind `json:"kind" cbor:"kind"`
	Text string      `json:"text" cbor:"text"`
}

// ToolCall is a complete function call requested by the model.
type ToolCall struct {
	ID        string `json:"id" cbor:"id"`
	Type      string `json:"type" cbor:"type"`
	Name      string `json:"name" cbor:"name"`
	Arguments string `json:"arguments" cbor:"arguments"`
}

// ToolCallDelta is an incremental fragment of a tool call. Fragments with the
// same Index belong to the same call.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Type           string `json:"type,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Usage reports token consumption for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" cbor:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" cbor:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" cbor:"total_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty" cbor:"cached_tokens,omitempty"`
}

func (u *Usage) normalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// Turn is one message of a conversation.
//
// A streamed assistant turn starts with Finished false and is owned by the
// pump until the provider signals completion. Memory only stores finished turns.
type Turn struct {
	ID           uint64         `json:"id" cbor:"id"`
	Role         Role           `json:"role" cbor:"role"`
	Segments     []Segment      `json:"segments,omitempty" cbor:"segments,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty" cbor:"tool_calls,omitempty"`
	ToolCallID   string         `json:"tool_call_id,omitempty" cbor:"tool_call_id,omitempty"`
	Finished     bool           `json:"finished" cbor:"finished"`
	Usage        *Usage         `json:"usage,omitempty" cbor:"usage,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty" cbor:"finish_reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// NewTurn returns a finished turn with a single text segment.
func NewTurn(role Role, text string) Turn {
	t := Turn{Role: role, Finished: true}
	if text != "" {
		t.Segments = []Segment{{Kind: SegmentText, Text: text}}
	}
	return t
}

// UserTurn returns a finished user turn.
func UserTurn(text string) Turn { return NewTurn(RoleUser, text) }

// SystemTurn returns a finished system turn.
func SystemTurn(text string) Turn { return NewTurn(RoleSystem, text) }

// AssistantTurn returns a finished assistant turn.
func AssistantTurn(text string) Turn { return NewTurn(RoleAssistant, text) }

// ToolResultTurn returns a finished tool turn answering the call callID.
func ToolResultTurn(callID, result string) Turn {
	t := NewTurn(RoleTool, result)
	t.ToolCallID = callID
	return t
}

// Text concatenates the text segments.
func (t Turn) Text() string { return t.join(SegmentText) }

// Reasoning concatenates the reasoning segments.
func (t Turn) Reasoning() string { return t.join(SegmentReasoning) }

func (t Turn) join(kind SegmentKind) string {
	var b strings.Builder
	for _, s := range t.Segments {
		if s.Kind == kind {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Clone returns a deep copy that shares no slices or maps with t.
func (t Turn) Clone() Turn {
	c := t
	c.Segments = append([]Segment(nil), t.Segments...)
	c.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
	if t.Usage != nil {
		u := *t.Usage
		c.Usage = &u
	}
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	return c
}

// appendText adds text to the turn, extending the last segment when it has
// the same kind.
func (t *Turn) appendText(kind SegmentKind, text string) {
	if text == "" {
		return
	}
	if n := len(t.Segments); n > 0 && t.Segments[n-1].Kind == kind {
		t.Segments[n-1].Text += text
		return
	}
	t.Segments = append(t.Segments, Segment{Kind: kind, Text: text})
}

func (t Turn) charCount() int {
	n := 0
	for _, s := range t.Segments {
		n += len(s.Text)
	}
	for _, c := range t.ToolCalls {
		n += len(c.Name) + len(c.Arguments)
	}
	return n
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	EventContentDelta EventKind = iota
	EventReasoningDelta
	EventToolCallDelta
	EventUsage
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventContentDelta:
		return "content_delta"
	case EventReasoningDelta:
		return "reasoning_delta"
	case EventToolCallDelta:
		return "tool_call_delta"
	case EventUsage:
		return "usage"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// StreamEvent is the provider-neutral unit of streamed output. Exactly one
// Done or Error event ends a stream.
type StreamEvent struct {
	Kind         EventKind
	Text         string
	ToolCall     *ToolCallDelta
	Usage        *Usage
	Err          *errors.AppError
	FinishReason string
}

// Terminal reports whether e ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

func contentEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventContentDelta, Text: text}
}

func reasoningEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventReasoningDelta, Text: text}
}

func toolCallEvent(d ToolCallDelta) StreamEvent {
	return StreamEvent{Kind: EventToolCallDelta, ToolCall: &d}
}

func usageEvent(u Usage) StreamEvent {
	u.normalize()
	return StreamEvent{Kind: EventUsage, Usage: &u}
}

func errorEvent(err *errors.AppError) StreamEvent {
	return StreamEvent{Kind: EventError, Err: err}
}

func doneEvent(reason string) StreamEvent {
	return StreamEvent{Kind: EventDone, FinishReason: reason}
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty" yaml:"-"`
}

// ResponseFormat constrains the shape of the model output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = ""
	ResponseFormatJSON ResponseFormat = "json_object"
)

// ModelParams are the per-request generation settings.
type ModelParams struct {
	// Model overrides the configured default model.
	Model       string   `json:"model,omitempty" yaml:"model" mapstructure:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature" mapstructure:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p" mapstructure:"top_p"`
	// MaxTokens caps the completion. Zero leaves the provider default.
	MaxTokens int      `json:"max_tokens,omitempty" yaml:"max_tokens" mapstructure:"max_tokens"`
	Stop      []string `json:"stop,omitempty" yaml:"stop" mapstructure:"stop"`
	Tools     []Tool   `json:"tools,omitempty" yaml:"-" mapstructure:"-"`
	// ToolChoice is "auto", "none", "required" or empty.
	ToolChoice     string         `json:"tool_choice,omitempty" yaml:"tool_choice" mapstructure:"tool_choice"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty" yaml:"response_format" mapstructure:"response_format"`
	// Reasoning asks the provider to think before answering.
	Reasoning bool `json:"reasoning,omitempty" yaml:"reasoning" mapstructure:"reasoning"`
	// ReasoningEffort is "low", "medium" or "high" where the provider takes an effort level.
	ReasoningEffort string `json:"reasoning_effort,omitempty" yaml:"reasoning_effort" mapstructure:"reasoning_effort"`
	// ReasoningBudget is the thinking token budget where the provider takes one.
	ReasoningBudget int `json:"reasoning_budget,omitempty" yaml:"reasoning_budget" mapstructure:"reasoning_budget"`
}

// Float returns a pointer to v, for the optional sampling fields.
func Float(v float64) *float64 { return &v }

// merge overlays the non-zero fields of o onto p.
func (p ModelParams) merge(o ModelParams) ModelParams {
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != nil {
		p.Temperature = o.Temperature
	}
	if o.TopP != nil {
		p.TopP = o.TopP
	}
	if o.MaxTokens != 0 {
		p.MaxTokens = o.MaxTokens
	}
	if o.Stop != nil {
		p.Stop = o.Stop
	}
	if o.Tools != nil {
		p.Tools = o.Tools
	}
	if o.ToolChoice != "" {
		p.ToolChoice = o.ToolChoice
	}
	if o.ResponseFormat != "" {
		p.ResponseFormat = o.ResponseFormat
	}
	if o.Reasoning {
		p.Reasoning = true
	}
	if o.ReasoningEffort != "" {
		p.ReasoningEffort = o.ReasoningEffort
	}
	if o.ReasoningBudget != 0 {
		p.ReasoningBudget = o.ReasoningBudget
	}
	return p
}
