package llm

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/akirco/llmhub/errors"
)

// feed runs chunks through a fresh parse and returns every event, including
// those produced by Finish.
func feed(a Adapter, chunks ...string) []StreamEvent {
	var out []StreamEvent
	for _, c := range chunks {
		out = append(out, a.ParseChunk([]byte(c))...)
	}
	return append(out, a.Finish()...)
}

func mustAdapter(t *testing.T, kind ProviderKind) Adapter {
	t.Helper()
	a, err := NewAdapter(kind)
	if err != nil {
		t.Fatalf("NewAdapter(%s) error = %v", kind, err)
	}
	return a
}

func kinds(events []StreamEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func joinText(events []StreamEvent, kind EventKind) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Kind == kind {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

const compatStream = `data: {"choices":[{"index":0,"delta":{"reasoning_content":"Think"}}]}

data: {"choices":[{"index":0,"delta":{"content":"Hel"}}]}

data: {"choices":[{"index":0,"delta":{"content":"lo"}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":"}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]},"finish_reason":"tool_calls"}]}

data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15,"prompt_cache_hit_tokens":4}}

data: [DONE]

`

const anthropicStream = `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":12,"cache_read_input_tokens":3}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Hmm"}}

event: ping
data: {"type":"ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hi"}}

event: content_block_start
data: {"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup"}}

event: content_block_delta
data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"q\":1}"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":7}}

event: message_stop
data: {"type":"message_stop"}

`

const ollamaStream = `{"message":{"role":"assistant","thinking":"Let me see"},"done":false}
{"message":{"role":"assistant","content":"Hel"},"done":false}
{"message":{"role":"assistant","content":"lo","tool_calls":[{"function":{"name":"lookup","arguments":{"q":1}}}]},"done":false}
{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":4}
`

const genericStream = `data: {"reasoning":"Hm"}
data: {"delta":"Hel"}
data: {"delta":"lo"}
data: {"usage":{"tokens_in":3,"tokens_out":2}}
data: [DONE]
`

func TestAdapters_CanonicalStreams(t *testing.T) {
	tests := []struct {
		kind      ProviderKind
		stream    string
		want      []EventKind
		content   string
		reasoning string
		finish    string
		usage     Usage
	}{
		{
			kind:   ProviderDeepseek,
			stream: compatStream,
			want: []EventKind{EventReasoningDelta, EventContentDelta, EventContentDelta,
				EventToolCallDelta, EventToolCallDelta, EventUsage, EventDone},
			content: "Hello", reasoning: "Think", finish: "tool_calls",
			usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CachedTokens: 4},
		},
		{
			kind:   ProviderAnthropic,
			stream: anthropicStream,
			want: []EventKind{EventReasoningDelta, EventContentDelta, EventToolCallDelta,
				EventToolCallDelta, EventUsage, EventDone},
			content: "Hi", reasoning: "Hmm", finish: "tool_use",
			usage: Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19, CachedTokens: 3},
		},
		{
			kind:   ProviderOllama,
			stream: ollamaStream,
			want: []EventKind{EventReasoningDelta, EventContentDelta, EventContentDelta,
				EventToolCallDelta, EventUsage, EventDone},
			content: "Hello", reasoning: "Let me see", finish: "stop",
			usage: Usage{PromptTokens: 9, CompletionTokens: 4, TotalTokens: 13},
		},
		{
			kind:    ProviderGeneric,
			stream:  genericStream,
			want:    []EventKind{EventReasoningDelta, EventContentDelta, EventContentDelta, EventUsage, EventDone},
			content: "Hello", reasoning: "Hm",
			usage: Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			events := feed(mustAdapter(t, tt.kind), tt.stream)
			if got := kinds(events); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("kinds = %v, want %v", got, tt.want)
			}
			if got := joinText(events, EventContentDelta); got != tt.content {
				t.Errorf("content = %q, want %q", got, tt.content)
			}
			if got := joinText(events, EventReasoningDelta); got != tt.reasoning {
				t.Errorf("reasoning = %q, want %q", got, tt.reasoning)
			}
			last := events[len(events)-1]
			if last.FinishReason != tt.finish {
				t.Errorf("finish reason = %q, want %q", last.FinishReason, tt.finish)
			}
			for _, ev := range events {
				if ev.Kind == EventUsage && *ev.Usage != tt.usage {
					t.Errorf("usage = %+v, want %+v", *ev.Usage, tt.usage)
				}
			}
		})
	}
}

func TestAdapters_SplitInvariance(t *testing.T) {
	streams := map[ProviderKind]string{
		ProviderDeepseek:  compatStream,
		ProviderAnthropic: anthropicStream,
		ProviderOllama:    ollamaStream,
		ProviderGeneric:   genericStream,
	}
	for kind, stream := range streams {
		t.Run(string(kind), func(t *testing.T) {
			want := feed(mustAdapter(t, kind), stream)

			for split := 1; split < len(stream); split++ {
				got := feed(mustAdapter(t, kind), stream[:split], stream[split:])
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("split at %d: events differ\n got %+v\nwant %+v", split, got, want)
				}
			}

			bytewise := make([]string, len(stream))
			for i := range stream {
				bytewise[i] = stream[i : i+1]
			}
			if got := feed(mustAdapter(t, kind), bytewise...); !reflect.DeepEqual(got, want) {
				t.Fatalf("byte-at-a-time: events differ\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestGenericAdapter_DeltaAcrossChunks(t *testing.T) {
	events := feed(mustAdapter(t, ProviderGeneric),
		`data: {"delta":"Hel`, "lo\"}\n", "data: [DONE]\n")

	if got := kinds(events); !reflect.DeepEqual(got, []EventKind{EventContentDelta, EventDone}) {
		t.Fatalf("kinds = %v", got)
	}
	if events[0].Text != "Hello" {
		t.Errorf("text = %q, want Hello", events[0].Text)
	}
}

func TestAdapters_MalformedInputIsOneViolation(t *testing.T) {
	tests := []struct {
		kind   ProviderKind
		chunks []string
	}{
		{ProviderDeepseek, []string{"data: {not json}\n\n", `data: {"choices":[{"index":0,"delta":{"content":"x"}}]}` + "\n\n", "data: [DONE]\n\n"}},
		{ProviderAnthropic, []string{"event: content_block_delta\ndata: {oops\n\n", "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"}},
		{ProviderOllama, []string{"{\"message\":{\"content\":\"a\"},\"done\":false}\nnot-json\n", "{\"done\":true}\n"}},
		{ProviderGeneric, []string{"data: [1,2\n", "data: {\"delta\":\"x\"}\n"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			events := feed(mustAdapter(t, tt.kind), tt.chunks...)
			var violations int
			for i, ev := range events {
				if ev.Kind != EventError {
					continue
				}
				violations++
				if ev.Err.Code != errors.ErrCodeProtocolViolation {
					t.Errorf("error code = %s", ev.Err.Code)
				}
				if i != len(events)-1 {
					t.Errorf("events after the error: %v", kinds(events[i+1:]))
				}
			}
			if violations != 1 {
				t.Errorf("violations = %d, want 1 (events %v)", violations, kinds(events))
			}
		})
	}
}

func TestAdapters_TruncatedStream(t *testing.T) {
	tests := []struct {
		kind  ProviderKind
		input string
	}{
		{ProviderDeepseek, `data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}` + "\n\n"},
		{ProviderAnthropic, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"partial\"}}\n\n"},
		{ProviderOllama, `{"message":{"content":"partial"},"done":false}` + "\n"},
		{ProviderGeneric, `data: {"delta":"partial"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			events := feed(mustAdapter(t, tt.kind), tt.input)
			last := events[len(events)-1]
			if last.Kind != EventError || last.Err.Code != errors.ErrCodeProtocolViolation {
				t.Fatalf("last event = %+v, want protocol violation", last)
			}
			if joinText(events, EventContentDelta) != "partial" {
				t.Errorf("content before truncation was lost: %v", kinds(events))
			}
		})
	}
}

func TestCompatAdapter_FinishReasonWithoutDoneMarker(t *testing.T) {
	events := feed(mustAdapter(t, ProviderOpenAI),
		`data: {"choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`+"\n\n")
	last := events[len(events)-1]
	if last.Kind != EventDone || last.FinishReason != "stop" {
		t.Fatalf("last = %+v, want Done(stop)", last)
	}
}

func TestAdapters_InBandProviderError(t *testing.T) {
	tests := []struct {
		kind  ProviderKind
		input string
	}{
		{ProviderDeepseek, `data: {"error":{"message":"overloaded","type":"server_error"}}` + "\n\n"},
		{ProviderAnthropic, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"},
		{ProviderOllama, `{"error":"model not found"}` + "\n"},
		{ProviderGeneric, `data: {"error":{"message":"boom","status":500}}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			events := feed(mustAdapter(t, tt.kind), tt.input)
			if len(events) != 1 || events[0].Kind != EventError {
				t.Fatalf("events = %v, want a single error", kinds(events))
			}
			if events[0].Err.Code != errors.ErrCodeProvider {
				t.Errorf("code = %s, want PROVIDER_ERROR", events[0].Err.Code)
			}
		})
	}
}

func TestAdapters_UnsupportedFeature(t *testing.T) {
	history := []Turn{UserTurn("hi")}
	tests := []struct {
		name   string
		kind   ProviderKind
		params ModelParams
	}{
		{"tencent tools", ProviderTencent, ModelParams{Model: "m", Tools: []Tool{{Name: "f"}}}},
		{"tencent json", ProviderTencent, ModelParams{Model: "m", ResponseFormat: ResponseFormatJSON}},
		{"anthropic json", ProviderAnthropic, ModelParams{Model: "m", ResponseFormat: ResponseFormatJSON}},
		{"generic reasoning", ProviderGeneric, ModelParams{Reasoning: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustAdapter(t, tt.kind).BuildRequest(history, tt.params)
			if errors.KindOf(err) != errors.ErrCodeUnsupportedFeature {
				t.Fatalf("error = %v, want UNSUPPORTED_FEATURE", err)
			}
		})
	}
}

func TestAdapters_RejectBadHistory(t *testing.T) {
	a := mustAdapter(t, ProviderDeepseek)
	params := ModelParams{Model: "deepseek-chat"}

	if _, err := a.BuildRequest(nil, params); errors.KindOf(err) != errors.ErrCodeInvalidState {
		t.Errorf("empty history error = %v", err)
	}
	unfinished := UserTurn("hi")
	unfinished.Finished = false
	if _, err := a.BuildRequest([]Turn{unfinished}, params); errors.KindOf(err) != errors.ErrCodeInvalidState {
		t.Errorf("unfinished turn error = %v", err)
	}
	if _, err := a.BuildRequest([]Turn{UserTurn("hi")}, ModelParams{}); errors.KindOf(err) != errors.ErrCodeInvalidConfig {
		t.Errorf("missing model error = %v", err)
	}
}

func TestCompatAdapter_BuildRequest(t *testing.T) {
	history := []Turn{
		SystemTurn("be brief"),
		UserTurn("weather?"),
		{Role: RoleAssistant, Finished: true, ToolCalls: []ToolCall{{ID: "c1", Type: "function", Name: "get_weather", Arguments: `{"city":"Paris"}`}}},
		ToolResultTurn("c1", "sunny"),
	}
	params := ModelParams{Model: "gpt-4o-mini", Temperature: Float(0.2), MaxTokens: 100, Reasoning: true}
	req, err := mustAdapter(t, ProviderOpenAI).BuildRequest(history, params)
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != "/chat/completions" || req.Method != "POST" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	if req.Headers["Accept"] != "text/event-stream" {
		t.Errorf("accept = %q", req.Headers["Accept"])
	}

	var body struct {
		Model           string  `json:"model"`
		Stream          bool    `json:"stream"`
		Temperature     float64 `json:"temperature"`
		ReasoningEffort string  `json:"reasoning_effort"`
		StreamOptions   struct {
			IncludeUsage bool `json:"include_usage"`
		} `json:"stream_options"`
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Model != "gpt-4o-mini" || !body.Stream || !body.StreamOptions.IncludeUsage || body.Temperature != 0.2 {
		t.Errorf("body = %+v", body)
	}
	if body.ReasoningEffort != "medium" {
		t.Errorf("reasoning_effort = %q", body.ReasoningEffort)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("messages = %d", len(body.Messages))
	}
	if body.Messages[2].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("assistant tool call = %+v", body.Messages[2])
	}
	if body.Messages[3].Role != "tool" || body.Messages[3].ToolCallID != "c1" {
		t.Errorf("tool result = %+v", body.Messages[3])
	}
}

func TestAnthropicAdapter_BuildRequest(t *testing.T) {
	history := []Turn{
		SystemTurn("rule one"),
		SystemTurn("rule two"),
		UserTurn("a"),
		UserTurn("b"),
	}
	params := ModelParams{Model: "claude", ToolChoice: "required", Tools: []Tool{{Name: "lookup"}}, Reasoning: true, ReasoningBudget: 100}
	req, err := mustAdapter(t, ProviderAnthropic).BuildRequest(history, params)
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != "/messages" || req.Headers["anthropic-version"] == "" {
		t.Errorf("request = %+v", req)
	}

	var body struct {
		System    string `json:"system"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
		ToolChoice struct {
			Type string `json:"type"`
		} `json:"tool_choice"`
		Tools []struct {
			InputSchema json.RawMessage `json:"input_schema"`
		} `json:"tools"`
		Thinking struct {
			BudgetTokens int `json:"budget_tokens"`
		} `json:"thinking"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.System != "rule one\n\nrule two" {
		t.Errorf("system = %q", body.System)
	}
	if len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 {
		t.Errorf("consecutive user turns not merged: %+v", body.Messages)
	}
	if body.ToolChoice.Type != "any" {
		t.Errorf("tool_choice = %q", body.ToolChoice.Type)
	}
	if string(body.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Errorf("input_schema = %s", body.Tools[0].InputSchema)
	}
	if body.Thinking.BudgetTokens != 1024 || body.MaxTokens <= 1024 {
		t.Errorf("thinking budget = %d, max_tokens = %d", body.Thinking.BudgetTokens, body.MaxTokens)
	}
}

func TestOllamaAdapter_BuildRequest(t *testing.T) {
	req, err := mustAdapter(t, ProviderOllama).BuildRequest([]Turn{UserTurn("hi")},
		ModelParams{Model: "llama3", MaxTokens: 50, ResponseFormat: ResponseFormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != "/api/chat" || req.Headers["Accept"] != "application/x-ndjson" {
		t.Errorf("request = %+v", req)
	}
	var body struct {
		Format  string `json:"format"`
		Options struct {
			NumPredict int `json:"num_predict"`
		} `json:"options"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Format != "json" || body.Options.NumPredict != 50 {
		t.Errorf("body = %+v", body)
	}
}

func TestToolCallAccumulator(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Apply(&ToolCallDelta{Index: 1, ID: "b", Name: "second"})
	acc.Apply(&ToolCallDelta{Index: 0, ID: "a", Name: "first", ArgumentsDelta: `{"x":`})
	acc.Apply(&ToolCallDelta{Index: 0, ArgumentsDelta: `1}`})
	acc.Apply(nil)

	calls := acc.Build()
	if acc.Len() != 2 || len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID != "b" || calls[1].ID != "a" {
		t.Errorf("order = %s, %s; want first-seen order", calls[0].ID, calls[1].ID)
	}
	if calls[1].Arguments != `{"x":1}` || calls[1].Type != "function" {
		t.Errorf("merged call = %+v", calls[1])
	}
	if NewToolCallAccumulator().Build() != nil {
		t.Error("empty accumulator should build nil")
	}
}

func TestParseProviderKind(t *testing.T) {
	for _, k := range ProviderKinds() {
		got, err := ParseProviderKind(strings.ToUpper(string(k)))
		if err != nil || got != k {
			t.Errorf("ParseProviderKind(%s) = %s, %v", k, got, err)
		}
	}
	if _, err := ParseProviderKind("nope"); errors.KindOf(err) != errors.ErrCodeInvalidConfig {
		t.Errorf("unknown kind error = %v", err)
	}
}
