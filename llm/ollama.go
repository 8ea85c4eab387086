package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/akirco/llmhub/httpclient/sse"
)

// ollamaAdapter speaks Ollama's native chat API, which streams one JSON
// object per line and ends with done:true.
type ollamaAdapter struct {
	lines     *sse.LineSplitter
	state     streamState
	toolIndex int
}

func newOllamaAdapter() *ollamaAdapter {
	return &ollamaAdapter{
		lines: sse.NewLineSplitter(0),
		state: streamState{provider: ProviderOllama},
	}
}

func (a *ollamaAdapter) Kind() ProviderKind { return ProviderOllama }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Tools    []compatTool    `json:"tools,omitempty"`
	Think    bool            `json:"think,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (a *ollamaAdapter) BuildRequest(history []Turn, params ModelParams) (WireRequest, error) {
	if err := checkRequest(ProviderOllama, history, params); err != nil {
		return WireRequest{}, err
	}

	req := ollamaRequest{
		Model:    params.Model,
		Messages: make([]ollamaMessage, 0, len(history)),
		Stream:   true,
		Think:    params.Reasoning,
	}
	for _, t := range history {
		m := ollamaMessage{Role: string(t.Role), Content: t.Text()}
		for _, c := range t.ToolCalls {
			var tc ollamaToolCall
			tc.Function.Name = c.Name
			tc.Function.Arguments = json.RawMessage(c.Arguments)
			if !json.Valid(tc.Function.Arguments) {
				tc.Function.Arguments = json.RawMessage(`{}`)
			}
			m.ToolCalls = append(m.ToolCalls, tc)
		}
		req.Messages = append(req.Messages, m)
	}
	for _, tool := range params.Tools {
		req.Tools = append(req.Tools, compatTool{
			Type:     "function",
			Function: compatFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}
	if params.ResponseFormat == ResponseFormatJSON {
		req.Format = "json"
	}
	if params.Temperature != nil || params.TopP != nil || params.MaxTokens > 0 || len(params.Stop) > 0 {
		req.Options = &ollamaOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.MaxTokens,
			Stop:        params.Stop,
		}
	}
	return jsonRequest(ProviderOllama.ChatPath(), req, map[string]string{"Accept": "application/x-ndjson"})
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (a *ollamaAdapter) ParseChunk(raw []byte) []StreamEvent {
	if a.state.ended {
		return nil
	}
	lines, err := a.lines.Feed(raw)
	for _, line := range lines {
		a.handle(line)
	}
	if err != nil {
		a.state.violation("%v", err)
	}
	return a.state.take()
}

func (a *ollamaAdapter) Finish() []StreamEvent {
	if a.state.ended {
		return nil
	}
	if line := a.lines.Flush(); line != nil {
		a.handle(line)
	}
	a.state.truncated()
	return a.state.take()
}

func (a *ollamaAdapter) handle(line []byte) {
	line = bytes.TrimSpace(line)
	if a.state.ended || len(line) == 0 {
		return
	}
	var resp ollamaResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		a.state.violation("malformed line: %v", err)
		return
	}
	if resp.Error != "" {
		a.state.providerError(0, resp.Error)
		return
	}

	if resp.Message.Thinking != "" {
		a.state.emit(reasoningEvent(resp.Message.Thinking))
	}
	if resp.Message.Content != "" {
		a.state.emit(contentEvent(resp.Message.Content))
	}
	// Ollama sends whole calls without ids.
	for _, tc := range resp.Message.ToolCalls {
		args := string(tc.Function.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		a.state.emit(toolCallEvent(ToolCallDelta{
			Index:          a.toolIndex,
			ID:             fmt.Sprintf("call_%d", a.toolIndex),
			Type:           "function",
			Name:           tc.Function.Name,
			ArgumentsDelta: args,
		}))
		a.toolIndex++
	}

	if resp.Done {
		if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
			a.state.emit(usageEvent(Usage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}))
		}
		a.state.emit(doneEvent(resp.DoneReason))
	}
}
