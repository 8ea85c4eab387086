package llm

// ToolCallAccumulator rebuilds complete tool calls from streamed deltas.
// Deltas are keyed by index, so a start fragment carrying the id and name
// merges with later fragments carrying only arguments. Not safe for
// concurrent use.
type ToolCallAccumulator struct {
	order []int
	byIdx map[int]*ToolCall
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byIdx: make(map[int]*ToolCall)}
}

// Apply merges one delta.
func (a *ToolCallAccumulator) Apply(d *ToolCallDelta) {
	if d == nil {
		return
	}
	tc := a.byIdx[d.Index]
	if tc == nil {
		tc = &ToolCall{Type: "function"}
		a.byIdx[d.Index] = tc
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Type != "" {
		tc.Type = d.Type
	}
	if d.Name != "" {
		tc.Name = d.Name
	}
	tc.Arguments += d.ArgumentsDelta
}

// Build returns the calls in first-seen order.
func (a *ToolCallAccumulator) Build() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIdx[idx])
	}
	return out
}

// Len returns the number of distinct calls seen.
func (a *ToolCallAccumulator) Len() int { return len(a.order) }
