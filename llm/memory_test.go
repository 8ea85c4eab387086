package llm

import (
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/akirco/llmhub/errors"
)

type fixedEstimator struct{ perTurn int }

func (e fixedEstimator) EstimateTurn(Turn) int { return e.perTurn }
func (fixedEstimator) Observe([]Turn, int)     {}

func texts(turns []Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text()
	}
	return out
}

func appendAll(t *testing.T, m *Memory, turns ...Turn) {
	t.Helper()
	for _, turn := range turns {
		if _, err := m.Append(turn); err != nil {
			t.Fatalf("Append(%q) error = %v", turn.Text(), err)
		}
	}
}

func TestMemory_AppendRejectsUnfinished(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil)
	turn := AssistantTurn("half")
	turn.Finished = false
	if _, err := m.Append(turn); errors.KindOf(err) != errors.ErrCodeInvalidState {
		t.Fatalf("Append() error = %v, want INVALID_STATE", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d", m.Len())
	}
}

func TestMemory_IDsNeverReused(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxTurns: -1}, nil)
	a, _ := m.Append(UserTurn("a"))
	b, _ := m.Append(AssistantTurn("b"))
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d, %d", a.ID, b.ID)
	}

	if n := m.Truncate(2); n != 2 {
		t.Fatalf("Truncate(2) = %d", n)
	}
	c, _ := m.Append(UserTurn("c"))
	m.Clear()
	d, _ := m.Append(UserTurn("d"))
	if c.ID != 3 || d.ID != 4 {
		t.Errorf("ids after truncate/clear = %d, %d; want 3, 4", c.ID, d.ID)
	}
	if last, ok := m.Last(); !ok || last.Text() != "d" {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestMemory_AppendStoresCopy(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil)
	turn := UserTurn("original")
	if _, err := m.Append(turn); err != nil {
		t.Fatal(err)
	}
	turn.Segments[0].Text = "mutated"
	if got := m.Turns()[0].Text(); got != "original" {
		t.Errorf("stored turn changed to %q", got)
	}
}

func TestMemory_MaxTurns(t *testing.T) {
	tests := []struct {
		name string
		cfg  MemoryConfig
		want []string
	}{
		{"system pinned", MemoryConfig{MaxTurns: 3}, []string{"sys", "u3", "u4"}},
		{"system droppable", MemoryConfig{MaxTurns: 3, DropSystem: true}, []string{"u2", "u3", "u4"}},
		{"unlimited", MemoryConfig{MaxTurns: -1}, []string{"sys", "u1", "u2", "u3", "u4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(tt.cfg, nil)
			appendAll(t, m, SystemTurn("sys"), UserTurn("u1"), UserTurn("u2"), UserTurn("u3"), UserTurn("u4"))
			if got := texts(m.Turns()); !slices.Equal(got, tt.want) {
				t.Errorf("turns = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemory_DefaultMaxTurns(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil)
	for i := 0; i < DefaultMaxTurns+5; i++ {
		appendAll(t, m, UserTurn("x"))
	}
	if m.Len() != DefaultMaxTurns {
		t.Errorf("Len() = %d, want %d", m.Len(), DefaultMaxTurns)
	}
	if m.Config().MaxTurns != DefaultMaxTurns {
		t.Errorf("MaxTurns = %d", m.Config().MaxTurns)
	}
}

func TestMemory_MaxTokens(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxTurns: -1, MaxTokens: 25}, fixedEstimator{perTurn: 10})
	appendAll(t, m, UserTurn("a"), AssistantTurn("b"), UserTurn("c"))
	if got := texts(m.Turns()); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("turns = %v, want [b c]", got)
	}

	// A single turn over budget is still kept.
	tight := NewMemory(MemoryConfig{MaxTurns: -1, MaxTokens: 5}, fixedEstimator{perTurn: 10})
	appendAll(t, tight, UserTurn("a"), UserTurn("b"))
	if got := texts(tight.Turns()); !slices.Equal(got, []string{"b"}) {
		t.Errorf("turns = %v, want [b]", got)
	}
}

func TestMemory_History(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxTurns: -1}, fixedEstimator{perTurn: 10})
	appendAll(t, m,
		SystemTurn("sys"),
		UserTurn("u1"), AssistantTurn("a1"),
		UserTurn("u2"), AssistantTurn("a2"),
	)

	tests := []struct {
		name string
		opts HistoryOptions
		want []string
	}{
		{"everything", HistoryOptions{}, []string{"sys", "u1", "a1", "u2", "a2"}},
		{"most recent first", HistoryOptions{Order: MostRecentFirst}, []string{"a2", "u2", "a1", "u1", "sys"}},
		{"last two plus system", HistoryOptions{MaxTurns: 2}, []string{"sys", "u2", "a2"}},
		{"token budget", HistoryOptions{MaxTokens: 35}, []string{"sys", "u2", "a2"}},
		{"budget keeps newest turn", HistoryOptions{MaxTokens: 1}, []string{"sys", "a2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texts(slices.Collect(m.History(tt.opts)))
			if !slices.Equal(got, tt.want) {
				t.Errorf("History() = %v, want %v", got, tt.want)
			}
		})
	}
	if m.Len() != 5 {
		t.Errorf("History mutated storage: Len() = %d", m.Len())
	}
}

func TestMemory_HistorySkipsOrphanedToolResults(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxTurns: -1}, nil)
	call := Turn{Role: RoleAssistant, Finished: true, ToolCalls: []ToolCall{{ID: "c1", Name: "f"}}}
	appendAll(t, m, UserTurn("q"), call, ToolResultTurn("c1", "r"), AssistantTurn("answer"))

	got := slices.Collect(m.History(HistoryOptions{MaxTurns: 2}))
	if len(got) != 1 || got[0].Text() != "answer" {
		t.Errorf("History() = %v, want only the final answer", texts(got))
	}
}

func TestMemory_HistoryIsLazy(t *testing.T) {
	m := NewMemory(MemoryConfig{}, nil)
	appendAll(t, m, UserTurn("a"), UserTurn("b"), UserTurn("c"))

	var seen []string
	for turn := range m.History(HistoryOptions{}) {
		seen = append(seen, turn.Text())
		if len(seen) == 2 {
			break
		}
	}
	if !slices.Equal(seen, []string{"a", "b"}) {
		t.Errorf("seen = %v", seen)
	}

	for turn := range m.History(HistoryOptions{}) {
		turn.Segments[0].Text = "changed"
	}
	if m.Turns()[0].Text() != "a" {
		t.Error("History yielded storage instead of copies")
	}
}

func TestMemory_TruncateSkipsPinned(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxTurns: -1}, nil)
	appendAll(t, m, SystemTurn("sys"), UserTurn("u1"), UserTurn("u2"))
	if n := m.Truncate(5); n != 2 {
		t.Errorf("Truncate(5) = %d, want 2", n)
	}
	if got := texts(m.Turns()); !slices.Equal(got, []string{"sys"}) {
		t.Errorf("turns = %v", got)
	}
	if m.Truncate(0) != 0 {
		t.Error("Truncate(0) should drop nothing")
	}
}

func TestMemory_SnapshotRoundTrip(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxTurns: 10, MaxTokens: 5000}, nil)
	reply := AssistantTurn(strings.Repeat("long reply ", 50))
	reply.Usage = &Usage{PromptTokens: 4, CompletionTokens: 100, TotalTokens: 104}
	reply.FinishReason = "stop"
	appendAll(t, m, SystemTurn("sys"), UserTurn("hi"), reply)
	m.Truncate(1)

	data, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	restored, err := RestoreMemory(data, nil)
	if err != nil {
		t.Fatalf("RestoreMemory() error = %v", err)
	}

	if got, want := texts(restored.Turns()), texts(m.Turns()); !slices.Equal(got, want) {
		t.Errorf("turns = %v, want %v", got, want)
	}
	last, _ := restored.Last()
	if last.ID != 3 || last.Usage == nil || last.Usage.TotalTokens != 104 || last.FinishReason != "stop" {
		t.Errorf("last = %+v", last)
	}
	if restored.Config() != m.Config() {
		t.Errorf("config = %+v, want %+v", restored.Config(), m.Config())
	}
	next, _ := restored.Append(UserTurn("again"))
	if next.ID != 4 {
		t.Errorf("next id = %d, want 4", next.ID)
	}
}

func TestRestoreMemory_RejectsGarbage(t *testing.T) {
	if _, err := RestoreMemory([]byte("not a snapshot"), nil); errors.KindOf(err) != errors.ErrCodeInvalidState {
		t.Errorf("RestoreMemory() error = %v, want INVALID_STATE", err)
	}
}

func TestCharEstimator(t *testing.T) {
	e := NewCharEstimator()
	if got := e.EstimateTurn(UserTurn("abcdefgh")); got != 3 {
		t.Errorf("EstimateTurn() = %d, want 3", got)
	}
	if got := e.EstimateTurn(Turn{}); got != 1 {
		t.Errorf("empty turn estimate = %d, want 1", got)
	}

	turns := []Turn{UserTurn(strings.Repeat("a", 400))}
	e.Observe(turns, 0)
	if e.Ratio() != 4 {
		t.Errorf("zero usage should be ignored, ratio = %v", e.Ratio())
	}
	e.Observe(turns, 200)
	if e.Ratio() != 2 {
		t.Errorf("first observation ratio = %v, want 2", e.Ratio())
	}
	e.Observe(turns, 100)
	if math.Abs(e.Ratio()-2.6) > 1e-9 {
		t.Errorf("smoothed ratio = %v, want 2.6", e.Ratio())
	}
	if got := EstimateTurns(e, []Turn{UserTurn("abcd"), UserTurn("abcd")}); got != 4 {
		t.Errorf("EstimateTurns() = %d", got)
	}
}
