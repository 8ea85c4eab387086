package llm

import (
	"iter"

	"github.com/akirco/llmhub/codec"
	"github.com/akirco/llmhub/errors"
)

// DefaultMaxTurns is the number of turns a conversation keeps by default.
const DefaultMaxTurns = 20

// MemoryConfig bounds what a Memory retains.
type MemoryConfig struct {
	// MaxTurns caps stored turns. Zero selects DefaultMaxTurns, negative disables the cap.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns" cbor:"max_turns"`
	// MaxTokens caps the estimated tokens stored. Zero disables the cap.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens" cbor:"max_tokens"`
	// DropSystem lets truncation remove system turns, which are otherwise pinned.
	DropSystem bool `mapstructure:"drop_system" yaml:"drop_system" cbor:"drop_system"`
}

// DefaultMemoryConfig keeps 20 turns and pins system turns.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{MaxTurns: DefaultMaxTurns}
}

// HistoryOrder selects the direction History walks.
type HistoryOrder int

const (
	Chronological HistoryOrder = iota
	MostRecentFirst
)

// HistoryOptions selects a window of the stored turns.
type HistoryOptions struct {
	// MaxTurns limits the window to the newest n turns. Zero means all.
	MaxTurns int
	// MaxTokens limits the window by estimated tokens. Zero means no limit.
	MaxTokens int
	Order     HistoryOrder
}

// Memory is the ordered log of finished turns of one conversation. It is
// not safe for concurrent use; a Conversation serializes access.
type Memory struct {
	cfg       MemoryConfig
	estimator Estimator
	turns     []Turn
	nextID    uint64
}

// NewMemory creates an empty memory. A nil estimator selects a CharEstimator.
func NewMemory(cfg MemoryConfig, estimator Estimator) *Memory {
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if estimator == nil {
		estimator = NewCharEstimator()
	}
	return &Memory{cfg: cfg, estimator: estimator, nextID: 1}
}

// Append stores a copy of t under the next sequence id and applies the
// configured limits. Unfinished turns are rejected with InvalidState.
func (m *Memory) Append(t Turn) (Turn, error) {
	if !t.Finished {
		return Turn{}, errors.InvalidState("cannot append an unfinished turn")
	}
	stored := t.Clone()
	stored.ID = m.nextID
	m.nextID++
	m.turns = append(m.turns, stored)
	m.enforce()
	return stored.Clone(), nil
}

func (m *Memory) enforce() {
	if m.cfg.MaxTurns > 0 {
		for len(m.turns) > m.cfg.MaxTurns {
			if m.Truncate(1) == 0 {
				break
			}
		}
	}
	if m.cfg.MaxTokens > 0 {
		// The newest turn always stays, even when it alone is over budget.
		for len(m.turns) > 1 && EstimateTurns(m.estimator, m.turns) > m.cfg.MaxTokens {
			if m.Truncate(1) == 0 {
				break
			}
		}
	}
}

func (m *Memory) pinned(t Turn) bool {
	return !m.cfg.DropSystem && t.Role == RoleSystem
}

// Truncate permanently drops the n oldest turns, skipping pinned system
// turns. It returns how many were dropped. Sequence ids are never reused.
func (m *Memory) Truncate(n int) int {
	if n <= 0 {
		return 0
	}
	kept := m.turns[:0]
	dropped := 0
	for _, t := range m.turns {
		if dropped < n && !m.pinned(t) {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	clear(m.turns[len(kept):])
	m.turns = kept
	return dropped
}

// History returns a lazy view of a window of the stored turns. The window
// holds the newest turns that fit opts, plus pinned system turns, and never
// starts with a tool result orphaned from its call. Storage is not modified.
func (m *Memory) History(opts HistoryOptions) iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		window := m.window(opts)
		if opts.Order == MostRecentFirst {
			for i := len(window) - 1; i >= 0; i-- {
				if !yield(window[i].Clone()) {
					return
				}
			}
			return
		}
		for _, t := range window {
			if !yield(t.Clone()) {
				return
			}
		}
	}
}

func (m *Memory) window(opts HistoryOptions) []Turn {
	budget := opts.MaxTokens
	var pinned []Turn
	for _, t := range m.turns {
		if m.pinned(t) {
			pinned = append(pinned, t)
			budget -= m.estimator.EstimateTurn(t)
		}
	}

	start := len(m.turns)
	count, tokens := 0, 0
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if m.pinned(t) {
			continue
		}
		if opts.MaxTurns > 0 && count >= opts.MaxTurns {
			break
		}
		cost := m.estimator.EstimateTurn(t)
		if opts.MaxTokens > 0 && tokens+cost > budget && count > 0 {
			break
		}
		tokens += cost
		count++
		start = i
	}
	for start < len(m.turns) && m.turns[start].Role == RoleTool {
		start++
	}

	if len(pinned) == 0 {
		return m.turns[start:]
	}
	out := make([]Turn, 0, len(pinned)+len(m.turns)-start)
	for i, t := range m.turns {
		if m.pinned(t) || i >= start {
			out = append(out, t)
		}
	}
	return out
}

// Turns returns a copy of every stored turn in order.
func (m *Memory) Turns() []Turn {
	out := make([]Turn, len(m.turns))
	for i, t := range m.turns {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of stored turns.
func (m *Memory) Len() int { return len(m.turns) }

// Last returns the newest turn.
func (m *Memory) Last() (Turn, bool) {
	if len(m.turns) == 0 {
		return Turn{}, false
	}
	return m.turns[len(m.turns)-1].Clone(), true
}

// Clear drops every turn, pinned or not. Ids keep increasing.
func (m *Memory) Clear() {
	clear(m.turns)
	m.turns = m.turns[:0]
}

// Config returns the limits in effect.
func (m *Memory) Config() MemoryConfig { return m.cfg }

type memorySnapshot struct {
	Version int          `cbor:"v"`
	NextID  uint64       `cbor:"next_id"`
	Config  MemoryConfig `cbor:"config"`
	Turns   []Turn       `cbor:"turns"`
}

const snapshotVersion = 1

// Snapshot encodes the memory as a sealed CBOR document.
func (m *Memory) Snapshot() ([]byte, error) {
	data, err := codec.Seal(memorySnapshot{
		Version: snapshotVersion,
		NextID:  m.nextID,
		Config:  m.cfg,
		Turns:   m.turns,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}
	return data, nil
}

// RestoreMemory rebuilds a Memory from Snapshot output.
func RestoreMemory(data []byte, estimator Estimator) (*Memory, error) {
	var snap memorySnapshot
	if err := codec.Open(data, &snap); err != nil {
		return nil, errors.InvalidState("cannot decode memory snapshot").WithCause(err)
	}
	if snap.Version != snapshotVersion {
		return nil, errors.InvalidState("unsupported memory snapshot version").WithDetail("version", snap.Version)
	}
	m := NewMemory(snap.Config, estimator)
	m.turns = snap.Turns
	m.nextID = max(snap.NextID, 1)
	for _, t := range m.turns {
		if !t.Finished || t.ID >= m.nextID {
			return nil, errors.InvalidState("corrupt memory snapshot").WithDetail("turn_id", t.ID)
		}
	}
	return m, nil
}
