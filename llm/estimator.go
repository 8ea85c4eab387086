package llm

import "sync"

const (
	defaultCharsPerToken = 4.0
	defaultSmoothing     = 0.3
)

// Estimator approximates token counts for budgeting. Estimates are rough by
// nature; they size rate-limit reservations and history windows, nothing more.
type Estimator interface {
	EstimateTurn(t Turn) int
	Observe(turns []Turn, actualPromptTokens int)
}

// CharEstimator estimates tokens from character counts with a ratio that
// calibrates itself from provider-reported usage.
//
// The first observation replaces the default ratio outright; later ones are
// blended with an exponential moving average.
type CharEstimator struct {
	mu            sync.Mutex
	charsPerToken float64
	smoothing     float64
	observations  int
}

// NewCharEstimator starts at 4 characters per token.
func NewCharEstimator() *CharEstimator {
	return &CharEstimator{charsPerToken: defaultCharsPerToken, smoothing: defaultSmoothing}
}

// EstimateTurn rounds up, so an estimate is never zero.
func (e *CharEstimator) EstimateTurn(t Turn) int {
	e.mu.Lock()
	ratio := e.charsPerToken
	e.mu.Unlock()
	return int(float64(t.charCount())/ratio) + 1
}

// Observe calibrates the ratio against the prompt tokens a provider billed
// for turns.
func (e *CharEstimator) Observe(turns []Turn, actualPromptTokens int) {
	if actualPromptTokens <= 0 {
		return
	}
	chars := 0
	for _, t := range turns {
		chars += t.charCount()
	}
	if chars == 0 {
		return
	}
	observed := float64(chars) / float64(actualPromptTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations++
	if e.observations == 1 {
		e.charsPerToken = observed
		return
	}
	e.charsPerToken = e.smoothing*observed + (1-e.smoothing)*e.charsPerToken
}

// Ratio returns the current characters-per-token ratio.
func (e *CharEstimator) Ratio() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.charsPerToken
}

// EstimateTurns sums the estimates of turns.
func EstimateTurns(e Estimator, turns []Turn) int {
	n := 0
	for _, t := range turns {
		n += e.EstimateTurn(t)
	}
	return n
}
