// Package contextwin decides which prior turns fit into the token budget of
// the next outbound request.
package contextwin

import (
	"github.com/promptd/promptd/internal/domain"
)

// Manager selects the context window. It is pure: selection is a view over
// the stored conversation, never a deletion, and is deterministic for a
// given conversation and budget.
type Manager struct {
	cost func(domain.Turn) int
}

// Option configures the manager.
type Option func(*Manager)

// WithCostFunc overrides the per-turn cost estimate. Tests use this to make
// costs explicit.
func WithCostFunc(f func(domain.Turn) int) Option {
	return func(m *Manager) { m.cost = f }
}

// New creates a context window manager.
func New(opts ...Option) *Manager {
	m := &Manager{cost: turnCost}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SelectHistory returns the suffix of the conversation's turns that fits the
// budget, in chronological order. It walks from the most recent turn
// backward, accumulating cost, and stops before the first older turn that
// would exceed the budget. The most recent turn is always kept, even when it
// alone exceeds the budget: truncation removes oldest turns first and never
// the newest.
func (m *Manager) SelectHistory(conv *domain.Conversation, budget int) []domain.Turn {
	turns := conv.Turns
	if len(turns) == 0 {
		return nil
	}

	cut := len(turns) - 1 // most recent turn is always included
	total := m.cost(turns[cut])
	for cut > 0 {
		cost := m.cost(turns[cut-1])
		if total+cost > budget {
			break
		}
		total += cost
		cut--
	}

	out := make([]domain.Turn, len(turns)-cut)
	copy(out, turns[cut:])
	return out
}
