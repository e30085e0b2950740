// Package store provides durable conversation persistence.
package store

import (
	"context"
	"errors"

	"github.com/promptd/promptd/internal/domain"
)

var (
	// ErrNotFound is returned when a selector resolves to no conversation.
	ErrNotFound = errors.New("conversation not found")
	// ErrAmbiguousSelector is returned when a suffix selector matches more
	// than one conversation.
	ErrAmbiguousSelector = errors.New("selector matches more than one conversation")
)

// Repository is the interface for persisting conversations. Appends are
// atomic: a crash never leaves a partially written turn observable.
type Repository interface {
	// Create starts a new conversation. The record key is derived from the
	// significant words of the initial prompt plus a short suffix from the
	// conversation's fresh UUID, and is persisted immediately.
	Create(ctx context.Context, initialPrompt, model string) (*domain.Conversation, error)

	// Append adds one turn to the end of a conversation.
	// Returns ErrNotFound for an unknown id.
	Append(ctx context.Context, conversationID string, turn domain.Turn) error

	// AppendExchange adds a user turn and the assistant turn that answered
	// it in a single transaction, and records the fingerprint of the
	// credential that succeeded. Returns ErrNotFound for an unknown id.
	AppendExchange(ctx context.Context, conversationID string, userTurn, assistantTurn domain.Turn, preferredCredential string) error

	// Load resolves a selector to a full conversation. A selector may be a
	// full UUID, a full record key, a suffix of either, or a 1-based
	// recency index ("1" = most recent). Returns ErrNotFound or
	// ErrAmbiguousSelector.
	Load(ctx context.Context, selector string) (*domain.Conversation, error)

	// List returns conversation summaries, most-recent-first.
	List(ctx context.Context) ([]domain.ConversationSummary, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
