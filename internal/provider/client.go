// Package provider implements the backends that turn a prompt plus prior
// turns into a model response. Each variant classifies its failures into the
// shared taxonomy so the dispatcher can stay provider-agnostic.
package provider

import (
	"context"
	"sync"

	"github.com/promptd/promptd/internal/domain"
)

// Client is the uniform capability over a model backend.
type Client interface {
	// Name identifies the backend variant for logs.
	Name() string

	// Model returns the concrete model identifier sent to the backend.
	Model() string

	// RequiresCredential reports whether SendTurn needs a credential. Only
	// credentialed variants participate in rotation.
	RequiresCredential() bool

	// SendTurn sends the prior turns plus the new content and returns the
	// assistant turn. credential is ignored by unauthenticated variants.
	// Failures are returned as *Error.
	SendTurn(ctx context.Context, history []domain.Turn, content string, credential string) (domain.Turn, error)

	// History returns a snapshot of what the last SendTurn actually put on
	// the wire. Diagnostics only; conversation storage owns its own copy.
	History() []domain.Turn
}

// historyRecorder remembers the last outbound request for History().
type historyRecorder struct {
	mu   sync.Mutex
	last []domain.Turn
}

func (r *historyRecorder) record(history []domain.Turn, content string) {
	snapshot := make([]domain.Turn, 0, len(history)+1)
	snapshot = append(snapshot, history...)
	snapshot = append(snapshot, domain.Turn{Role: domain.RoleUser, Content: content})

	r.mu.Lock()
	r.last = snapshot
	r.mu.Unlock()
}

func (r *historyRecorder) snapshot() []domain.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Turn, len(r.last))
	copy(out, r.last)
	return out
}
