// Package domain holds the core data types shared across the codebase.
package domain

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage carries token counts reported by a provider for a single call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Turn is one exchange unit within a conversation. Turns are immutable
// after creation.
type Turn struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Media   []string `json:"media,omitempty"` // references to attached media parts
	// Usage is nil until the provider reports token counts for the call
	// that produced this turn.
	Usage     *Usage    `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserTurn builds a user turn with the current timestamp.
func NewUserTurn(content string, media ...string) Turn {
	return Turn{
		Role:      RoleUser,
		Content:   content,
		Media:     media,
		CreatedAt: time.Now(),
	}
}
