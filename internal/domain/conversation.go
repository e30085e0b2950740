package domain

import "time"

// Conversation is a durable multi-turn session. Identity is immutable once
// assigned and the turn sequence is append-only.
type Conversation struct {
	// ID is the full UUID assigned at creation.
	ID string `json:"id"`
	// Key is the human-readable record key, <slug>-<4-char-suffix>.
	Key   string `json:"key"`
	Model string `json:"model"`
	// PreferredCredential is a fingerprint of the last credential that
	// succeeded for this conversation. Empty until a send succeeds with a
	// credentialed provider.
	PreferredCredential string    `json:"preferred_credential,omitempty"`
	Turns               []Turn    `json:"turns"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LastTurn returns the most recent turn, or nil for an empty conversation.
func (c *Conversation) LastTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return &c.Turns[len(c.Turns)-1]
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Model     string    `json:"model"`
	TurnCount int       `json:"turn_count"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
