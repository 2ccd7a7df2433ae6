package domain

import (
	"context"
	"time"
)

// Snapshot is the full conversation state handed to a session sink after
// every append.
type Snapshot struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"maxTokens"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Entry   `json:"messages"`
}

// SessionSink receives snapshots for durability. It is never read back during
// a run, and its failures must not affect the conversation.
type SessionSink interface {
	Write(ctx context.Context, snap Snapshot) error
}

// SessionRecord summarizes a stored session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	MaxTokens int       `json:"maxTokens"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
