// Package threads tracks conversation-thread handles owned by the gateway.
// Message bodies live with the graph executor; these rows are metadata only.
package threads

import (
	"context"
	"time"
)

// Thread is one tracked conversation handle.
type Thread struct {
	ThreadID     string
	UserID       string
	Title        string
	Provider     string
	Model        string
	MessageCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists thread handles. Soft-deleted rows are invisible to reads.
type Store interface {
	// Create registers a thread and returns its generated id.
	Create(ctx context.Context, userID, title, provider, model string) (string, error)

	// Get returns a thread, or nil when absent or deleted.
	Get(ctx context.Context, threadID, userID string) (*Thread, error)

	// List returns the user's threads, most recently updated first.
	List(ctx context.Context, userID string, limit int) ([]*Thread, error)

	// Touch bumps the message counter and updated_at.
	Touch(ctx context.Context, threadID, userID string) error

	// Delete soft-deletes; reports whether a live row existed.
	Delete(ctx context.Context, threadID, userID string) (bool, error)
}
