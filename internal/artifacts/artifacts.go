// Package artifacts persists durable agent outputs.
package artifacts

import (
	"context"
	"time"
)

// previewRunes bounds the content excerpt returned by List.
const previewRunes = 200

// Artifact is one durable agent output.
type Artifact struct {
	ID        string
	UserID    string
	AgentID   string
	Type      string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a listing row: everything but the full body.
type Summary struct {
	ID        string
	AgentID   string
	Type      string
	Preview   string
	CreatedAt time.Time
}

// Store persists artifacts. Soft-deleted rows are invisible to Get and List.
type Store interface {
	// Write inserts an artifact and returns its id.
	Write(ctx context.Context, userID, agentID, artifactType, content string, metadata map[string]any) (string, error)

	// Get returns an artifact by id, or nil when absent or deleted.
	Get(ctx context.Context, artifactID string) (*Artifact, error)

	// List returns the user's artifacts newest-first, optionally filtered
	// by type, each with a content preview instead of the full body.
	List(ctx context.Context, userID, artifactType string, limit int) ([]Summary, error)

	// Delete soft-deletes; reports whether a live row existed.
	Delete(ctx context.Context, artifactID string) (bool, error)
}

// preview truncates content for listing.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes])
}
