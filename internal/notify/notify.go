// Package notify delivers agent-to-user notifications: durable rows for
// offline catch-up plus best-effort fan-out to live channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Notification priorities.
const (
	PriorityUrgent = "urgent"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Notification is one agent→user message.
type Notification struct {
	ID         string
	UserID     string
	FromAgent  string
	ToThreadID string
	Message    string
	Priority   string
	ArtifactID string
	CreatedAt  time.Time
	ReadAt     *time.Time
}

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n *Notification) (string, error)
	GetUnread(ctx context.Context, userID string, limit int) ([]*Notification, error)

	// MarkRead stamps read_at on rows where it is still null; returns how
	// many rows flipped.
	MarkRead(ctx context.Context, ids []string) (int, error)
}

// Channel is a live sink for one connected session, in practice a
// websocket.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}

// PostOptions carries the optional fields of a notification.
type PostOptions struct {
	ToThreadID string
	ArtifactID string
}

// Queue is the notification front door. Channel registrations are held in a
// per-user list under one mutex; fan-out copies the list under the lock and
// sends outside it.
type Queue struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string][]Channel
}

// NewQueue creates a notification queue over the store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:    store,
		logger:   logger.With("component", "notify"),
		channels: make(map[string][]Channel),
	}
}

// RegisterSession adds a live channel for the user.
func (q *Queue) RegisterSession(userID string, ch Channel) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.channels[userID] = append(q.channels[userID], ch)
}

// UnregisterSession removes a previously-registered channel.
func (q *Queue) UnregisterSession(userID string, ch Channel) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.channels[userID]
	for i, registered := range list {
		if registered == ch {
			q.channels[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.channels[userID]) == 0 {
		delete(q.channels, userID)
	}
}

// Post writes the notification row, then fans it out to the user's live
// channels. The row insert is the durability point; per-channel send
// failures are logged and swallowed, the row remains for catch-up.
func (q *Queue) Post(ctx context.Context, userID, fromAgent, message, priority string, opts PostOptions) (string, error) {
	if priority == "" {
		priority = PriorityNormal
	}
	switch priority {
	case PriorityUrgent, PriorityNormal, PriorityLow:
	default:
		return "", fmt.Errorf("unknown priority %q", priority)
	}

	id, err := q.store.Insert(ctx, &Notification{
		UserID:     userID,
		FromAgent:  fromAgent,
		ToThreadID: opts.ToThreadID,
		Message:    message,
		Priority:   priority,
		ArtifactID: opts.ArtifactID,
	})
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}

	q.fanOut(ctx, userID, framePayload(id, fromAgent, message, priority, opts.ArtifactID))
	return id, nil
}

func framePayload(id, fromAgent, message, priority, artifactID string) []byte {
	frame := map[string]any{
		"type":       "notification",
		"id":         id,
		"from_agent": fromAgent,
		"message":    message,
		"priority":   priority,
	}
	if artifactID != "" {
		frame["artifact_id"] = artifactID
	}
	payload, _ := json.Marshal(frame)
	return payload
}

func (q *Queue) fanOut(ctx context.Context, userID string, payload []byte) {
	q.mu.Lock()
	targets := append([]Channel(nil), q.channels[userID]...)
	q.mu.Unlock()

	for _, ch := range targets {
		if err := ch.Send(ctx, payload); err != nil {
			q.logger.Warn("channel send failed, relying on catch-up",
				"user_id", userID,
				"error", err)
		}
	}
}

// GetUnread returns the newest-first unread notifications for the user.
func (q *Queue) GetUnread(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.store.GetUnread(ctx, userID, limit)
}

// MarkRead flips the given notifications to read; already-read rows are
// untouched.
func (q *Queue) MarkRead(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return q.store.MarkRead(ctx, ids)
}
