package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type recordingChannel struct {
	frames [][]byte
	fail   bool
}

func (c *recordingChannel) Send(ctx context.Context, payload []byte) error {
	if c.fail {
		return errors.New("connection reset")
	}
	c.frames = append(c.frames, payload)
	return nil
}

func TestPostThenUnread(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore(), nil)

	id, err := q.Post(ctx, "alice", "fitness", "workout logged", PriorityNormal, PostOptions{})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	unread, err := q.GetUnread(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetUnread: %v", err)
	}
	if len(unread) == 0 || unread[0].ID != id {
		t.Fatalf("unread = %+v, want first element %s", unread, id)
	}
	if unread[0].Message != "workout logged" || unread[0].Priority != PriorityNormal {
		t.Errorf("notification = %+v", unread[0])
	}
}

func TestUnreadNewestFirst(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore(), nil)

	for _, msg := range []string{"m1", "m2", "m3"} {
		if _, err := q.Post(ctx, "alice", "x", msg, "", PostOptions{}); err != nil {
			t.Fatalf("Post %s: %v", msg, err)
		}
	}

	unread, err := q.GetUnread(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("GetUnread: %v", err)
	}
	if len(unread) != 2 || unread[0].Message != "m3" || unread[1].Message != "m2" {
		t.Errorf("unread = %+v, want [m3 m2]", unread)
	}
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore(), nil)

	id, err := q.Post(ctx, "alice", "x", "m1", "", PostOptions{})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	count, err := q.MarkRead(ctx, []string{id})
	if err != nil || count != 1 {
		t.Fatalf("MarkRead: count=%d err=%v", count, err)
	}
	// Read rows stay read.
	count, err = q.MarkRead(ctx, []string{id})
	if err != nil || count != 0 {
		t.Fatalf("second MarkRead: count=%d err=%v", count, err)
	}

	unread, err := q.GetUnread(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetUnread: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("unread after mark = %+v", unread)
	}
}

// Offline catch-up then live fan-out, matching the session lifecycle of a
// user reconnecting.
func TestLiveFanOutAndCatchUp(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore(), nil)

	// Posted while offline; survives for catch-up.
	firstID, err := q.Post(ctx, "alice", "x", "m1", PriorityNormal, PostOptions{})
	if err != nil {
		t.Fatalf("Post m1: %v", err)
	}

	unread, err := q.GetUnread(ctx, "alice", 10)
	if err != nil || len(unread) != 1 || unread[0].Message != "m1" {
		t.Fatalf("catch-up = %+v err=%v", unread, err)
	}
	if count, err := q.MarkRead(ctx, []string{firstID}); err != nil || count != 1 {
		t.Fatalf("MarkRead: count=%d err=%v", count, err)
	}

	ch := &recordingChannel{}
	q.RegisterSession("alice", ch)

	if _, err := q.Post(ctx, "alice", "x", "m2", PriorityUrgent, PostOptions{ArtifactID: "art-1"}); err != nil {
		t.Fatalf("Post m2: %v", err)
	}
	if len(ch.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(ch.frames))
	}

	var frame map[string]any
	if err := json.Unmarshal(ch.frames[0], &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame["type"] != "notification" || frame["message"] != "m2" || frame["priority"] != PriorityUrgent {
		t.Errorf("frame = %v", frame)
	}
	if frame["artifact_id"] != "art-1" {
		t.Errorf("artifact_id = %v", frame["artifact_id"])
	}

	// The live frame does not mark the row read.
	unread, err = q.GetUnread(ctx, "alice", 10)
	if err != nil || len(unread) != 1 || unread[0].Message != "m2" {
		t.Errorf("unread after fan-out = %+v err=%v", unread, err)
	}
}

func TestFanOutFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore(), nil)

	broken := &recordingChannel{fail: true}
	healthy := &recordingChannel{}
	q.RegisterSession("alice", broken)
	q.RegisterSession("alice", healthy)

	id, err := q.Post(ctx, "alice", "x", "m1", "", PostOptions{})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(healthy.frames) != 1 {
		t.Errorf("healthy channel frames = %d, want 1", len(healthy.frames))
	}
	unread, err := q.GetUnread(ctx, "alice", 10)
	if err != nil || len(unread) != 1 || unread[0].ID != id {
		t.Errorf("unread = %+v err=%v", unread, err)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore(), nil)

	ch := &recordingChannel{}
	q.RegisterSession("alice", ch)
	q.UnregisterSession("alice", ch)

	if _, err := q.Post(ctx, "alice", "x", "m1", "", PostOptions{}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(ch.frames) != 0 {
		t.Errorf("frames after unregister = %d, want 0", len(ch.frames))
	}
}

func TestUnknownPriorityRejected(t *testing.T) {
	q := NewQueue(NewMemoryStore(), nil)
	if _, err := q.Post(context.Background(), "alice", "x", "m1", "shouting", PostOptions{}); err == nil {
		t.Error("expected error for unknown priority")
	}
}
