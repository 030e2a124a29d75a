package artifacts

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestWriteGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Write(ctx, "alice", "fitness", "daily-plan", "plan body", map[string]any{"run": "10k"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	a, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a == nil {
		t.Fatal("expected artifact")
	}
	if a.Content != "plan body" || a.Type != "daily-plan" || a.AgentID != "fitness" {
		t.Errorf("artifact = %+v", a)
	}
	if a.Metadata["run"] != "10k" {
		t.Errorf("metadata = %v", a.Metadata)
	}
}

func TestGetMissingReturnsNone(t *testing.T) {
	a, err := NewMemoryStore().Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != nil {
		t.Errorf("artifact = %+v, want none", a)
	}
}

func TestListPreviewAndFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	long := strings.Repeat("é", 450)
	if _, err := store.Write(ctx, "alice", "fitness", "daily-plan", long, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Write(ctx, "alice", "email-triage", "triage", "short", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Write(ctx, "bob", "fitness", "daily-plan", "bob plan", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	all, err := store.List(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list = %+v", all)
	}
	// Newest first.
	if all[0].Type != "triage" {
		t.Errorf("first = %+v, want newest", all[0])
	}

	plans, err := store.List(ctx, "alice", "daily-plan", 10)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("filtered list = %+v", plans)
	}
	if got := utf8.RuneCountInString(plans[0].Preview); got != previewRunes {
		t.Errorf("preview runes = %d, want %d", got, previewRunes)
	}
	if !utf8.ValidString(plans[0].Preview) {
		t.Error("preview split a rune")
	}
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Write(ctx, "alice", "fitness", "daily-plan", "body", nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	deleted, err := store.Delete(ctx, id)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.Delete(ctx, id)
	if err != nil || deleted {
		t.Fatalf("second Delete: deleted=%v err=%v", deleted, err)
	}

	if a, err := store.Get(ctx, id); err != nil || a != nil {
		t.Errorf("Get after delete: artifact=%+v err=%v", a, err)
	}
	list, err := store.List(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("list after delete = %+v", list)
	}
}
