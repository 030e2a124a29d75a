package threads

import (
	"context"
	"testing"
)

func TestCreateGetTouch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Create(ctx, "alice", "Fitness", "anthropic", "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	th, err := store.Get(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if th == nil || th.Title != "Fitness" || th.MessageCount != 0 {
		t.Fatalf("thread = %+v", th)
	}

	// Another user cannot see the thread.
	if other, err := store.Get(ctx, id, "bob"); err != nil || other != nil {
		t.Errorf("cross-user get = %+v err=%v", other, err)
	}

	if err := store.Touch(ctx, id, "alice"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	th, err = store.Get(ctx, id, "alice")
	if err != nil || th.MessageCount != 1 {
		t.Errorf("after touch = %+v err=%v", th, err)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Create(ctx, "alice", "One", "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "alice", "Two", "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := store.List(ctx, "alice", 10)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %+v err=%v", list, err)
	}
	if list[0].Title != "Two" {
		t.Errorf("list order = [%s %s], want newest first", list[0].Title, list[1].Title)
	}

	deleted, err := store.Delete(ctx, first, "alice")
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	list, err = store.List(ctx, "alice", 10)
	if err != nil || len(list) != 1 || list[0].Title != "Two" {
		t.Errorf("list after delete = %+v err=%v", list, err)
	}
}
