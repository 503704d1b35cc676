package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetOrCreateLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	log, err := store.GetOrCreate(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("expected empty log, got %d messages", len(log))
	}

	exists, err := store.Exists(ctx, "R1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected room to exist after GetOrCreate")
	}

	// second call must return the same (still empty) log, not a divergent one
	log, err = store.GetOrCreate(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("expected idempotent creation, got %d messages", len(log))
	}
}

func TestConcurrentFirstAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.GetOrCreate(ctx, "shared"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent GetOrCreate: %v", err)
	}

	stats, err := store.Stats(ctx, "shared")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalMessages != 0 {
		t.Fatalf("expected empty log after concurrent creation, got %+v", stats)
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "R1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	for i := 0; i < 5; i++ {
		msg := Message{
			ID:       fmt.Sprintf("m%d", i),
			Sender:   SenderUser,
			UserID:   "u1",
			UserName: "alice",
			Text:     fmt.Sprintf("message %d", i),
		}
		if err := store.Append(ctx, "R1", msg); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	log, err := store.GetOrCreate(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(log) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(log))
	}
	for i, msg := range log {
		if msg.ID != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d out of order: %+v", i, msg)
		}
	}
}

func TestAppendUnknownRoom(t *testing.T) {
	store := newTestStore(t)
	err := store.Append(context.Background(), "nope", Message{ID: "m1", Sender: SenderUser, UserID: "u1", UserName: "alice", Text: "hi"})
	if err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRecentWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "R1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for i := 0; i < 15; i++ {
		msg := Message{ID: fmt.Sprintf("m%d", i), Sender: SenderUser, UserID: "u1", UserName: "alice", Text: fmt.Sprintf("msg %d", i)}
		if err := store.Append(ctx, "R1", msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	recent, err := store.Recent(ctx, "R1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(recent))
	}
	if recent[0].ID != "m5" || recent[9].ID != "m14" {
		t.Fatalf("unexpected window: first=%s last=%s", recent[0].ID, recent[9].ID)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "R1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Append(ctx, "R1", Message{ID: "m1", Sender: SenderUser, UserID: "u1", UserName: "alice", Text: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Clear(ctx, "R1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	log, err := store.GetOrCreate(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrCreate after clear: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(log))
	}
	if err := store.Clear(ctx, "never-created"); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx, "missing")
	if err != nil {
		t.Fatalf("Stats on missing room: %v", err)
	}
	if stats.TotalMessages != 0 || stats.LastActivity != nil {
		t.Fatalf("expected zero stats, got %+v", stats)
	}

	if _, err := store.GetOrCreate(ctx, "R1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	now := time.Now()
	appends := []Message{
		{ID: "m1", Sender: SenderUser, UserID: "u1", UserName: "alice", Text: "hi", Timestamp: now},
		{ID: "m2", Sender: SenderAssistant, Text: "hello there", Timestamp: now.Add(time.Second)},
		{ID: "m3", Sender: SenderUser, UserID: "u2", UserName: "bob", Text: "hey", Timestamp: now.Add(2 * time.Second)},
	}
	for _, msg := range appends {
		if err := store.Append(ctx, "R1", msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	stats, err = store.Stats(ctx, "R1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalMessages != 3 || stats.UserMessages != 2 || stats.AIMessages != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastActivity == nil {
		t.Fatalf("expected lastActivity to be set")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
