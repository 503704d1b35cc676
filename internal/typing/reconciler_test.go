package typing

import (
	"testing"
	"time"
)

func TestReconcilerIgnoresSelf(t *testing.T) {
	r := NewReconciler("me", time.Second, nil)
	defer r.Stop()

	r.Apply(Signal{UserID: "me", UserName: "self", IsTyping: true})
	if got := r.TypingUser(); got != "" {
		t.Fatalf("expected own signals ignored, got %q", got)
	}
}

func TestReconcilerMergesEitherSource(t *testing.T) {
	r := NewReconciler("me", time.Second, nil)
	defer r.Stop()

	// signal arriving from the store channel
	r.Apply(Signal{UserID: "u1", UserName: "alice", IsTyping: true})
	if got := r.TypingUser(); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}

	// clear arriving from the relay channel removes it just the same
	r.Apply(Signal{UserID: "u1", UserName: "alice", IsTyping: false})
	if got := r.TypingUser(); got != "" {
		t.Fatalf("expected cleared view, got %q", got)
	}
}

func TestReconcilerMostRecentActiveWins(t *testing.T) {
	r := NewReconciler("me", time.Second, nil)
	defer r.Stop()

	r.Apply(Signal{UserID: "u1", UserName: "alice", IsTyping: true})
	r.Apply(Signal{UserID: "u2", UserName: "bob", IsTyping: true})
	if got := r.TypingUser(); got != "bob" {
		t.Fatalf("expected most recent signal to win, got %q", got)
	}

	// when bob stops, alice is still active and takes over
	r.Apply(Signal{UserID: "u2", UserName: "bob", IsTyping: false})
	if got := r.TypingUser(); got != "alice" {
		t.Fatalf("expected alice after bob cleared, got %q", got)
	}
}

func TestReconcilerExpiresWithoutStopSignal(t *testing.T) {
	changes := make(chan string, 4)
	r := NewReconciler("me", 50*time.Millisecond, func(name string) { changes <- name })
	defer r.Stop()

	r.Apply(Signal{UserID: "u1", UserName: "alice", IsTyping: true})
	if got := <-changes; got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}

	select {
	case got := <-changes:
		if got != "" {
			t.Fatalf("expected expiry to clear view, got %q", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("typing state never expired")
	}
}

func TestReconcilerRefreshExtendsExpiry(t *testing.T) {
	r := NewReconciler("me", 80*time.Millisecond, nil)
	defer r.Stop()

	r.Apply(Signal{UserID: "u1", UserName: "alice", IsTyping: true})
	time.Sleep(50 * time.Millisecond)
	r.Apply(Signal{UserID: "u1", UserName: "alice", IsTyping: true})
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first signal, but only 50ms after the refresh
	if got := r.TypingUser(); got != "alice" {
		t.Fatalf("expected refresh to extend expiry, got %q", got)
	}
}
