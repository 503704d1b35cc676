package internal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"studychat/internal/ai"
	"studychat/internal/storage"
)

type stubResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (r *stubResponder) Respond(ctx context.Context, prompt string, params ai.Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.reply, nil
}

func newRelayServer(t *testing.T, responder Responder) *Server {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(store, responder)
}

// testClient builds a session without a real websocket; the handlers only
// touch the session id and the send queue.
func testClient() *client {
	return newClient(nil)
}

func nextEvent(t *testing.T, c *client) Envelope {
	t.Helper()
	select {
	case payload := <-c.send:
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Envelope{}
	}
}

func expectNoEvent(t *testing.T, c *client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected event: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func join(t *testing.T, s *Server, c *client, roomID, userID, userName string) {
	t.Helper()
	s.handleJoin(c, JoinPayload{RoomID: roomID, UserID: userID, UserName: userName})
	env := nextEvent(t, c)
	if env.Event != EventHistory {
		t.Fatalf("expected history on join, got %q", env.Event)
	}
}

func TestJoinDeliversHistoryAndAnnounces(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})

	c1 := testClient()
	join(t, s, c1, "R1", "u1", "alice")
	expectNoEvent(t, c1) // no self userJoined

	c2 := testClient()
	s.handleJoin(c2, JoinPayload{RoomID: "R1", UserID: "u2", UserName: "bob"})

	env := nextEvent(t, c2)
	if env.Event != EventHistory {
		t.Fatalf("expected history, got %q", env.Event)
	}

	env = nextEvent(t, c1)
	if env.Event != EventUserJoined {
		t.Fatalf("expected userJoined, got %q", env.Event)
	}
	var presence PresencePayload
	if err := json.Unmarshal(env.Data, &presence); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if presence.UserName != "bob" {
		t.Fatalf("expected bob, got %q", presence.UserName)
	}
	expectNoEvent(t, c2)
}

func TestJoinRequiresRoomID(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c := testClient()
	s.handleJoin(c, JoinPayload{RoomID: "   ", UserID: "u1", UserName: "alice"})
	env := nextEvent(t, c)
	if env.Event != EventError {
		t.Fatalf("expected error, got %q", env.Event)
	}
	if _, joined := s.presence.Lookup(c.sessionID); joined {
		t.Fatalf("session must stay unbound after a rejected join")
	}
}

func TestSendRequiresJoin(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c := testClient()
	s.handleSend(c, SendPayload{Text: "hello"})
	env := nextEvent(t, c)
	if env.Event != EventError {
		t.Fatalf("expected error, got %q", env.Event)
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c := testClient()
	join(t, s, c, "R1", "u1", "alice")

	s.handleSend(c, SendPayload{Text: "   \n "})
	env := nextEvent(t, c)
	if env.Event != EventError {
		t.Fatalf("expected error, got %q", env.Event)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Message != "message cannot be empty" {
		t.Fatalf("unexpected message %q", payload.Message)
	}

	recent, err := s.store.Recent(context.Background(), "R1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("blank text must not be persisted, got %d messages", len(recent))
	}
}

func TestSendPersistsBroadcastsAndTriggersAI(t *testing.T) {
	responder := &stubResponder{reply: "of course"}
	s := newRelayServer(t, responder)

	c1 := testClient()
	c2 := testClient()
	join(t, s, c1, "R1", "u1", "alice")
	join(t, s, c2, "R1", "u2", "bob")
	nextEvent(t, c1) // bob's userJoined

	s.handleSend(c1, SendPayload{Text: "what is osmosis?"})

	for _, c := range []*client{c1, c2} {
		env := nextEvent(t, c)
		if env.Event != EventMessage {
			t.Fatalf("expected message, got %q", env.Event)
		}
		var msg storage.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Sender != storage.SenderUser || msg.UserName != "alice" || msg.Text != "what is osmosis?" {
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	for _, c := range []*client{c1, c2} {
		env := nextEvent(t, c)
		if env.Event != EventAIResponse {
			t.Fatalf("expected aiResponse, got %q", env.Event)
		}
		var msg storage.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatalf("decode ai message: %v", err)
		}
		if msg.Sender != storage.SenderAssistant || msg.Text != "of course" {
			t.Fatalf("unexpected ai message %+v", msg)
		}
	}

	recent, err := s.store.Recent(context.Background(), "R1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d", len(recent))
	}
	if recent[0].Sender != storage.SenderUser || recent[1].Sender != storage.SenderAssistant {
		t.Fatalf("unexpected order: %q then %q", recent[0].Sender, recent[1].Sender)
	}
}

func TestAIFailureBroadcastsApologyUnpersisted(t *testing.T) {
	responder := &stubResponder{err: errors.New("provider down")}
	s := newRelayServer(t, responder)

	c := testClient()
	join(t, s, c, "R1", "u1", "alice")

	s.handleSend(c, SendPayload{Text: "hello?"})

	env := nextEvent(t, c)
	if env.Event != EventMessage {
		t.Fatalf("expected message, got %q", env.Event)
	}

	env = nextEvent(t, c)
	if env.Event != EventAIResponse {
		t.Fatalf("expected apology aiResponse, got %q", env.Event)
	}
	var msg storage.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode apology: %v", err)
	}
	if msg.Text != apologyText {
		t.Fatalf("unexpected apology text %q", msg.Text)
	}

	recent, err := s.store.Recent(context.Background(), "R1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Sender != storage.SenderUser {
		t.Fatalf("apology must not be persisted, log: %+v", recent)
	}
}

func TestTypingBroadcastExcludesTypist(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c1 := testClient()
	c2 := testClient()
	join(t, s, c1, "R1", "u1", "alice")
	join(t, s, c2, "R1", "u2", "bob")
	nextEvent(t, c1) // bob's userJoined

	s.handleTyping(c1, TypingPayload{IsTyping: true})

	env := nextEvent(t, c2)
	if env.Event != EventUserTyping {
		t.Fatalf("expected userTyping, got %q", env.Event)
	}
	var sig UserTypingPayload
	if err := json.Unmarshal(env.Data, &sig); err != nil {
		t.Fatalf("decode typing: %v", err)
	}
	if sig.UserName != "alice" || !sig.IsTyping {
		t.Fatalf("unexpected signal %+v", sig)
	}
	expectNoEvent(t, c1)
}

func TestLeaveNotifiesOthers(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c1 := testClient()
	c2 := testClient()
	join(t, s, c1, "R1", "u1", "alice")
	join(t, s, c2, "R1", "u2", "bob")
	nextEvent(t, c1) // bob's userJoined

	s.handleLeave(c2)

	env := nextEvent(t, c1)
	if env.Event != EventUserLeft {
		t.Fatalf("expected userLeft, got %q", env.Event)
	}
	if _, joined := s.presence.Lookup(c2.sessionID); joined {
		t.Fatalf("session must be unbound after leave")
	}
	// a second leave is a no-op
	s.handleLeave(c2)
	expectNoEvent(t, c1)
}

func TestRejoinRebindsRoom(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c := testClient()
	join(t, s, c, "A", "u1", "alice")
	join(t, s, c, "B", "u1", "alice")

	binding, ok := s.presence.Lookup(c.sessionID)
	if !ok || binding.RoomID != "B" {
		t.Fatalf("expected binding to B, got %+v (ok=%v)", binding, ok)
	}
	if s.hub.Exists("A") {
		t.Fatalf("empty previous room should be dropped from the hub")
	}
}

func TestSendRateLimited(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c := testClient()
	join(t, s, c, "R1", "u1", "alice")

	limited := false
	for i := 0; i < rateLimitBurst+1; i++ {
		s.handleSend(c, SendPayload{Text: "spam"})
		env := nextEvent(t, c)
		if env.Event == EventError {
			limited = true
			break
		}
		// drain the ai follow-up for accepted sends
		if env := nextEvent(t, c); env.Event != EventAIResponse {
			t.Fatalf("expected aiResponse, got %q", env.Event)
		}
	}
	if !limited {
		t.Fatalf("expected the burst to trip the rate limit")
	}
}

func TestSlowConsumerDetachedWithoutPanic(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "ok"})
	c1 := testClient()
	join(t, s, c1, "R1", "u1", "alice")
	c2 := testClient()
	join(t, s, c2, "R1", "u2", "bob")
	if env := nextEvent(t, c1); env.Event != EventUserJoined {
		t.Fatalf("expected userJoined for bob, got %q", env.Event)
	}

	// jam bob's queue so the next fan-out cannot enqueue anything
	for len(c2.send) < cap(c2.send) {
		c2.send <- []byte(`{}`)
	}

	r, ok := s.hub.getRoom("R1")
	if !ok {
		t.Fatalf("room should exist while members are joined")
	}
	r.broadcast <- outbound{payload: encodeEvent(EventMessage, storage.Message{ID: "m1", Text: "hi"}), exclude: c1}

	deadline := time.Now().Add(2 * time.Second)
	for r.size() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slow session was not detached from the room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// a late delivery to the detached session must be discarded, not crash
	s.emitError(c2, "too slow")

	s.emitError(c1, "ping")
	if env := nextEvent(t, c1); env.Event != EventError {
		t.Fatalf("healthy session should keep receiving, got %q", env.Event)
	}
}

func TestAIReplySkipsAbandonedRoom(t *testing.T) {
	s := newRelayServer(t, &stubResponder{reply: "still here"})
	seedRoom(t, s, "R1", 1)

	// everyone left before the provider finished; no room loop is running
	s.respondToRoom("R1")

	if s.hub.Exists("R1") {
		t.Fatalf("ai follow-up must not resurrect an abandoned room")
	}
	recent, err := s.store.Recent(context.Background(), "R1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[1].Sender != storage.SenderAssistant {
		t.Fatalf("reply should still be persisted, got %d messages", len(recent))
	}
}

func TestApologySkipsAbandonedRoom(t *testing.T) {
	s := newRelayServer(t, &stubResponder{err: errors.New("provider down")})
	seedRoom(t, s, "R1", 1)

	s.respondToRoom("R1")

	if s.hub.Exists("R1") {
		t.Fatalf("apology must not resurrect an abandoned room")
	}
	recent, err := s.store.Recent(context.Background(), "R1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("apology must never be persisted, got %d messages", len(recent))
	}
}
