package internal

import (
	"testing"
)

func TestUpdateStoresStartedSession(t *testing.T) {
	model := NewTUIModel("ws://localhost:0/ws", "R1", "alice", nil)
	session := NewSession(SessionConfig{
		ServerURL: "ws://localhost:0/ws",
		RoomID:    "R1",
		UserID:    "u1",
		UserName:  "alice",
	})

	updated, cmd := model.Update(sessionStartedMsg{session: session})
	next, ok := updated.(*TUIModel)
	if !ok {
		t.Fatalf("unexpected model type %T", updated)
	}
	if next.session != session {
		t.Fatalf("the started session should be stored by Update")
	}
	if cmd == nil {
		t.Fatalf("expected Update to start the event pump")
	}
}
