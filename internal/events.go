package internal

import (
	"encoding/json"
	"time"

	"studychat/internal/storage"
)

// Event names exchanged over the relay. Client-to-server events carry the
// acting user's identity; server broadcasts are room scoped.
const (
	EventJoin   = "join"
	EventSend   = "send"
	EventTyping = "typing"
	EventLeave  = "leave"

	EventHistory    = "history"
	EventMessage    = "message"
	EventAIResponse = "aiResponse"
	EventUserTyping = "userTyping"
	EventUserJoined = "userJoined"
	EventUserLeft   = "userLeft"
	EventError      = "error"
)

// Envelope is the json frame wrapping every relay event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload binds the session to a room. Re-joining is an idempotent rebind.
type JoinPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SendPayload carries one outgoing user message.
type SendPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Text     string `json:"text"`
}

// TypingPayload is the fire-and-forget typing signal relayed to other members.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// LeavePayload mirrors JoinPayload for an explicit leave.
type LeavePayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// HistoryPayload delivers the room's full log to a joining session only.
type HistoryPayload struct {
	Messages []storage.Message `json:"messages"`
}

// PresencePayload announces userJoined/userLeft to the rest of the room.
type PresencePayload struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// UserTypingPayload is the userTyping broadcast, excluding the typist itself.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is scoped to the originating session, never broadcast.
type ErrorPayload struct {
	Message string `json:"message"`
}

// encodeEvent wraps a payload in an envelope and marshals it. The payload
// types above cannot fail to marshal, so errors are dropped.
func encodeEvent(event string, payload interface{}) []byte {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		data = raw
	}
	encoded, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil
	}
	return encoded
}
