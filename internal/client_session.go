package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"studychat/internal/storage"
	"studychat/internal/typing"
)

const (
	reconnectAttempts = 5
	reconnectDelay    = time.Second
)

// Event kinds surfaced to the UI on top of the wire events.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventTypingView   = "typingView"
)

// Event is one decoded occurrence delivered to the UI layer.
type Event struct {
	Kind       string
	History    []storage.Message
	Message    *storage.Message
	Presence   *PresencePayload
	TypingUser string
	Err        string
}

// SessionConfig describes one client session.
type SessionConfig struct {
	ServerURL string // ws(s) url of the relay endpoint
	RoomID    string
	UserID    string
	UserName  string
	// Typing is the ephemeral store client; nil disables the store channel
	// and leaves the relay broadcast as the only typing source.
	Typing *typing.Store
}

// Session is the client-side session controller: it owns the relay
// connection, re-joins after every reconnect, folds typing signals from both
// channels through a reconciler, and guarantees its own typing entry is
// cleared on teardown.
type Session struct {
	cfg        SessionConfig
	conn       *websocket.Conn
	writeMutex sync.Mutex
	events     chan Event
	reconciler *typing.Reconciler

	emitMu       sync.Mutex
	eventsClosed bool

	typingMu    sync.Mutex
	typingTimer *time.Timer
	isTyping    bool

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func NewSession(cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	s.reconciler = typing.NewReconciler(cfg.UserID, typing.DebounceWindow, func(name string) {
		s.emit(Event{Kind: EventTypingView, TypingUser: name})
	})
	return s
}

// Events is the stream consumed by the UI. It closes when the session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start dials the relay, joins the room, and launches the background readers.
func (s *Session) Start() error {
	if err := s.connect(); err != nil {
		return err
	}
	if s.cfg.Typing != nil {
		go s.watchTypingStore()
	}
	go s.readLoop()
	return nil
}

func (s *Session) connect() error {
	joinURL, err := buildRelayURL(s.cfg.ServerURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	s.writeMutex.Lock()
	s.conn = conn
	s.writeMutex.Unlock()
	// join is re-issued on every (re)connect; the server treats it as an
	// idempotent rebind, so this is safe after a dropped connection too.
	if err := s.writeEvent(EventJoin, JoinPayload{RoomID: s.cfg.RoomID, UserID: s.cfg.UserID, UserName: s.cfg.UserName}); err != nil {
		_ = conn.Close()
		return err
	}
	s.emit(Event{Kind: EventConnected})
	return nil
}

// reconnect retries with a fixed attempt count and fixed backoff.
func (s *Session) reconnect() bool {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(reconnectDelay):
		}
		if err := s.connect(); err == nil {
			return true
		}
	}
	return false
}

func (s *Session) readLoop() {
	defer s.closeEvents()
	for {
		_, payload, err := s.currentConn().ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.emit(Event{Kind: EventDisconnected})
			if !s.reconnect() {
				s.emit(Event{Kind: EventError, Err: "connection lost and reconnection failed"})
				return
			}
			continue
		}
		s.dispatch(payload)
	}
}

func (s *Session) dispatch(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	switch env.Event {
	case EventHistory:
		var history HistoryPayload
		if err := json.Unmarshal(env.Data, &history); err != nil {
			return
		}
		// the fetched history replaces local state on every (re)join
		s.emit(Event{Kind: EventHistory, History: history.Messages})
	case EventMessage, EventAIResponse:
		var msg storage.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		s.emit(Event{Kind: env.Event, Message: &msg})
	case EventUserTyping:
		var sig UserTypingPayload
		if err := json.Unmarshal(env.Data, &sig); err != nil {
			return
		}
		// relay channel feeding the same merged view as the store channel
		s.reconciler.Apply(typing.Signal{UserID: sig.UserID, UserName: sig.UserName, IsTyping: sig.IsTyping})
	case EventUserJoined, EventUserLeft:
		var presence PresencePayload
		if err := json.Unmarshal(env.Data, &presence); err != nil {
			return
		}
		s.emit(Event{Kind: env.Event, Presence: &presence})
	case EventError:
		var errPayload ErrorPayload
		if err := json.Unmarshal(env.Data, &errPayload); err != nil {
			return
		}
		s.emit(Event{Kind: EventError, Err: errPayload.Message})
	}
}

// watchTypingStore snapshots the room's typing records and then follows the
// pub/sub channel, feeding the shared reconciler.
func (s *Session) watchTypingStore() {
	signals, stop := s.cfg.Typing.Subscribe(s.ctx, s.cfg.RoomID)
	defer stop()

	if snapshot, err := s.cfg.Typing.Snapshot(s.ctx, s.cfg.RoomID); err == nil {
		for _, sig := range snapshot {
			s.reconciler.Apply(sig)
		}
	}
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			s.reconciler.Apply(sig)
		case <-s.ctx.Done():
			return
		}
	}
}

// SendMessage relays one user message and clears the local typing state, the
// same way pressing send stops the typing indicator immediately.
func (s *Session) SendMessage(text string) error {
	s.setTyping(false)
	return s.writeEvent(EventSend, SendPayload{
		RoomID:   s.cfg.RoomID,
		UserID:   s.cfg.UserID,
		UserName: s.cfg.UserName,
		Text:     text,
	})
}

// NotifyInput marks the local user as typing in both channels and refreshes
// the debounce timer; after DebounceWindow of silence both are cleared.
func (s *Session) NotifyInput() {
	s.typingMu.Lock()
	wasTyping := s.isTyping
	s.isTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(typing.DebounceWindow, func() { s.setTyping(false) })
	s.typingMu.Unlock()

	if !wasTyping {
		s.publishTyping(true)
	}
}

func (s *Session) setTyping(active bool) {
	s.typingMu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	wasTyping := s.isTyping
	s.isTyping = active
	s.typingMu.Unlock()
	if wasTyping && !active {
		s.publishTyping(false)
	}
}

// publishTyping renders the local typing state into both ephemeral channels.
// Either may fail independently; the other still carries the signal.
func (s *Session) publishTyping(active bool) {
	_ = s.writeEvent(EventTyping, TypingPayload{
		RoomID:   s.cfg.RoomID,
		UserID:   s.cfg.UserID,
		UserName: s.cfg.UserName,
		IsTyping: active,
	})
	if s.cfg.Typing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if active {
		_ = s.cfg.Typing.Set(ctx, s.cfg.RoomID, typing.Signal{UserID: s.cfg.UserID, UserName: s.cfg.UserName})
	} else {
		_ = s.cfg.Typing.Clear(ctx, s.cfg.RoomID, s.cfg.UserID, s.cfg.UserName)
	}
}

// TypingUser is the merged "who else is typing" view.
func (s *Session) TypingUser() string {
	return s.reconciler.TypingUser()
}

// Close tears the session down: it clears the local typing entry, emits an
// explicit leave, and closes the connection. Safe to call more than once;
// the server-side implicit leave and the store TTL backstop abrupt exits.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setTyping(false)
		_ = s.writeEvent(EventLeave, LeavePayload{RoomID: s.cfg.RoomID, UserID: s.cfg.UserID, UserName: s.cfg.UserName})
		s.reconciler.Stop()
		s.cancel()
		if conn := s.currentConn(); conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		}
	})
}

func (s *Session) writeEvent(event string, payload interface{}) error {
	encoded := encodeEvent(event, payload)
	if encoded == nil {
		return errors.New("encode event")
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.conn == nil {
		return errors.New("not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, encoded)
}

func (s *Session) currentConn() *websocket.Conn {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.conn
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// closeEvents ends the stream exactly once. Cancelling first unblocks any
// emitter stuck on a full buffer; the reconciler's expiry timers may still
// fire afterwards, which the eventsClosed flag absorbs.
func (s *Session) closeEvents() {
	s.cancel()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.events)
}

func buildRelayURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	return parsed.String(), nil
}
