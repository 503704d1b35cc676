package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studychat/internal/ai"
	"studychat/internal/storage"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5
	storeTimeout    = 5 * time.Second
)

// apologyText is broadcast when the whole provider chain fails. It is never
// written to the history log; the two AI failure paths differ exactly there.
const apologyText = "Sorry, I'm having trouble responding right now. Please try again."

// Responder is the AI orchestration boundary consumed by the relay.
type Responder interface {
	Respond(ctx context.Context, prompt string, params ai.Params) (string, error)
}

// Server is the chat relay engine: it owns the per-connection event contract
// and composes membership, history persistence, and AI orchestration.
type Server struct {
	hub       *Hub
	presence  *RoomPresence
	store     *storage.Store
	responder Responder
	metrics   *Metrics
	limiter   *RateLimiter
}

func NewServer(store *storage.Store, responder Responder) *Server {
	return &Server{
		hub:       NewHub(),
		presence:  NewRoomPresence(),
		store:     store,
		responder: responder,
		metrics:   NewMetrics(),
		limiter:   NewRateLimiter(rateLimitBurst, rateLimitWindow),
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// a client wraps one live relay connection and its buffered send queue. It is
// the server-side session object; its room binding lives in RoomPresence.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.Mutex
	dropped   bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		sessionID: uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, 256),
	}
}

// ServeWS upgrades the request and starts the session pumps. The session
// enters the Connected state; it only joins a room via the join event.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}
	c := newClient(websocketConn)
	s.metrics.IncConn()

	go c.writePump()
	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.handleDisconnect(c)
		_ = c.conn.Close()
		s.metrics.DecConn()
	}()
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			// read error ends the loop so the deferred cleanup can fire.
			break
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.emitError(c, "malformed event")
			continue
		}
		s.handleEvent(c, env)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent dispatches one decoded envelope. Every handler converts its own
// failures into a scoped error emission; nothing here may take the process down.
func (s *Server) handleEvent(c *client, env Envelope) {
	switch env.Event {
	case EventJoin:
		var payload JoinPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			s.emitError(c, "malformed join payload")
			return
		}
		s.handleJoin(c, payload)
	case EventSend:
		var payload SendPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			s.emitError(c, "malformed send payload")
			return
		}
		s.handleSend(c, payload)
	case EventTyping:
		var payload TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return // fire-and-forget, not worth an error round trip
		}
		s.handleTyping(c, payload)
	case EventLeave:
		s.handleLeave(c)
	default:
		s.emitError(c, "unknown event: "+env.Event)
	}
}

func (s *Server) handleJoin(c *client, payload JoinPayload) {
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		s.emitError(c, "room id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	history, err := s.store.GetOrCreate(ctx, roomID)
	if err != nil {
		// store unavailable: the session stays in the Connected state
		log.Printf("join %s: %v", roomID, err)
		s.emitError(c, "failed to join room")
		return
	}

	prevRoom, rebound := s.presence.Join(c.sessionID, roomID, payload.UserID, payload.UserName)
	if rebound {
		if prev, ok := s.hub.getRoom(prevRoom); ok {
			prev.remove(c)
			s.hub.deleteRoomIfEmpty(prevRoom)
		}
	}
	r := s.hub.joinRoom(roomID, c)

	// history goes to the joining session only
	c.deliver(encodeEvent(EventHistory, HistoryPayload{Messages: history}))

	// everyone else learns about the new member
	r.broadcast <- outbound{
		payload: encodeEvent(EventUserJoined, PresencePayload{
			UserID:    payload.UserID,
			UserName:  payload.UserName,
			Timestamp: time.Now(),
		}),
		exclude: c,
	}
	s.metrics.IncRoomJoin()
	log.Printf("%s joined room %s", payload.UserName, roomID)
}

func (s *Server) handleSend(c *client, payload SendPayload) {
	binding, joined := s.presence.Lookup(c.sessionID)
	if !joined {
		s.emitError(c, "join a room first")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		s.emitError(c, "message cannot be empty")
		return
	}
	if !s.limiter.Allow(c.sessionID) {
		s.emitError(c, "you're sending messages too quickly, please wait a moment")
		return
	}

	userMessage := storage.Message{
		ID:        uuid.NewString(),
		Sender:    storage.SenderUser,
		UserID:    binding.UserID,
		UserName:  binding.UserName,
		Text:      text,
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Append(ctx, binding.RoomID, userMessage); err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			s.emitError(c, "room not found")
			return
		}
		log.Printf("append %s: %v", binding.RoomID, err)
		s.emitError(c, "failed to send message")
		return
	}

	if r, ok := s.hub.getRoom(binding.RoomID); ok {
		r.broadcast <- outbound{payload: encodeEvent(EventMessage, userMessage)}
	}
	s.metrics.IncMessage()

	// The AI step is a follow-up, never part of the send critical path. The
	// goroutine keeps running even if this session disconnects; the eventual
	// reply still belongs to the room.
	go s.respondToRoom(binding.RoomID)
}

// respondToRoom composes the prompt from the trailing context window, runs the
// provider chain, and persists+broadcasts the reply. A terminal orchestration
// failure turns into the fixed apology broadcast, which is not persisted.
func (s *Server) respondToRoom(roomID string) {
	ctx := context.Background()

	recentCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	recent, err := s.store.Recent(recentCtx, roomID, ai.ContextWindow)
	cancel()
	if err != nil {
		log.Printf("ai context %s: %v", roomID, err)
		s.broadcastApology(roomID)
		return
	}

	text, err := s.responder.Respond(ctx, ai.BuildPrompt(recent), ai.DefaultParams())
	if err != nil {
		s.broadcastApology(roomID)
		return
	}

	aiMessage := storage.Message{
		ID:        uuid.NewString(),
		Sender:    storage.SenderAssistant,
		Text:      text,
		Timestamp: time.Now(),
	}
	appendCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err = s.store.Append(appendCtx, roomID, aiMessage)
	cancel()
	if err != nil {
		log.Printf("ai append %s: %v", roomID, err)
		s.broadcastApology(roomID)
		return
	}

	s.metrics.IncAIResponse()

	// everyone may have left while the provider was thinking; the reply is
	// already persisted, so just skip the broadcast instead of reviving the room
	r, ok := s.hub.getRoom(roomID)
	if !ok {
		return
	}
	r.broadcast <- outbound{payload: encodeEvent(EventAIResponse, aiMessage)}
}

func (s *Server) broadcastApology(roomID string) {
	r, ok := s.hub.getRoom(roomID)
	if !ok {
		return
	}
	apology := storage.Message{
		ID:        uuid.NewString(),
		Sender:    storage.SenderAssistant,
		Text:      apologyText,
		Timestamp: time.Now(),
	}
	r.broadcast <- outbound{payload: encodeEvent(EventAIResponse, apology)}
	s.metrics.IncAIFallback()
}

func (s *Server) handleTyping(c *client, payload TypingPayload) {
	binding, joined := s.presence.Lookup(c.sessionID)
	if !joined {
		return
	}
	if r, ok := s.hub.getRoom(binding.RoomID); ok {
		r.broadcast <- outbound{
			payload: encodeEvent(EventUserTyping, UserTypingPayload{
				UserID:   binding.UserID,
				UserName: binding.UserName,
				IsTyping: payload.IsTyping,
			}),
			exclude: c,
		}
	}
	s.metrics.IncTyping()
}

func (s *Server) handleLeave(c *client) {
	binding, ok := s.presence.Leave(c.sessionID)
	if !ok {
		return
	}
	if r, ok := s.hub.getRoom(binding.RoomID); ok {
		r.broadcast <- outbound{
			payload: encodeEvent(EventUserLeft, PresencePayload{
				UserID:    binding.UserID,
				UserName:  binding.UserName,
				Timestamp: time.Now(),
			}),
			exclude: c,
		}
		r.remove(c)
		s.hub.deleteRoomIfEmpty(binding.RoomID)
	}
	log.Printf("%s left room %s", binding.UserName, binding.RoomID)
}

// handleDisconnect treats a dropped connection as an implicit leave.
func (s *Server) handleDisconnect(c *client) {
	s.handleLeave(c)
	s.limiter.Forget(c.sessionID)
}

// emitError sends a scoped error event to the originating session only.
func (s *Server) emitError(c *client, message string) {
	c.deliver(encodeEvent(EventError, ErrorPayload{Message: message}))
}

// deliver queues a payload for one session and reports false when the buffer
// is full. The queue is never closed; deliveries to a dropped session are
// silently discarded so no handler path can panic on a stale reference.
func (c *client) deliver(payload []byte) bool {
	if payload == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// drop marks the session unusable and closes its connection so both pumps
// exit. Safe to call repeatedly and from the room fan-out loop.
func (c *client) drop() {
	c.mu.Lock()
	if c.dropped {
		c.mu.Unlock()
		return
	}
	c.dropped = true
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
