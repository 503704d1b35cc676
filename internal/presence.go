package internal

import "sync"

// Binding is the room attachment of one live session.
type Binding struct {
	RoomID   string
	UserID   string
	UserName string
}

// RoomPresence tracks which session belongs to which room, purely in memory.
// A session is bound to at most one room at a time; rebinding replaces the
// previous attachment (last join wins). All presence is lost on restart and
// clients re-join on reconnect.
type RoomPresence struct {
	mu       sync.Mutex
	sessions map[string]Binding
	rooms    map[string]map[string]struct{}
}

func NewRoomPresence() *RoomPresence {
	return &RoomPresence{
		sessions: make(map[string]Binding),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Join binds the session to a room and returns the previous room id when the
// call replaced an existing binding to a different room.
func (p *RoomPresence) Join(sessionID, roomID, userID, userName string) (prevRoom string, rebound bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.sessions[sessionID]; ok {
		p.removeFromRoom(prev.RoomID, sessionID)
		if prev.RoomID != roomID {
			prevRoom, rebound = prev.RoomID, true
		}
	}
	p.sessions[sessionID] = Binding{RoomID: roomID, UserID: userID, UserName: userName}
	members, ok := p.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		p.rooms[roomID] = members
	}
	members[sessionID] = struct{}{}
	return prevRoom, rebound
}

// Leave unbinds the session and returns its last known binding. Calling it on
// a session with no binding is a no-op.
func (p *RoomPresence) Leave(sessionID string) (Binding, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binding, ok := p.sessions[sessionID]
	if !ok {
		return Binding{}, false
	}
	delete(p.sessions, sessionID)
	p.removeFromRoom(binding.RoomID, sessionID)
	return binding, true
}

// Lookup returns the session's current binding.
func (p *RoomPresence) Lookup(sessionID string) (Binding, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binding, ok := p.sessions[sessionID]
	return binding, ok
}

// RoomSize reports how many sessions are currently bound to a room.
func (p *RoomPresence) RoomSize(roomID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[roomID])
}

func (p *RoomPresence) removeFromRoom(roomID, sessionID string) {
	if members, ok := p.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(p.rooms, roomID)
		}
	}
}
