package internal

import "sync"

// all active rooms, keyed by room id
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*room
}

// builds an empty hub ready to serve relay connections
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// takes a peek into the room map. We use it for the lightweight /exists
func (hub *Hub) Exists(key string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[key]
	return ok
}

// joinRoom binds a session to a live fan-out loop for the given key, creating
// one if needed. Membership changes under the hub lock so a concurrent
// empty-room teardown can never strand the new member.
func (hub *Hub) joinRoom(key string, c *client) *room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if r, exists := hub.rooms[key]; exists {
		r.add(c)
		return r
	}
	r := newRoom(key)
	r.add(c)
	hub.rooms[key] = r
	go r.run()
	return r
}

// getRoom is the non-creating lookup, for follow-up broadcasts that must not
// resurrect a room everyone has already left.
func (hub *Hub) getRoom(key string) (*room, bool) {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	r, ok := hub.rooms[key]
	return r, ok
}

func (hub *Hub) deleteRoomIfEmpty(key string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if r, exists := hub.rooms[key]; exists {
		if r.size() == 0 {
			close(r.done)
			delete(hub.rooms, key)
		}
	}
}

// outbound is one fan-out request; exclude skips a single session (the actor
// of a userJoined/userLeft/userTyping event).
type outbound struct {
	payload []byte
	exclude *client
}

// a room fans incoming payloads out to all currently connected sessions and
// handles membership changes.
type room struct {
	key       string
	clients   map[*client]bool
	broadcast chan outbound
	done      chan struct{}
	mutex     sync.RWMutex
}

func newRoom(key string) *room {
	return &room{
		key:       key,
		clients:   make(map[*client]bool),
		broadcast: make(chan outbound, 256),
		done:      make(chan struct{}),
	}
}

func (r *room) size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.clients)
}

func (r *room) add(c *client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clients[c] = true
}

// remove detaches a session from the room without closing its send queue;
// the same connection may rebind to another room afterwards.
func (r *room) remove(c *client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.clients, c)
}

func (r *room) run() {
	for {
		select {
		case <-r.done:
			return
		case out := <-r.broadcast:
			// Fan out to every connected session. If one can't keep up we
			// detach it and drop its connection; the send queue is never
			// closed, so late scoped deliveries are discarded instead of
			// panicking.
			r.mutex.Lock()
			for c := range r.clients {
				if c == out.exclude {
					continue
				}
				if !c.deliver(out.payload) {
					delete(r.clients, c)
					c.drop()
				}
			}
			r.mutex.Unlock()
		}
	}
}
