package typing

import (
	"sync"
	"time"
)

// Reconciler merges typing signals from the Redis keyspace and the relay
// broadcast into one "who is typing" view. The two sources are redundant and
// unordered relative to each other, so the policy is: the most recent active
// signal wins, from either source; inactive signals and expiry both clear.
// A brief stale indicator when the channels disagree is the accepted cost of
// keeping latency low.
type Reconciler struct {
	mu       sync.Mutex
	selfID   string
	window   time.Duration
	active   map[string]*entry
	latest   string // userID of the most recent active signal
	onChange func(userName string)
	stopped  bool
}

type entry struct {
	userName string
	timer    *time.Timer
}

// NewReconciler builds a merged view for one observing client. selfID is the
// observer's own user id (its own signals are ignored). onChange fires with
// the displayed user name, or "" when nobody else is typing; it may be called
// from timer goroutines.
func NewReconciler(selfID string, window time.Duration, onChange func(userName string)) *Reconciler {
	if window <= 0 {
		window = DebounceWindow
	}
	return &Reconciler{
		selfID:   selfID,
		window:   window,
		active:   make(map[string]*entry),
		onChange: onChange,
	}
}

// Apply folds one signal from either channel into the view. Re-applying an
// active signal refreshes its expiry rather than duplicating the entry.
func (r *Reconciler) Apply(sig Signal) {
	if sig.UserID == "" || sig.UserID == r.selfID {
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if sig.IsTyping {
		if existing, ok := r.active[sig.UserID]; ok {
			existing.timer.Stop()
		}
		userID := sig.UserID
		ent := &entry{userName: sig.UserName}
		ent.timer = time.AfterFunc(r.window, func() { r.expire(userID) })
		r.active[userID] = ent
		r.latest = userID
	} else {
		r.remove(sig.UserID)
	}
	view := r.viewLocked()
	r.mu.Unlock()
	r.notify(view)
}

// TypingUser returns the currently displayed name, or "" when nobody else is typing.
func (r *Reconciler) TypingUser() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Stop cancels pending expiry timers. The reconciler must not be used after.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for userID, ent := range r.active {
		ent.timer.Stop()
		delete(r.active, userID)
	}
	r.latest = ""
}

func (r *Reconciler) expire(userID string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.remove(userID)
	view := r.viewLocked()
	r.mu.Unlock()
	r.notify(view)
}

func (r *Reconciler) remove(userID string) {
	if ent, ok := r.active[userID]; ok {
		ent.timer.Stop()
		delete(r.active, userID)
	}
	if r.latest == userID {
		r.latest = ""
		// fall back to any remaining active user
		for id := range r.active {
			r.latest = id
			break
		}
	}
}

func (r *Reconciler) viewLocked() string {
	if ent, ok := r.active[r.latest]; ok {
		return ent.userName
	}
	return ""
}

func (r *Reconciler) notify(view string) {
	if r.onChange != nil {
		r.onChange(view)
	}
}
