// Package typing carries the ephemeral "who is typing" signals for a room.
// Signals travel over two independent best-effort channels: a low-latency
// Redis keyspace (this file) and the room's websocket relay. Neither channel
// is authoritative; the Reconciler merges both into one view.
package typing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DebounceWindow is how long a typing signal stays active without a refresh.
const DebounceWindow = 2000 * time.Millisecond

// keyTTL backstops the debounce: if a client dies before clearing its key,
// Redis expires it shortly after the debounce window would have.
const keyTTL = DebounceWindow + 500*time.Millisecond

// Signal is one typing-state change for a (room, user) pair.
type Signal struct {
	UserID   string `json:"userId"`
	UserName string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Store reads and writes per-user typing records in Redis. Key layout is
// rooms:<roomId>:typing:<userId>; every write is also published on the
// room's typing channel so subscribers see updates without polling.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func typingKey(roomID, userID string) string {
	return fmt.Sprintf("rooms:%s:typing:%s", roomID, userID)
}

func typingChannel(roomID string) string {
	return fmt.Sprintf("rooms:%s:typing", roomID)
}

// Set marks the user as typing. Repeated calls refresh the TTL rather than
// duplicating the entry (last-write-wins per key).
func (s *Store) Set(ctx context.Context, roomID string, sig Signal) error {
	sig.IsTyping = true
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, typingKey(roomID, sig.UserID), data, keyTTL).Err(); err != nil {
		return fmt.Errorf("typing set: %w", err)
	}
	// best effort; a lost publish only delays observers until the next signal
	_ = s.client.Publish(ctx, typingChannel(roomID), data).Err()
	return nil
}

// Clear deletes the user's typing record, used on stop, send, and teardown.
func (s *Store) Clear(ctx context.Context, roomID, userID, userName string) error {
	if err := s.client.Del(ctx, typingKey(roomID, userID)).Err(); err != nil {
		return fmt.Errorf("typing clear: %w", err)
	}
	data, err := json.Marshal(Signal{UserID: userID, UserName: userName, IsTyping: false})
	if err != nil {
		return err
	}
	_ = s.client.Publish(ctx, typingChannel(roomID), data).Err()
	return nil
}

// Snapshot returns every currently-active typing record in the room.
func (s *Store) Snapshot(ctx context.Context, roomID string) ([]Signal, error) {
	pattern := typingKey(roomID, "*")
	var signals []Signal
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("typing scan: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					continue // expired between scan and get
				}
				return nil, fmt.Errorf("typing get: %w", err)
			}
			var sig Signal
			if err := json.Unmarshal(data, &sig); err != nil {
				continue
			}
			signals = append(signals, sig)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return signals, nil
}

// Subscribe delivers typing signals for the room until ctx is canceled.
// The returned cancel func releases the underlying pub/sub connection.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan Signal, func()) {
	sub := s.client.Subscribe(ctx, typingChannel(roomID))
	out := make(chan Signal, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var sig Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				continue
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}
