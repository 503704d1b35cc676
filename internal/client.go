package internal

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/redis/go-redis/v9"

	"studychat/internal/typing"
)

// RunClient launches the bubbletea program with the chat model. redisAddr is
// optional; when set and reachable it enables the keyspace typing channel on
// top of the relay broadcast.
func RunClient(serverURL, roomID, userName, redisAddr string) error {
	var typingStore *typing.Store
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			typingStore = typing.NewStore(client)
		} else {
			// typing still flows through the relay, so a missing redis only
			// costs the redundant channel
			_ = client.Close()
		}
	}
	program := tea.NewProgram(NewTUIModel(serverURL, roomID, userName, typingStore))
	_, err := program.Run()
	return err
}
