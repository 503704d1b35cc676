package main

import (
	"flag"
	"fmt"
	"os"

	"studychat/internal/app"
)

func main() {
	cfg, err := app.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	serverURL := flag.String("server", cfg.ServerURL, "WebSocket URL (e.g., ws://localhost:8080/ws)")
	userName := flag.String("user", cfg.UserName, "display name")
	redisAddr := flag.String("redis", cfg.RedisAddr, "redis address for the typing channel (optional)")
	flag.Parse()

	args := flag.Args()
	var roomID string
	if len(args) >= 1 {
		roomID = args[0]
	}

	cfg.ServerURL = *serverURL
	cfg.UserName = *userName
	cfg.RoomID = roomID
	cfg.RedisAddr = *redisAddr

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
