package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studychat/internal/app"
)

func main() {
	cfg, err := app.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "server listen address")
	path := flag.String("path", cfg.Path, "websocket path")
	db := flag.String("db", cfg.DBPath, "sqlite database path")
	flag.Parse()

	cfg.Addr = *addr
	cfg.Path = app.NormalizeWSPath(*path)
	cfg.DBPath = *db

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("StudyChat server listening on %s%s", handle.Addr(), cfg.Path)
	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
