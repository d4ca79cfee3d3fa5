package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/guildgraph/guildgraph-backend/internal/app"
	"github.com/guildgraph/guildgraph-backend/internal/feed"
)

func main() {
	// The chat platform adapter plugs in here. Without one the service
	// runs against whatever the store already holds and serves reads.
	a, err := app.New(feed.Offline())
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		a.Log.Info("Shutting down...")
		a.Close()
		os.Exit(0)
	}()

	a.Log.Info("Server listening", "addr", a.Cfg.HTTPAddr)
	if err := a.Run(); err != nil {
		a.Log.Warn("Server failed", "error", err)
	}
}
