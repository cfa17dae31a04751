// Command egress runs the tunnel's worker side: it accepts authenticated
// WebSocket upgrades and relays bytes to dialed destination sockets. See
// SPEC_FULL.md §4.2.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayanrajpoot10/echtun/internal/config"
	"github.com/ayanrajpoot10/echtun/internal/egress"
)

func main() {
	cfg, err := config.LoadEgressEnv()
	if err != nil {
		log.Fatalf("egress: config: %v", err)
	}

	// The path-derived fallback override (§6) is resolved per connection,
	// from each WebSocket upgrade request's URL path, not at startup -- see
	// egress.Server.handleUpgrade.
	srv := egress.NewServer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("egress: shutting down...")
		cancel()
	}()

	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		log.Fatalf("egress: %v", err)
	}
}
