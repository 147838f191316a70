// Command relay runs the room relay that alignment clients connect to over
// websockets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/shared.frame/internal/config"
	"github.com/banshee-data/shared.frame/internal/relay"
	"github.com/banshee-data/shared.frame/internal/version"
)

// bindFlags registers flags that override the environment configuration.
func bindFlags(fs *flag.FlagSet, cfg *config.RelayConfig) *bool {
	fs.StringVar(&cfg.Addr, "listen", cfg.Addr, "Listen address")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite file for retained history (empty keeps it in memory)")
	fs.IntVar(&cfg.DefaultMaxPeers, "max-peers", cfg.DefaultMaxPeers, "Room capacity when a join does not specify one (0 = unlimited)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-frame websocket write timeout")
	fs.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "Outbound frames buffered per client before it is disconnected")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Serve /debug/ admin routes")
	return fs.Bool("version", false, "Print version and exit")
}

func openHistory(path string) (relay.HistoryStore, error) {
	if path == "" {
		return relay.NewMemoryHistory(), nil
	}
	h, err := relay.OpenSQLiteHistory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return h, nil
}

func newMux(srv *relay.Server, debug bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	if debug {
		srv.AttachAdminRoutes(mux)
	}
	return mux
}

func main() {
	cfg, err := config.LoadRelayConfig()
	if err != nil {
		log.Fatalf("Failed to load relay config: %v", err)
	}
	showVersion := bindFlags(flag.CommandLine, &cfg)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid relay config: %v", err)
	}

	history, err := openHistory(cfg.HistoryDB)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer history.Close()

	srv := relay.NewServer(relay.NewRooms(history), relay.ServerConfig{
		DefaultMaxPeers: cfg.DefaultMaxPeers,
		WriteTimeout:    cfg.WriteTimeout,
		SendQueue:       cfg.SendQueue,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(srv, cfg.Debug),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("relay %s listening on %s", version.String(), cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	// Websocket connections are hijacked, so Shutdown does not wait for them.
	srv.Close()

	stats := srv.Stats()
	log.Printf("Graceful shutdown complete (%d frames relayed, %d dropped)", stats.Frames, stats.Dropped)
}
