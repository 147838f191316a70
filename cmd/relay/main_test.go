package main

import (
	"flag"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/shared.frame/internal/config"
	"github.com/banshee-data/shared.frame/internal/relay"
)

func TestBindFlags_OverridesEnvironment(t *testing.T) {
	cfg := config.RelayConfig{Addr: ":8090", DefaultMaxPeers: 8, WriteTimeout: 5 * time.Second, SendQueue: 256, MaxMessageBytes: 1024}
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	showVersion := bindFlags(fs, &cfg)

	if err := fs.Parse([]string{"-listen", ":9000", "-max-peers", "2", "-debug"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Addr)
	}
	if cfg.DefaultMaxPeers != 2 {
		t.Errorf("DefaultMaxPeers = %d, want 2", cfg.DefaultMaxPeers)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want env value 5s", cfg.WriteTimeout)
	}
	if *showVersion {
		t.Error("version flag should default to false")
	}
}

func TestOpenHistory(t *testing.T) {
	mem, err := openHistory("")
	if err != nil {
		t.Fatalf("openHistory(\"\") error = %v", err)
	}
	if _, ok := mem.(*relay.MemoryHistory); !ok {
		t.Errorf("openHistory(\"\") = %T, want *relay.MemoryHistory", mem)
	}

	db, err := openHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("openHistory(path) error = %v", err)
	}
	defer db.Close()
	if _, ok := db.(*relay.SQLiteHistory); !ok {
		t.Errorf("openHistory(path) = %T, want *relay.SQLiteHistory", db)
	}
}

func TestNewMux_DebugRoutes(t *testing.T) {
	srv := relay.NewServer(relay.NewRooms(nil), relay.DefaultServerConfig())

	for _, debug := range []bool{false, true} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
		req.RemoteAddr = "127.0.0.1:1234"
		newMux(srv, debug).ServeHTTP(rec, req)
		registered := rec.Code != http.StatusNotFound
		if registered != debug {
			t.Errorf("debug=%v: /debug/stats status = %d", debug, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	newMux(srv, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
}
