package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/shared.frame/internal/config"
	"github.com/banshee-data/shared.frame/internal/hub"
	"github.com/banshee-data/shared.frame/internal/relay"
	"github.com/banshee-data/shared.frame/internal/timeutil"
	"github.com/banshee-data/shared.frame/internal/transport"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") error = %v", err)
	}
	if cfg.GetRoom() != "default" {
		t.Errorf("GetRoom() = %q, want default", cfg.GetRoom())
	}

	path := filepath.Join(t.TempDir(), "peer.json")
	if err := os.WriteFile(path, []byte(`{"room": "lab", "mode": "marker"}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(path) error = %v", err)
	}
	if cfg.GetRoom() != "lab" || cfg.GetMode() != config.ModeMarker {
		t.Errorf("loaded room %q mode %q", cfg.GetRoom(), cfg.GetMode())
	}
}

func TestResolveConfig(t *testing.T) {
	cfg, err := resolveConfig("", "ws://relay:9000/ws", "desk 4", time.Second)
	if err != nil {
		t.Fatalf("resolveConfig() error = %v", err)
	}
	if cfg.GetRoom() != "desk_4" {
		t.Errorf("GetRoom() = %q, want desk_4", cfg.GetRoom())
	}
	if cfg.GetRelayURL() != "ws://relay:9000/ws" {
		t.Errorf("GetRelayURL() = %q", cfg.GetRelayURL())
	}

	path := filepath.Join(t.TempDir(), "peer.json")
	if err := os.WriteFile(path, []byte(`{"tick_interval": "0s"}`), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		path    string
		status  time.Duration
		wantErr string
	}{
		{"zero status interval", "", 0, "status-interval must be positive"},
		{"negative status interval", "", -time.Second, "status-interval must be positive"},
		{"zero tick interval", path, time.Second, "tick_interval must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveConfig(tt.path, "", "", tt.status)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("resolveConfig() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewPeer_BadMode(t *testing.T) {
	mode := "sideways"
	_, err := newPeer(&hub.Registry{}, &config.AlignmentConfig{Mode: &mode}, transport.NewLoopback(relay.NewRooms(nil)), timeutil.RealClock{})
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func mustPeer(t *testing.T, cfg *config.AlignmentConfig, rooms *relay.Rooms, clock timeutil.Clock) *peer {
	t.Helper()
	p, err := newPeer(&hub.Registry{}, cfg, transport.NewLoopback(rooms), clock)
	if err != nil {
		t.Fatalf("newPeer() error = %v", err)
	}
	t.Cleanup(p.close)
	return p
}

func TestPeer_TwoPeersAlign(t *testing.T) {
	rooms := relay.NewRooms(nil)
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	posB := [3]float64{1, 0, 0}
	a := mustPeer(t, config.EmptyAlignmentConfig(), rooms, clock)
	b := mustPeer(t, &config.AlignmentConfig{ReferencePosition: &posB}, rooms, clock)

	ctx := context.Background()
	for _, p := range []*peer{a, b} {
		if err := p.join(ctx, "lab", 4); err != nil {
			t.Fatalf("join: %v", err)
		}
		if !p.step() {
			t.Error("joining should move the peer to broadcasting")
		}
		if p.step() {
			t.Error("state should not change again before the grace period")
		}
	}

	clock.Advance(time.Second)
	a.step()
	if !b.step() {
		t.Error("b should report a state change after receiving a's reference")
	}
	if !a.step() {
		t.Error("a should report a state change after receiving b's reference")
	}

	if !a.manager.IsAligned() || !b.manager.IsAligned() {
		t.Fatalf("both peers should be aligned: a=%s b=%s", a.manager.State(), b.manager.State())
	}
	if s := b.status(); !strings.Contains(s, "aligned") || !strings.Contains(s, "1 peer alignments") {
		t.Errorf("status() = %q", s)
	}
}
