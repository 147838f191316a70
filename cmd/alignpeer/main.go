// Command alignpeer is a headless alignment client. It joins a relay room,
// announces its reference point and logs the alignment it reaches with the
// other peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/shared.frame/internal/alignment"
	"github.com/banshee-data/shared.frame/internal/config"
	"github.com/banshee-data/shared.frame/internal/eventbus"
	"github.com/banshee-data/shared.frame/internal/hub"
	"github.com/banshee-data/shared.frame/internal/timeutil"
	"github.com/banshee-data/shared.frame/internal/transport"
	"github.com/banshee-data/shared.frame/internal/version"
)

var (
	configPath  = flag.String("config", "", "Alignment config JSON (defaults apply when empty)")
	relayURL    = flag.String("relay", "", "Relay websocket URL (overrides config)")
	room        = flag.String("room", "", "Room to join (overrides config)")
	statusEvery = flag.Duration("status-interval", 5*time.Second, "How often to log alignment status")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.AlignmentConfig, error) {
	if path == "" {
		return config.EmptyAlignmentConfig(), nil
	}
	return config.LoadAlignmentConfig(path)
}

// resolveConfig loads the config file and applies the command-line
// overrides on top of it.
func resolveConfig(path, relay, room string, statusInterval time.Duration) (*config.AlignmentConfig, error) {
	if statusInterval <= 0 {
		return nil, fmt.Errorf("status-interval must be positive, got %s", statusInterval)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(relay, room); err != nil {
		return nil, fmt.Errorf("invalid overrides: %w", err)
	}
	return cfg, nil
}

// peer is one client's hub and manager, stepped from a single loop.
type peer struct {
	hub     *hub.Hub
	manager *alignment.Manager
	last    alignment.State
}

func newPeer(reg *hub.Registry, cfg *config.AlignmentConfig, t transport.Transport, clock timeutil.Clock) (*peer, error) {
	mcfg, err := alignment.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	h := reg.Open(t, bus, hub.DefaultOptions())
	m := alignment.New(mcfg, h, bus, alignment.ReferenceFrom(cfg), clock)
	return &peer{hub: h, manager: m, last: m.State()}, nil
}

func (p *peer) join(ctx context.Context, room string, maxPeers int) error {
	if err := p.hub.Connect(ctx); err != nil {
		return err
	}
	return p.hub.JoinRoom(ctx, room, maxPeers)
}

// step drains inbound messages, runs scheduled work and reports whether the
// alignment state changed.
func (p *peer) step() bool {
	p.hub.Tick()
	p.manager.Tick()
	state := p.manager.State()
	changed := state != p.last
	p.last = state
	return changed
}

func (p *peer) status() string {
	peers := p.manager.Peers()
	s := fmt.Sprintf("peer %d: %s (%s mode), %d peer alignments", p.hub.LocalPeerID(), p.manager.State(), p.manager.Mode(), len(peers))
	for _, rec := range peers {
		s += fmt.Sprintf("\n  peer %d: offset %v, rotation offset %v", rec.PeerID, rec.PositionOffset, rec.RotationOffset)
	}
	return s
}

func (p *peer) close() {
	p.manager.Close()
	if err := p.hub.Close(); err != nil {
		log.Printf("hub close: %v", err)
	}
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := resolveConfig(*configPath, *relayURL, *room, *statusEvery)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	clock := timeutil.RealClock{}
	p, err := newPeer(hub.DefaultRegistry, cfg, transport.NewWebSocket(transport.DefaultWebSocketConfig(cfg.GetRelayURL())), clock)
	if err != nil {
		log.Fatalf("Invalid alignment config: %v", err)
	}
	defer p.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	joinCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
	err = p.join(joinCtx, cfg.GetRoom(), cfg.GetMaxPeers())
	cancel()
	if err != nil {
		log.Printf("Failed to join room %q on %s: %v", cfg.GetRoom(), cfg.GetRelayURL(), err)
		return
	}

	ticker := clock.NewTicker(cfg.GetTickInterval())
	defer ticker.Stop()
	status := clock.NewTicker(*statusEvery)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down: %s", p.status())
			return
		case <-ticker.C():
			if p.step() {
				log.Print(p.status())
			}
			if !p.hub.IsReady() {
				log.Printf("lost relay connection, exiting")
				return
			}
		case <-status.C():
			log.Print(p.status())
		}
	}
}
