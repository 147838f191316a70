package relay

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/shared.frame/internal/httputil"
	"github.com/banshee-data/shared.frame/internal/version"
	"github.com/banshee-data/shared.frame/internal/wire"
)

// ServerConfig holds configuration for the websocket relay.
type ServerConfig struct {
	// DefaultMaxPeers applies when a join frame carries no capacity (0 = unlimited).
	DefaultMaxPeers int
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	// SendQueue is the per-connection outbound buffer. A client that falls
	// this far behind is disconnected and must rejoin.
	SendQueue int
	// MaxMessageBytes caps inbound frame size.
	MaxMessageBytes int64
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		DefaultMaxPeers: 8,
		WriteTimeout:    5 * time.Second,
		SendQueue:       256,
		MaxMessageBytes: 64 * 1024,
	}
}

// Server exposes Rooms to websocket clients.
type Server struct {
	rooms    *Rooms
	config   ServerConfig
	upgrader websocket.Upgrader

	conns     sync.Map // id -> *conn
	connCount atomic.Int32
	frames    atomic.Uint64
	dropped   atomic.Uint64
}

// NewServer creates a relay server over rooms.
func NewServer(rooms *Rooms, cfg ServerConfig) *Server {
	def := DefaultServerConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	return &Server{
		rooms:  rooms,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are headsets and desktop apps, not browsers on other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServerStats contains relay statistics.
type ServerStats struct {
	Connections int32  `json:"connections"`
	Frames      uint64 `json:"frames"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns current relay statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Connections: s.connCount.Load(),
		Frames:      s.frames.Load(),
		Dropped:     s.dropped.Load(),
	}
}

// Handler returns the relay's public routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.Version})
	})
	mux.HandleFunc("/api/rooms", s.handleRooms)
	return mux
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"rooms": s.rooms.Summaries(),
		"stats": s.Stats(),
	})
}

// AttachAdminRoutes attaches debugging endpoints to mux under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.Version)
	debug.KV("Git SHA", version.GitSHA)
	debug.HandleFunc("rooms", "live rooms, members and retained history", s.handleRooms)
	debug.HandleSilentFunc("stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})
}

// Close disconnects every client. Their rooms are left as each read loop
// exits; ServeHTTP calls in flight return shortly after.
func (s *Server) Close() {
	s.conns.Range(func(_, v any) bool {
		v.(*conn).close()
		return true
	})
}

// ServeHTTP upgrades the request and serves one relay client until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &conn{
		id:     uuid.New().String(),
		server: s,
		ws:     ws,
		send:   make(chan []byte, s.config.SendQueue),
		done:   make(chan struct{}),
	}
	s.conns.Store(c.id, c)
	s.connCount.Add(1)
	logf("client %s connected from %s (total: %d)", c.id, r.RemoteAddr, s.connCount.Load())

	go c.writeLoop()
	c.readLoop()

	c.close()
	c.leave()
	s.conns.Delete(c.id)
	s.connCount.Add(-1)
	logf("client %s disconnected (remaining: %d)", c.id, s.connCount.Load())
}

// conn is one websocket client. readLoop runs on the ServeHTTP goroutine and
// owns room/peerID; writeLoop owns the socket's write side.
type conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	room   string
	peerID int
}

func (c *conn) membership() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.peerID
}

func (c *conn) setMembership(room string, peerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room, c.peerID = room, peerID
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// enqueue queues a frame without blocking. A full queue disconnects the
// client; it catches up from retained history when it rejoins.
func (c *conn) enqueue(f wire.Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f.Marshal():
	default:
		dropped := c.server.dropped.Add(1)
		logf("DROPPED %s frame for client %s (total dropped: %d), send queue full; disconnecting", f.Kind, c.id, dropped)
		c.close()
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
				c.close()
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logf("write to client %s failed: %v", c.id, err)
				c.close()
				return
			}
		}
	}
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(c.server.config.MaxMessageBytes)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				logf("read from client %s: %v", c.id, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			c.enqueue(wire.Frame{Kind: wire.FrameError, Error: "binary frames only"})
			continue
		}
		frame, err := wire.UnmarshalFrame(data)
		if err != nil {
			c.enqueue(wire.Frame{Kind: wire.FrameError, Error: err.Error()})
			continue
		}
		c.server.frames.Add(1)
		c.handle(frame)
	}
}

func (c *conn) handle(f wire.Frame) {
	switch f.Kind {
	case wire.FrameJoin:
		c.join(f)
	case wire.FrameLeave:
		if room, _ := c.membership(); room == "" {
			c.enqueue(wire.Frame{Kind: wire.FrameError, Error: "not in a room"})
			return
		}
		room := c.leave()
		c.enqueue(wire.Frame{Kind: wire.FrameLeft, Room: room})
	case wire.FrameBroadcast:
		room, peerID := c.membership()
		if room == "" {
			c.enqueue(wire.Frame{Kind: wire.FrameError, Error: "not in a room"})
			return
		}
		if err := c.server.rooms.Broadcast(room, peerID, f.MessageType, f.Payload, f.Mode); err != nil {
			c.enqueue(wire.Frame{Kind: wire.FrameError, Error: err.Error()})
		}
	default:
		c.enqueue(wire.Frame{Kind: wire.FrameError, Error: fmt.Sprintf("unexpected %s frame", f.Kind)})
	}
}

func (c *conn) join(f wire.Frame) {
	if room, _ := c.membership(); room != "" {
		c.enqueue(wire.Frame{Kind: wire.FrameError, Room: f.Room, Error: fmt.Sprintf("already in room %q", room)})
		return
	}
	maxPeers := f.MaxPeers
	if maxPeers == 0 {
		maxPeers = c.server.config.DefaultMaxPeers
	}

	// The joined frame must precede any replayed history, and deliveries can
	// start as soon as the member is registered, so both go through a gate
	// that releases once the peer id is known.
	var (
		gateMu  sync.Mutex
		peerID  int
		pending []wire.Envelope
		open    bool
	)
	deliver := func(env wire.Envelope) {
		gateMu.Lock()
		defer gateMu.Unlock()
		if !open {
			pending = append(pending, env)
			return
		}
		c.enqueue(deliverFrame(f.Room, peerID, env))
	}

	id, err := c.server.rooms.Join(f.Room, maxPeers, deliver)
	if err != nil {
		c.enqueue(wire.Frame{Kind: wire.FrameError, Room: f.Room, Error: err.Error()})
		return
	}
	c.setMembership(f.Room, id)

	gateMu.Lock()
	peerID = id
	c.enqueue(wire.Frame{Kind: wire.FrameJoined, Room: f.Room, PeerID: id, MaxPeers: maxPeers})
	for _, env := range pending {
		c.enqueue(deliverFrame(f.Room, id, env))
	}
	pending = nil
	open = true
	gateMu.Unlock()
}

func deliverFrame(room string, peerID int, env wire.Envelope) wire.Frame {
	return wire.Frame{
		Kind:        wire.FrameDeliver,
		Room:        room,
		PeerID:      peerID,
		MessageType: env.Type,
		Sender:      env.Sender,
		Payload:     env.Payload,
	}
}

// leave drops the connection's room membership, if any, and returns the room name.
func (c *conn) leave() string {
	room, peerID := c.membership()
	if room == "" {
		return ""
	}
	if err := c.server.rooms.Leave(room, peerID); err != nil {
		logf("client %s leave %q: %v", c.id, room, err)
	}
	c.setMembership("", 0)
	return room
}
