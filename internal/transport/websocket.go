package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/shared.frame/internal/monitoring"
	"github.com/banshee-data/shared.frame/internal/wire"
)

var logf = monitoring.Prefixed("Transport")

// WebSocketConfig configures a relay client.
type WebSocketConfig struct {
	// URL is the relay's websocket endpoint, e.g. ws://host:8090/ws.
	URL string
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
}

// DefaultWebSocketConfig returns defaults for a relay at url.
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// WebSocket is a Transport talking to the relay server over gorilla/websocket.
type WebSocket struct {
	config  WebSocketConfig
	dialer  *websocket.Dialer
	handler atomic.Pointer[Handler]

	// writeMu serialises writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	closed bool
	room   string
	peerID int

	awaiting atomic.Bool
	replies  chan wire.Frame
}

// NewWebSocket creates an unconnected relay client.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultWebSocketConfig("").HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebSocketConfig("").WriteTimeout
	}
	return &WebSocket{
		config: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		replies: make(chan wire.Frame, 1),
	}
}

// Connect dials the relay and starts the read loop.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.conn != nil {
		return nil
	}

	conn, _, err := w.dialer.DialContext(ctx, w.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", w.config.URL, err)
	}
	w.conn = conn
	w.done = make(chan struct{})
	go w.readLoop(conn, w.done)
	logf("connected to relay %s", w.config.URL)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
			w.room, w.peerID = "", 0
		}
		w.mu.Unlock()
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				logf("relay read failed: %v", err)
			}
			return
		}
		frame, err := wire.UnmarshalFrame(data)
		if err != nil {
			logf("dropping undecodable relay frame: %v", err)
			continue
		}
		switch frame.Kind {
		case wire.FrameDeliver:
			if h := w.handler.Load(); h != nil && *h != nil {
				(*h)(wire.Envelope{Type: frame.MessageType, Sender: frame.Sender, Payload: frame.Payload})
			}
		case wire.FrameJoined:
			w.mu.Lock()
			w.room, w.peerID = frame.Room, frame.PeerID
			w.mu.Unlock()
			w.reply(frame)
		case wire.FrameError:
			if !w.reply(frame) {
				logf("relay error: %s", frame.Error)
			}
		case wire.FrameLeft:
			// Leaves are not acknowledged to callers.
		default:
			logf("ignoring unexpected %s frame from relay", frame.Kind)
		}
	}
}

// reply hands a frame to a waiting join. It reports whether anyone was waiting.
func (w *WebSocket) reply(f wire.Frame) bool {
	if !w.awaiting.Load() {
		return false
	}
	select {
	case w.replies <- f:
		return true
	default:
		return false
	}
}

func (w *WebSocket) write(conn *websocket.Conn, f wire.Frame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, f.Marshal())
}

func (w *WebSocket) current() (*websocket.Conn, chan struct{}, string, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn, w.done, w.room, w.peerID
}

// JoinOrCreateRoom sends a join request and waits for the relay's answer.
func (w *WebSocket) JoinOrCreateRoom(ctx context.Context, name string, maxPeers int) error {
	conn, done, room, _ := w.current()
	if conn == nil {
		return ErrNotConnected
	}
	if room != "" {
		return fmt.Errorf("join %q: %w %q", name, ErrAlreadyInRoom, room)
	}

	if !w.awaiting.CompareAndSwap(false, true) {
		return fmt.Errorf("join %q: another join is in progress", name)
	}
	defer w.awaiting.Store(false)
	// Drop a reply left over from an abandoned join.
	select {
	case <-w.replies:
	default:
	}

	if err := w.write(conn, wire.Frame{Kind: wire.FrameJoin, Room: name, MaxPeers: maxPeers}); err != nil {
		return fmt.Errorf("join %q: %w", name, err)
	}

	select {
	case f := <-w.replies:
		if f.Kind == wire.FrameError {
			return fmt.Errorf("join %q: %w: %s", name, ErrJoinRejected, f.Error)
		}
		logf("joined room %q as peer %d", f.Room, f.PeerID)
		return nil
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LeaveRoom asks the relay to drop the membership and clears it locally
// without waiting for the acknowledgement.
func (w *WebSocket) LeaveRoom() error {
	w.mu.Lock()
	conn, room := w.conn, w.room
	if conn == nil {
		w.mu.Unlock()
		return ErrNotConnected
	}
	if room == "" {
		w.mu.Unlock()
		return ErrNotInRoom
	}
	w.room, w.peerID = "", 0
	w.mu.Unlock()

	if err := w.write(conn, wire.Frame{Kind: wire.FrameLeave}); err != nil {
		return fmt.Errorf("leave %q: %w", room, err)
	}
	return nil
}

// InRoom reports whether the client is a room member.
func (w *WebSocket) InRoom() bool {
	_, _, room, _ := w.current()
	return room != ""
}

// LocalPeerID returns the id the relay assigned in the current room, or 0.
func (w *WebSocket) LocalPeerID() int {
	_, _, _, id := w.current()
	return id
}

// Broadcast writes a broadcast frame. Delivery, including the retained echo
// to the sender, is asynchronous.
func (w *WebSocket) Broadcast(msgType wire.MessageType, payload []byte, mode wire.DeliveryMode) error {
	conn, _, room, _ := w.current()
	if conn == nil {
		return ErrNotConnected
	}
	if room == "" {
		return ErrNotInRoom
	}
	f := wire.Frame{Kind: wire.FrameBroadcast, Mode: mode, MessageType: msgType, Payload: payload}
	if err := w.write(conn, f); err != nil {
		return fmt.Errorf("broadcast %s: %w", msgType, err)
	}
	return nil
}

// OnMessage installs the delivery handler. It runs on the read goroutine.
func (w *WebSocket) OnMessage(h Handler) {
	w.handler.Store(&h)
}

// Close sends a close frame, closes the socket and waits for the read loop
// to exit. Close is idempotent.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn, done := w.conn, w.done
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	w.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.writeMu.Unlock()

	err := conn.Close()
	<-done
	logf("disconnected from relay %s", w.config.URL)
	return err
}
