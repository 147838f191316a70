package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/shared.frame/internal/relay"
	"github.com/banshee-data/shared.frame/internal/wire"
)

// Loopback is an in-process Transport over a shared relay.Rooms table.
// Several Loopbacks on the same table behave like clients of one relay.
type Loopback struct {
	rooms   *relay.Rooms
	handler atomic.Pointer[Handler]

	mu        sync.Mutex
	connected bool
	closed    bool
	room      string
	peerID    int
}

// NewLoopback creates a transport over rooms.
func NewLoopback(rooms *relay.Rooms) *Loopback {
	return &Loopback{rooms: rooms}
}

// Connect marks the transport connected. It never blocks.
func (l *Loopback) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.connected = true
	return nil
}

// JoinOrCreateRoom joins name on the shared room table.
func (l *Loopback) JoinOrCreateRoom(ctx context.Context, name string, maxPeers int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.closed:
		return ErrClosed
	case !l.connected:
		return ErrNotConnected
	case l.room != "":
		return fmt.Errorf("join %q: %w %q", name, ErrAlreadyInRoom, l.room)
	}

	id, err := l.rooms.Join(name, maxPeers, l.deliver)
	if err != nil {
		return fmt.Errorf("join %q: %w", name, err)
	}
	l.room, l.peerID = name, id
	return nil
}

func (l *Loopback) deliver(env wire.Envelope) {
	if h := l.handler.Load(); h != nil && *h != nil {
		(*h)(env)
	}
}

// LeaveRoom leaves the current room.
func (l *Loopback) LeaveRoom() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaveLocked()
}

func (l *Loopback) leaveLocked() error {
	if l.room == "" {
		return ErrNotInRoom
	}
	room, id := l.room, l.peerID
	l.room, l.peerID = "", 0
	if err := l.rooms.Leave(room, id); err != nil {
		return fmt.Errorf("leave %q: %w", room, err)
	}
	return nil
}

// InRoom reports whether the transport is a room member.
func (l *Loopback) InRoom() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.room != ""
}

// LocalPeerID returns the peer id in the current room, or 0.
func (l *Loopback) LocalPeerID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peerID
}

// Broadcast sends payload to the current room. Deliveries, including the
// sender's own copy of a retained message, happen before Broadcast returns.
func (l *Loopback) Broadcast(msgType wire.MessageType, payload []byte, mode wire.DeliveryMode) error {
	l.mu.Lock()
	room, id := l.room, l.peerID
	l.mu.Unlock()
	if room == "" {
		return ErrNotInRoom
	}
	return l.rooms.Broadcast(room, id, msgType, payload, mode)
}

// OnMessage installs the delivery handler.
func (l *Loopback) OnMessage(h Handler) {
	l.handler.Store(&h)
}

// Close leaves the current room, if any. Close is idempotent.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.connected = false
	if l.room != "" {
		return l.leaveLocked()
	}
	return nil
}
