// Package transport defines the room-based messaging boundary the alignment
// hub talks to, with an in-process implementation for tests and single-host
// sessions and a websocket client of the relay.
package transport

import (
	"context"
	"errors"

	"github.com/banshee-data/shared.frame/internal/wire"
)

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("transport not connected")
	// ErrNotInRoom is returned when broadcasting or leaving outside a room.
	ErrNotInRoom = errors.New("not in a room")
	// ErrAlreadyInRoom is returned by a join while a room is already joined.
	ErrAlreadyInRoom = errors.New("already in a room")
	// ErrJoinRejected wraps a relay's refusal of a join request.
	ErrJoinRejected = errors.New("join rejected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)

// Message is one delivered room message.
type Message = wire.Envelope

// Handler receives room messages. It may be called on any goroutine,
// including while the transport holds internal locks, so it must not block
// and must not call back into the transport.
type Handler func(Message)

// Transport is a room-based broadcast channel with stable integer peer ids.
type Transport interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error
	// JoinOrCreateRoom joins name, creating it with maxPeers capacity
	// (0 = unlimited) if needed. Retained history is delivered to the
	// handler after the join succeeds.
	JoinOrCreateRoom(ctx context.Context, name string, maxPeers int) error
	// LeaveRoom leaves the current room.
	LeaveRoom() error
	// InRoom reports whether the local client is a room member.
	InRoom() bool
	// LocalPeerID returns the local id in the current room, or 0.
	LocalPeerID() int
	// Broadcast sends payload to the room with the given delivery mode.
	Broadcast(msgType wire.MessageType, payload []byte, mode wire.DeliveryMode) error
	// OnMessage installs the handler for delivered messages, replacing any
	// previous one. A nil handler discards messages.
	OnMessage(h Handler)
	// Close leaves any room and releases the connection.
	Close() error
}
