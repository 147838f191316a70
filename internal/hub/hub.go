// Package hub is the alignment client's single point of contact with the
// room transport. It encodes outbound alignment broadcasts and turns inbound
// transport messages into typed events on an eventbus.Bus.
//
// Transport callbacks may arrive on any goroutine. They are queued and only
// published when the owner calls Tick, so subscribers always run on the
// owner's loop.
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/shared.frame/internal/alignmath"
	"github.com/banshee-data/shared.frame/internal/eventbus"
	"github.com/banshee-data/shared.frame/internal/monitoring"
	"github.com/banshee-data/shared.frame/internal/transport"
	"github.com/banshee-data/shared.frame/internal/wire"
)

var logf = monitoring.Prefixed("Hub")

// Options configures a Hub.
type Options struct {
	// InboxCapacity bounds messages queued between ticks. Messages arriving
	// while the inbox is full are dropped and counted.
	InboxCapacity int
}

// DefaultOptions returns default hub options.
func DefaultOptions() Options {
	return Options{InboxCapacity: 1024}
}

// Stats holds hub counters.
type Stats struct {
	Sent            uint64 `json:"sent"`
	DroppedNotReady uint64 `json:"dropped_not_ready"`
	SendErrors      uint64 `json:"send_errors"`
	Received        uint64 `json:"received"`
	InboxDropped    uint64 `json:"inbox_dropped"`
	DecodeErrors    uint64 `json:"decode_errors"`
}

// Hub adapts a transport.Transport to the alignment protocol.
type Hub struct {
	registry  *Registry
	transport transport.Transport
	bus       *eventbus.Bus
	opts      Options

	mu     sync.Mutex
	inbox  []transport.Message
	room   string
	closed bool

	sent            atomic.Uint64
	droppedNotReady atomic.Uint64
	sendErrors      atomic.Uint64
	received        atomic.Uint64
	inboxDropped    atomic.Uint64
	decodeErrors    atomic.Uint64
}

func newHub(r *Registry, t transport.Transport, bus *eventbus.Bus, opts Options) *Hub {
	if opts.InboxCapacity <= 0 {
		opts.InboxCapacity = DefaultOptions().InboxCapacity
	}
	h := &Hub{
		registry:  r,
		transport: t,
		bus:       bus,
		opts:      opts,
	}
	t.OnMessage(h.enqueue)
	return h
}

// enqueue is the transport handler. It only appends; decoding and
// publishing happen in Tick.
func (h *Hub) enqueue(msg transport.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if len(h.inbox) >= h.opts.InboxCapacity {
		n := h.inboxDropped.Add(1)
		logf("inbox full (%d), dropped %s from peer %d (total dropped: %d)", h.opts.InboxCapacity, msg.Type, msg.Sender, n)
		return
	}
	h.received.Add(1)
	h.inbox = append(h.inbox, msg)
}

// Connect connects the underlying transport.
func (h *Hub) Connect(ctx context.Context) error {
	if h.isClosed() {
		return transport.ErrClosed
	}
	if err := h.transport.Connect(ctx); err != nil {
		return fmt.Errorf("hub connect: %w", err)
	}
	return nil
}

// JoinRoom joins or creates a room and publishes RoomJoined.
func (h *Hub) JoinRoom(ctx context.Context, name string, maxPeers int) error {
	if h.isClosed() {
		return transport.ErrClosed
	}
	if err := h.transport.JoinOrCreateRoom(ctx, name, maxPeers); err != nil {
		return fmt.Errorf("hub join: %w", err)
	}
	h.mu.Lock()
	h.room = name
	h.mu.Unlock()

	id := h.transport.LocalPeerID()
	logf("joined room %q as peer %d", name, id)
	h.bus.RoomJoined.Publish(eventbus.RoomJoined{Room: name, LocalPeerID: id})
	return nil
}

// LeaveRoom leaves the current room, discards undelivered messages from it
// and publishes RoomLeft.
func (h *Hub) LeaveRoom() error {
	h.mu.Lock()
	room := h.room
	h.room = ""
	h.inbox = nil
	h.mu.Unlock()

	if err := h.transport.LeaveRoom(); err != nil {
		return fmt.Errorf("hub leave: %w", err)
	}
	logf("left room %q", room)
	h.bus.RoomLeft.Publish(eventbus.RoomLeft{Room: room})
	return nil
}

// IsReady reports whether the hub is open and the local client is a room
// member. Broadcasts are dropped while it is false.
func (h *Hub) IsReady() bool {
	return !h.isClosed() && h.transport.InRoom()
}

// LocalPeerID returns the local peer id in the current room, or 0.
func (h *Hub) LocalPeerID() int {
	return h.transport.LocalPeerID()
}

// BroadcastSpatialReference announces the local reference point to the
// room, retained for peers that join later. It is dropped with a warning
// when the hub is not ready.
func (h *Hub) BroadcastSpatialReference(origin alignmath.Vec3, rotation alignmath.Quat) {
	if !h.IsReady() {
		n := h.droppedNotReady.Add(1)
		logf("WARNING: not in a room, dropping spatial reference broadcast (total dropped: %d)", n)
		return
	}
	msg := wire.SpatialReference{
		SenderID:       h.transport.LocalPeerID(),
		OriginPosition: origin,
		OriginRotation: rotation,
	}
	h.send(wire.MessageSpatialReference, msg.Marshal(), wire.DeliverRetained)
}

// BroadcastMeshAlignment sends a live mesh-alignment update to the peers
// currently in the room. It is dropped with a warning when the hub is not
// ready.
func (h *Hub) BroadcastMeshAlignment(position alignmath.Vec3, rotation alignmath.Quat, scale float64) {
	if !h.IsReady() {
		n := h.droppedNotReady.Add(1)
		logf("WARNING: not in a room, dropping mesh alignment broadcast (total dropped: %d)", n)
		return
	}
	msg := wire.MeshAlignment{Position: position, Rotation: rotation, Scale: scale}
	h.send(wire.MessageMeshAlignment, msg.Marshal(), wire.DeliverLive)
}

func (h *Hub) send(msgType wire.MessageType, payload []byte, mode wire.DeliveryMode) {
	if err := h.transport.Broadcast(msgType, payload, mode); err != nil {
		h.sendErrors.Add(1)
		logf("failed to broadcast %s (%s): %v", msgType, mode, err)
		return
	}
	h.sent.Add(1)
}

// Tick decodes queued messages and publishes them on the bus, in arrival
// order, on the calling goroutine. It returns the number of events published.
func (h *Hub) Tick() int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	batch := h.inbox
	h.inbox = nil
	h.mu.Unlock()

	published := 0
	for _, msg := range batch {
		if h.dispatch(msg) {
			published++
		}
	}
	return published
}

func (h *Hub) dispatch(msg transport.Message) bool {
	switch msg.Type {
	case wire.MessageSpatialReference:
		ref, err := wire.UnmarshalSpatialReference(msg.Payload)
		if err != nil {
			h.decodeErrors.Add(1)
			logf("dropping spatial reference from peer %d: %v", msg.Sender, err)
			return false
		}
		// The transport's sender id is the one peers are keyed by.
		if ref.SenderID != msg.Sender {
			logf("spatial reference from peer %d claims sender %d; using transport id", msg.Sender, ref.SenderID)
		}
		h.bus.SpatialAlignment.Publish(eventbus.SpatialAlignmentReceived{
			PeerID:   msg.Sender,
			Origin:   ref.OriginPosition,
			Rotation: ref.OriginRotation,
		})
		return true
	case wire.MessageMeshAlignment:
		mesh, err := wire.UnmarshalMeshAlignment(msg.Payload)
		if err != nil {
			h.decodeErrors.Add(1)
			logf("dropping mesh alignment from peer %d: %v", msg.Sender, err)
			return false
		}
		h.bus.MeshAlignment.Publish(eventbus.MeshAlignmentReceived{
			Position: mesh.Position,
			Rotation: mesh.Rotation,
			Scale:    mesh.Scale,
		})
		return true
	default:
		h.decodeErrors.Add(1)
		logf("dropping unknown %s from peer %d", msg.Type, msg.Sender)
		return false
	}
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Sent:            h.sent.Load(),
		DroppedNotReady: h.droppedNotReady.Load(),
		SendErrors:      h.sendErrors.Load(),
		Received:        h.received.Load(),
		InboxDropped:    h.inboxDropped.Load(),
		DecodeErrors:    h.decodeErrors.Load(),
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close leaves the room (publishing RoomLeft), closes the transport and
// releases the hub's registry slot. Close is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	room := h.room
	h.room = ""
	h.inbox = nil
	h.mu.Unlock()

	h.transport.OnMessage(nil)
	if room != "" {
		h.bus.RoomLeft.Publish(eventbus.RoomLeft{Room: room})
	}
	err := h.transport.Close()
	h.registry.release(h)
	logf("closed")
	return err
}
