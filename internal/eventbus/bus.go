// Package eventbus is the in-process publish/subscribe channel shared by the
// alignment hub and its consumers. Delivery is synchronous: Publish returns
// after every current subscriber has run, on the publishing goroutine.
// Subscribers must not block.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/shared.frame/internal/alignmath"
)

// RoomJoined is published after the local client becomes a room member.
type RoomJoined struct {
	Room        string
	LocalPeerID int
}

// RoomLeft is published after the local client leaves its room.
type RoomLeft struct {
	Room string
}

// SpatialAlignmentReceived carries a peer's reference point, in the peer's frame.
type SpatialAlignmentReceived struct {
	PeerID   int
	Origin   alignmath.Vec3
	Rotation alignmath.Quat
}

// MeshAlignmentReceived carries a live mesh-alignment adjustment.
type MeshAlignmentReceived struct {
	Position alignmath.Vec3
	Rotation alignmath.Quat
	Scale    float64
}

// Topic is a single typed event stream.
type Topic[T any] struct {
	mu    sync.RWMutex
	subs  map[string]func(T)
	order []string
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[string]func(T))}
}

// Subscribe registers fn and returns the id used to unsubscribe it.
// Subscribers are called in subscription order.
func (t *Topic[T]) Subscribe(fn func(T)) string {
	id := uuid.New().String()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[id] = fn
	t.order = append(t.order, id)
	return id
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (t *Topic[T]) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[id]; !ok {
		return
	}
	delete(t.subs, id)
	for i, sid := range t.order {
		if sid == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// Publish delivers ev to every current subscriber and returns how many
// received it. Handlers run outside the topic lock, so they may subscribe
// or unsubscribe; such changes apply from the next Publish.
func (t *Topic[T]) Publish(ev T) int {
	t.mu.RLock()
	handlers := make([]func(T), 0, len(t.order))
	for _, id := range t.order {
		handlers = append(handlers, t.subs[id])
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return len(handlers)
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus groups the topics exchanged between the hub and the alignment manager.
type Bus struct {
	RoomJoined       *Topic[RoomJoined]
	RoomLeft         *Topic[RoomLeft]
	SpatialAlignment *Topic[SpatialAlignmentReceived]
	MeshAlignment    *Topic[MeshAlignmentReceived]
}

// New creates a bus with empty topics.
func New() *Bus {
	return &Bus{
		RoomJoined:       NewTopic[RoomJoined](),
		RoomLeft:         NewTopic[RoomLeft](),
		SpatialAlignment: NewTopic[SpatialAlignmentReceived](),
		MeshAlignment:    NewTopic[MeshAlignmentReceived](),
	}
}
