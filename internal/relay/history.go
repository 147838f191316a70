package relay

import (
	"sync"

	"github.com/banshee-data/shared.frame/internal/wire"
)

// HistoryStore keeps the retained messages of each live room session.
//
// Every retained message is a full snapshot, so a store keeps only the
// latest message per (room, sender, type); List returns them in the order
// they were last written.
type HistoryStore interface {
	// Append records env as the latest retained message from env.Sender.
	Append(room string, env wire.Envelope) error
	// List returns the retained messages of room, oldest first.
	List(room string) ([]wire.Envelope, error)
	// PurgeSender drops every retained message sent by peer in room.
	PurgeSender(room string, peer int) error
	// Purge drops the whole history of room.
	Purge(room string) error
	// Close releases any resources held by the store.
	Close() error
}

type historyKey struct {
	sender  int
	msgType wire.MessageType
}

// MemoryHistory is a HistoryStore held in process memory.
type MemoryHistory struct {
	mu    sync.Mutex
	rooms map[string][]wire.Envelope
}

// NewMemoryHistory creates an empty in-memory store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{rooms: make(map[string][]wire.Envelope)}
}

// Append implements HistoryStore.
func (h *MemoryHistory) Append(room string, env wire.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := historyKey{env.Sender, env.Type}
	kept := h.rooms[room][:0:0]
	for _, e := range h.rooms[room] {
		if (historyKey{e.Sender, e.Type}) != key {
			kept = append(kept, e)
		}
	}
	env.Payload = append([]byte(nil), env.Payload...)
	h.rooms[room] = append(kept, env)
	return nil
}

// List implements HistoryStore.
func (h *MemoryHistory) List(room string) ([]wire.Envelope, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]wire.Envelope, len(h.rooms[room]))
	copy(out, h.rooms[room])
	return out, nil
}

// PurgeSender implements HistoryStore.
func (h *MemoryHistory) PurgeSender(room string, peer int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.rooms[room][:0:0]
	for _, e := range h.rooms[room] {
		if e.Sender != peer {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(h.rooms, room)
		return nil
	}
	h.rooms[room] = kept
	return nil
}

// Purge implements HistoryStore.
func (h *MemoryHistory) Purge(room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
	return nil
}

// Close implements HistoryStore.
func (h *MemoryHistory) Close() error { return nil }
