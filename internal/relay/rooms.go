// Package relay implements room membership and message fan-out for the
// alignment transport: peer id assignment, room capacity, retained history
// replay for late joiners, and a websocket server exposing it to remote
// clients.
package relay

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/shared.frame/internal/monitoring"
	"github.com/banshee-data/shared.frame/internal/security"
	"github.com/banshee-data/shared.frame/internal/wire"
)

var (
	// ErrRoomFull is returned when a join would exceed the room's capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrUnknownPeer is returned for operations by a peer that is not a member.
	ErrUnknownPeer = errors.New("peer is not a member of the room")
	// ErrInvalidRoom is returned for a room name that fails validation.
	ErrInvalidRoom = errors.New("invalid room name")
	// ErrInvalidMode is returned for an unknown delivery mode.
	ErrInvalidMode = errors.New("unknown delivery mode")
)

var logf = monitoring.Prefixed("Relay")

// Deliver receives messages addressed to one member. It is called with the
// room locked, so it must not block and must not call back into Rooms.
type Deliver func(wire.Envelope)

type room struct {
	mu       sync.Mutex
	name     string
	maxPeers int
	nextID   int
	members  map[int]Deliver
}

// RoomSummary describes a live room for status endpoints.
type RoomSummary struct {
	Name     string `json:"name"`
	MaxPeers int    `json:"max_peers"`
	Members  []int  `json:"members"`
	Retained int    `json:"retained"`
}

// Rooms is the table of live room sessions. A room is created by its first
// joiner and ends, with its retained history, when the last member leaves.
type Rooms struct {
	mu      sync.Mutex
	rooms   map[string]*room
	history HistoryStore
}

// NewRooms creates an empty room table using history for retained messages.
// A nil history uses a MemoryHistory. Rooms left in a persistent store by a
// previous process are purged, since their members are gone.
func NewRooms(history HistoryStore) *Rooms {
	if history == nil {
		history = NewMemoryHistory()
	}
	if lister, ok := history.(interface{ Rooms() ([]string, error) }); ok {
		stale, err := lister.Rooms()
		if err != nil {
			logf("failed to list stale history: %v", err)
		}
		for _, name := range stale {
			if err := history.Purge(name); err != nil {
				logf("failed to purge stale room %q: %v", name, err)
			}
		}
	}
	return &Rooms{
		rooms:   make(map[string]*room),
		history: history,
	}
}

// lockRoom returns name's room with its lock held, creating it when create
// is set. The table lock is released before returning.
func (r *Rooms) lockRoom(name string, create bool, maxPeers int) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		if !create {
			return nil
		}
		rm = &room{
			name:     name,
			maxPeers: maxPeers,
			members:  make(map[int]Deliver),
		}
		r.rooms[name] = rm
		logf("room %q created (max peers %d)", name, maxPeers)
	}
	rm.mu.Lock()
	return rm
}

// Join adds a member to name, creating the room with maxPeers capacity if it
// does not exist (0 means unlimited; an existing room keeps its capacity).
// The member's retained history is replayed through deliver before Join
// returns. Peer ids start at 1 and are not reused within a room session.
func (r *Rooms) Join(name string, maxPeers int, deliver Deliver) (int, error) {
	if err := security.ValidateRoomName(name); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRoom, err)
	}
	rm := r.lockRoom(name, true, maxPeers)
	defer rm.mu.Unlock()

	if rm.maxPeers > 0 && len(rm.members) >= rm.maxPeers {
		return 0, fmt.Errorf("join %q: %w (%d/%d)", name, ErrRoomFull, len(rm.members), rm.maxPeers)
	}

	rm.nextID++
	peerID := rm.nextID
	rm.members[peerID] = deliver

	history, err := r.history.List(name)
	if err != nil {
		logf("failed to load history for %q: %v", name, err)
	}
	for _, env := range history {
		deliver(env)
	}
	logf("peer %d joined %q (%d members, %d retained replayed)", peerID, name, len(rm.members), len(history))
	return peerID, nil
}

// Leave removes a member. The member's retained messages are dropped, and the
// room ends when its last member leaves.
func (r *Rooms) Leave(name string, peerID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		return fmt.Errorf("leave %q: %w", name, ErrUnknownPeer)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[peerID]; !ok {
		return fmt.Errorf("leave %q: %w", name, ErrUnknownPeer)
	}
	delete(rm.members, peerID)

	if len(rm.members) == 0 {
		delete(r.rooms, name)
		if err := r.history.Purge(name); err != nil {
			logf("failed to purge history for %q: %v", name, err)
		}
		logf("peer %d left %q; room closed", peerID, name)
		return nil
	}
	if err := r.history.PurgeSender(name, peerID); err != nil {
		logf("failed to purge history of peer %d in %q: %v", peerID, name, err)
	}
	logf("peer %d left %q (%d members)", peerID, name, len(rm.members))
	return nil
}

// Broadcast fans a message from sender out to the room. Retained messages go
// to every member including the sender and are stored for later joiners;
// live messages go to the other current members only.
func (r *Rooms) Broadcast(name string, sender int, msgType wire.MessageType, payload []byte, mode wire.DeliveryMode) error {
	if mode != wire.DeliverRetained && mode != wire.DeliverLive {
		return fmt.Errorf("broadcast %q: %w: %d", name, ErrInvalidMode, mode)
	}
	rm := r.lockRoom(name, false, 0)
	if rm == nil {
		return fmt.Errorf("broadcast %q: %w", name, ErrUnknownPeer)
	}
	defer rm.mu.Unlock()

	if _, ok := rm.members[sender]; !ok {
		return fmt.Errorf("broadcast %q: %w", name, ErrUnknownPeer)
	}

	env := wire.Envelope{Type: msgType, Sender: sender, Payload: payload}
	if mode == wire.DeliverRetained {
		if err := r.history.Append(name, env); err != nil {
			logf("failed to retain %s from peer %d in %q: %v", msgType, sender, name, err)
		}
	}

	ids := make([]int, 0, len(rm.members))
	for id := range rm.members {
		if mode == wire.DeliverLive && id == sender {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		rm.members[id](env)
	}
	return nil
}

// Summaries describes every live room, sorted by name.
func (r *Rooms) Summaries() []RoomSummary {
	r.mu.Lock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	out := make([]RoomSummary, 0, len(names))
	for _, name := range names {
		rm := r.lockRoom(name, false, 0)
		if rm == nil {
			continue
		}
		s := RoomSummary{Name: name, MaxPeers: rm.maxPeers}
		for id := range rm.members {
			s.Members = append(s.Members, id)
		}
		rm.mu.Unlock()
		sort.Ints(s.Members)

		if history, err := r.history.List(name); err == nil {
			s.Retained = len(history)
		}
		out = append(out, s)
	}
	return out
}
