package alignment

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/shared.frame/internal/alignmath"
	"github.com/banshee-data/shared.frame/internal/eventbus"
	"github.com/banshee-data/shared.frame/internal/monitoring"
	"github.com/banshee-data/shared.frame/internal/timeutil"
	"github.com/banshee-data/shared.frame/internal/wire"
)

var logf = monitoring.Prefixed("Alignment")

// Manager owns the peer alignment table and the join/announce state machine.
//
// Event handlers and scheduled announcements run on whatever goroutine calls
// hub.Tick and Manager.Tick. Query methods are safe from any goroutine.
type Manager struct {
	cfg   Config
	hub   Hub
	bus   *eventbus.Bus
	ref   ReferenceSource
	clock timeutil.Clock
	sched *timeutil.Scheduler

	unsubscribe []func()

	mu       sync.Mutex
	mode     Mode
	state    State
	manual   ManualAlignment
	peers    map[int]PeerAlignment
	markers  []DebugMarker
	mesh     wire.MeshAlignment
	hasMesh  bool
	room     string
	announce timeutil.TaskID
	closed   bool
}

// New creates a manager subscribed to bus. A nil clock uses the wall clock.
func New(cfg Config, h Hub, bus *eventbus.Bus, ref ReferenceSource, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.JoinGracePeriod < 0 {
		cfg.JoinGracePeriod = 0
	}
	if cfg.MaxDebugMarkers < 0 {
		cfg.MaxDebugMarkers = 0
	}
	m := &Manager{
		cfg:    cfg,
		hub:    h,
		bus:    bus,
		ref:    ref,
		clock:  clock,
		sched:  timeutil.NewScheduler(clock),
		mode:   cfg.Mode,
		manual: normaliseManual(cfg.Manual),
		peers:  make(map[int]PeerAlignment),
	}
	m.state = m.initialState()

	joined := bus.RoomJoined.Subscribe(m.onRoomJoined)
	left := bus.RoomLeft.Subscribe(m.onRoomLeft)
	spatial := bus.SpatialAlignment.Subscribe(m.onSpatialAlignment)
	mesh := bus.MeshAlignment.Subscribe(m.onMeshAlignment)
	m.unsubscribe = []func(){
		func() { bus.RoomJoined.Unsubscribe(joined) },
		func() { bus.RoomLeft.Unsubscribe(left) },
		func() { bus.SpatialAlignment.Unsubscribe(spatial) },
		func() { bus.MeshAlignment.Unsubscribe(mesh) },
	}
	logf("manager started in %s mode", m.mode)
	return m
}

func normaliseManual(ma ManualAlignment) ManualAlignment {
	if ma.RotationOffset == (alignmath.Quat{}) {
		ma.RotationOffset = alignmath.Identity()
	}
	if ma.ScaleMultiplier == 0 {
		logf("WARNING: manual scale 0 would collapse every point, using 1")
		ma.ScaleMultiplier = 1
	}
	return ma
}

// initialState is the state of a new manager. Shared-origin and manual
// clients need no peer record to transform.
func (m *Manager) initialState() State {
	if m.mode == SharedOrigin || m.mode == ManualAlign {
		return Aligned
	}
	return Unaligned
}

// clearedState is the state after peer records are dropped by Recalibrate or
// by leaving the room. Only shared origin stays aligned. Caller holds mu.
func (m *Manager) clearedState() State {
	if m.mode == SharedOrigin {
		return Aligned
	}
	return Unaligned
}

// Tick runs due scheduled work, such as the post-join announcement.
func (m *Manager) Tick() int {
	return m.sched.RunDue()
}

// scheduleAnnounce replaces any pending announcement with one after the
// join grace period. Caller holds mu.
func (m *Manager) scheduleAnnounce() {
	if m.announce != 0 {
		m.sched.Cancel(m.announce)
	}
	var id timeutil.TaskID
	id = m.sched.After(m.cfg.JoinGracePeriod, "announce-spatial-reference", func() {
		m.mu.Lock()
		// A newer announcement may have been scheduled after this one was
		// dequeued; its handle must survive.
		if m.announce == id {
			m.announce = 0
		}
		closed := m.closed
		m.mu.Unlock()
		if !closed {
			m.announceReference()
		}
	})
	m.announce = id
}

// announceReference broadcasts the current local reference. Firing after a
// recalibration only repeats the same announcement.
func (m *Manager) announceReference() {
	pos, rot := m.ref.Reference()
	m.hub.BroadcastSpatialReference(pos, rot)
}

func (m *Manager) onRoomJoined(ev eventbus.RoomJoined) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.room = ev.Room
	if m.mode == SharedOrigin {
		m.state = Aligned
		return
	}
	if m.state == Unaligned {
		m.state = Broadcasting
	}
	m.scheduleAnnounce()
	logf("joined %q as peer %d, announcing reference in %s", ev.Room, ev.LocalPeerID, m.cfg.JoinGracePeriod)
}

func (m *Manager) onRoomLeft(ev eventbus.RoomLeft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.room = ""
	if m.announce != 0 {
		m.sched.Cancel(m.announce)
		m.announce = 0
	}
	n := len(m.peers)
	m.resetLocked()
	logf("left %q, dropped %d peer alignments", ev.Room, n)
}

// resetLocked drops peer records, markers and mesh state. Caller holds mu.
func (m *Manager) resetLocked() {
	m.peers = make(map[int]PeerAlignment)
	m.markers = nil
	m.mesh, m.hasMesh = wire.MeshAlignment{}, false
	m.state = m.clearedState()
}

func (m *Manager) onSpatialAlignment(ev eventbus.SpatialAlignmentReceived) {
	// Retained announcements echo back to their sender.
	if ev.PeerID == m.hub.LocalPeerID() {
		return
	}
	localPos, localRot := m.ref.Reference()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	_, known := m.peers[ev.PeerID]
	m.peers[ev.PeerID] = PeerAlignment{
		PeerID:         ev.PeerID,
		RemoteOrigin:   ev.Origin,
		RemoteRotation: ev.Rotation,
		PositionOffset: alignmath.ComputePositionOffset(localPos, ev.Origin),
		RotationOffset: alignmath.ComputeRotationOffset(localRot, ev.Rotation),
		Scale:          1,
		LocalOrigin:    localPos,
		LocalRotation:  localRot,
		ReceivedAt:     m.clock.Now(),
	}
	if !known {
		logf("recorded alignment for peer %d (%d peers)", ev.PeerID, len(m.peers))
	}
	if m.state != Aligned {
		m.state = Aligned
		logf("aligned via peer %d", ev.PeerID)
	}
}

func (m *Manager) onMeshAlignment(ev eventbus.MeshAlignmentReceived) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.mesh = wire.MeshAlignment{Position: ev.Position, Rotation: ev.Rotation, Scale: ev.Scale}
	m.hasMesh = true
}

// IsAligned reports whether at least one peer alignment is recorded, the
// manual offset is in force, or the mode is SharedOrigin.
func (m *Manager) IsAligned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode == SharedOrigin || m.state == Aligned
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mode returns the current transform mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Recalibrate drops every peer alignment and debug marker and restarts the
// join protocol: in a room, the reference is announced again after the
// grace period. A pending announcement is replaced.
func (m *Manager) Recalibrate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.peers = make(map[int]PeerAlignment)
	m.markers = nil
	m.state = m.clearedState()
	if m.mode == SharedOrigin {
		logf("recalibrated (shared origin, nothing to do)")
		return
	}
	if m.room != "" {
		m.state = Broadcasting
		m.scheduleAnnounce()
	}
	logf("recalibrated, state %s", m.state)
}

// SetManualAlignment switches to ManualAlign with the given offset and marks
// the manager aligned. Peer records are kept but ignored while manual.
func (m *Manager) SetManualAlignment(positionOffset alignmath.Vec3, rotationOffset alignmath.Quat, scale float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = ManualAlign
	m.manual = normaliseManual(ManualAlignment{
		PositionOffset:  positionOffset,
		RotationOffset:  rotationOffset,
		ScaleMultiplier: scale,
	})
	m.state = Aligned
	logf("manual alignment set: offset %v, scale %g", positionOffset, m.manual.ScaleMultiplier)
}

// ManualAlignment returns the manual offset.
func (m *Manager) ManualAlignment() ManualAlignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manual
}

// PeerAlignment returns the record for peerID.
func (m *Manager) PeerAlignment(peerID int) (PeerAlignment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.peers[peerID]
	return rec, ok
}

// Peers returns all peer records ordered by peer id.
func (m *Manager) Peers() []PeerAlignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerAlignment, 0, len(m.peers))
	for _, rec := range m.peers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// PeerPose returns the peer-to-local transform as a matrix.
func (m *Manager) PeerPose(peerID int) (alignmath.Pose, bool) {
	rec, ok := m.PeerAlignment(peerID)
	if !ok {
		return alignmath.IdentityPose(), false
	}
	pose, err := alignmath.AlignmentPose(rec.RemoteOrigin, rec.RemoteRotation, rec.LocalOrigin, rec.LocalRotation, rec.Scale)
	if err != nil {
		logf("peer %d pose: %v", peerID, err)
		return alignmath.IdentityPose(), false
	}
	return pose, true
}

// LatestMeshAlignment returns the last mesh alignment received in this room.
func (m *Manager) LatestMeshAlignment() (wire.MeshAlignment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mesh, m.hasMesh
}

// AnnounceMeshAlignment sends a live mesh alignment update to the room.
func (m *Manager) AnnounceMeshAlignment(position alignmath.Vec3, rotation alignmath.Quat, scale float64) {
	m.hub.BroadcastMeshAlignment(position, rotation, scale)
}

// Markers returns the current debug markers, oldest first.
func (m *Manager) Markers() []DebugMarker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DebugMarker(nil), m.markers...)
}

// addMarker records a debug marker. Caller holds mu.
func (m *Manager) addMarker(peerID int, pos alignmath.Vec3, now time.Time) {
	m.markers = append(m.markers, DebugMarker{PeerID: peerID, Position: pos, CreatedAt: now})
	if limit := m.cfg.MaxDebugMarkers; limit > 0 && len(m.markers) > limit {
		m.markers = append(m.markers[:0:0], m.markers[len(m.markers)-limit:]...)
	}
}

// Close unsubscribes from the bus, cancels the pending announcement and
// drops all alignment state. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.sched.CancelAll()
	m.announce = 0
	m.peers = make(map[int]PeerAlignment)
	m.markers = nil
	m.mesh, m.hasMesh = wire.MeshAlignment{}, false
	m.mu.Unlock()

	for _, unsub := range m.unsubscribe {
		unsub()
	}
	logf("manager closed")
}
