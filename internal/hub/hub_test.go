package hub

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shared.frame/internal/alignmath"
	"github.com/banshee-data/shared.frame/internal/eventbus"
	"github.com/banshee-data/shared.frame/internal/relay"
	"github.com/banshee-data/shared.frame/internal/transport"
	"github.com/banshee-data/shared.frame/internal/wire"
)

type events struct {
	joined  []eventbus.RoomJoined
	left    []eventbus.RoomLeft
	spatial []eventbus.SpatialAlignmentReceived
	mesh    []eventbus.MeshAlignmentReceived
}

func record(bus *eventbus.Bus) *events {
	ev := &events{}
	bus.RoomJoined.Subscribe(func(e eventbus.RoomJoined) { ev.joined = append(ev.joined, e) })
	bus.RoomLeft.Subscribe(func(e eventbus.RoomLeft) { ev.left = append(ev.left, e) })
	bus.SpatialAlignment.Subscribe(func(e eventbus.SpatialAlignmentReceived) { ev.spatial = append(ev.spatial, e) })
	bus.MeshAlignment.Subscribe(func(e eventbus.MeshAlignmentReceived) { ev.mesh = append(ev.mesh, e) })
	return ev
}

func openHub(t *testing.T, rooms *relay.Rooms) (*Hub, *eventbus.Bus, *events) {
	t.Helper()
	bus := eventbus.New()
	ev := record(bus)
	h := (&Registry{}).Open(transport.NewLoopback(rooms), bus, DefaultOptions())
	t.Cleanup(func() { h.Close() })
	return h, bus, ev
}

func joinHub(t *testing.T, h *Hub, room string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.Connect(ctx))
	require.NoError(t, h.JoinRoom(ctx, room, 4))
}

func TestHub_BroadcastWhileNotReadyIsDropped(t *testing.T) {
	h, _, _ := openHub(t, relay.NewRooms(nil))

	assert.False(t, h.IsReady())
	h.BroadcastSpatialReference(alignmath.Vec3{1, 2, 3}, alignmath.Identity())
	h.BroadcastMeshAlignment(alignmath.Vec3{}, alignmath.Identity(), 1)

	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.DroppedNotReady)
	assert.Equal(t, uint64(0), stats.Sent)
}

func TestHub_JoinPublishesRoomJoined(t *testing.T) {
	h, _, ev := openHub(t, relay.NewRooms(nil))
	joinHub(t, h, "lab")

	assert.True(t, h.IsReady())
	assert.Equal(t, 1, h.LocalPeerID())
	assert.Equal(t, []eventbus.RoomJoined{{Room: "lab", LocalPeerID: 1}}, ev.joined)
}

func TestHub_JoinErrorIsReturned(t *testing.T) {
	h, _, ev := openHub(t, relay.NewRooms(nil))
	err := h.JoinRoom(context.Background(), "lab", 4)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Empty(t, ev.joined)
}

func TestHub_InboundPublishedOnTickOnly(t *testing.T) {
	rooms := relay.NewRooms(nil)
	a, _, _ := openHub(t, rooms)
	b, _, evB := openHub(t, rooms)
	joinHub(t, a, "lab")
	joinHub(t, b, "lab")

	rot := mgl64.QuatRotate(0.5, alignmath.Vec3{0, 1, 0})
	a.BroadcastSpatialReference(alignmath.Vec3{1, 0, 0}, rot)
	a.BroadcastMeshAlignment(alignmath.Vec3{0, 0, 2}, rot, 1.5)

	assert.Empty(t, evB.spatial, "nothing is published before Tick")
	assert.Equal(t, 2, b.Tick())
	require.Len(t, evB.spatial, 1)
	assert.Equal(t, 1, evB.spatial[0].PeerID)
	assert.Equal(t, alignmath.Vec3{1, 0, 0}, evB.spatial[0].Origin)
	assert.True(t, alignmath.ApproxEqualQuat(rot, evB.spatial[0].Rotation, 1e-12))
	require.Len(t, evB.mesh, 1)
	assert.Equal(t, 1.5, evB.mesh[0].Scale)

	assert.Equal(t, 0, b.Tick())
	assert.Equal(t, uint64(2), a.Stats().Sent)
	assert.Equal(t, uint64(2), b.Stats().Received)
}

func TestHub_RetainedEchoReachesSender(t *testing.T) {
	h, _, ev := openHub(t, relay.NewRooms(nil))
	joinHub(t, h, "lab")

	h.BroadcastSpatialReference(alignmath.Vec3{}, alignmath.Identity())
	h.Tick()
	require.Len(t, ev.spatial, 1)
	assert.Equal(t, h.LocalPeerID(), ev.spatial[0].PeerID)
}

func TestHub_LateJoinerReceivesRetained(t *testing.T) {
	rooms := relay.NewRooms(nil)
	a, _, _ := openHub(t, rooms)
	joinHub(t, a, "lab")
	a.BroadcastSpatialReference(alignmath.Vec3{3, 0, 0}, alignmath.Identity())
	a.BroadcastMeshAlignment(alignmath.Vec3{}, alignmath.Identity(), 1)

	b, _, evB := openHub(t, rooms)
	joinHub(t, b, "lab")
	b.Tick()
	require.Len(t, evB.spatial, 1)
	assert.Equal(t, alignmath.Vec3{3, 0, 0}, evB.spatial[0].Origin)
	assert.Empty(t, evB.mesh)
}

func TestHub_TransportSenderIsAuthoritative(t *testing.T) {
	rooms := relay.NewRooms(nil)
	h, _, ev := openHub(t, rooms)
	joinHub(t, h, "lab")

	forged := wire.SpatialReference{SenderID: 99, OriginRotation: alignmath.Identity()}
	h.enqueue(transport.Message{Type: wire.MessageSpatialReference, Sender: 7, Payload: forged.Marshal()})
	h.Tick()
	require.Len(t, ev.spatial, 1)
	assert.Equal(t, 7, ev.spatial[0].PeerID)
}

func TestHub_DropsUndecodable(t *testing.T) {
	h, _, ev := openHub(t, relay.NewRooms(nil))
	joinHub(t, h, "lab")

	h.enqueue(transport.Message{Type: wire.MessageSpatialReference, Sender: 2, Payload: []byte{0xff}})
	h.enqueue(transport.Message{Type: wire.MessageMeshAlignment, Sender: 2, Payload: []byte{0x0a, 0x05}})
	h.enqueue(transport.Message{Type: wire.MessageType(42), Sender: 2})

	assert.Equal(t, 0, h.Tick())
	assert.Empty(t, ev.spatial)
	assert.Empty(t, ev.mesh)
	assert.Equal(t, uint64(3), h.Stats().DecodeErrors)
}

func TestHub_InboxCapacity(t *testing.T) {
	bus := eventbus.New()
	h := (&Registry{}).Open(transport.NewLoopback(relay.NewRooms(nil)), bus, Options{InboxCapacity: 2})
	defer h.Close()

	for i := 0; i < 5; i++ {
		h.enqueue(transport.Message{Type: wire.MessageMeshAlignment, Sender: 2})
	}
	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(3), stats.InboxDropped)
}

func TestHub_LeaveRoomDiscardsInbox(t *testing.T) {
	rooms := relay.NewRooms(nil)
	a, _, _ := openHub(t, rooms)
	b, _, evB := openHub(t, rooms)
	joinHub(t, a, "lab")
	joinHub(t, b, "lab")

	a.BroadcastSpatialReference(alignmath.Vec3{}, alignmath.Identity())
	require.NoError(t, b.LeaveRoom())
	assert.Equal(t, 0, b.Tick())
	assert.Empty(t, evB.spatial)
	assert.Equal(t, []eventbus.RoomLeft{{Room: "lab"}}, evB.left)
	assert.False(t, b.IsReady())

	assert.ErrorIs(t, b.LeaveRoom(), transport.ErrNotInRoom)
}

func TestHub_CloseLeavesRoom(t *testing.T) {
	rooms := relay.NewRooms(nil)
	h, _, ev := openHub(t, rooms)
	joinHub(t, h, "lab")

	require.NoError(t, h.Close())
	assert.Equal(t, []eventbus.RoomLeft{{Room: "lab"}}, ev.left)
	assert.False(t, h.IsReady())
	assert.Empty(t, rooms.Summaries())
	assert.Equal(t, 0, h.Tick())
	assert.NoError(t, h.Close())
	assert.ErrorIs(t, h.Connect(context.Background()), transport.ErrClosed)
}
