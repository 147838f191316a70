package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shared.frame/internal/relay"
	"github.com/banshee-data/shared.frame/internal/wire"
)

func startRelay(t *testing.T) string {
	t.Helper()
	srv := relay.NewServer(relay.NewRooms(nil), relay.DefaultServerConfig())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newJoinedWebSocket(t *testing.T, url, room string, maxPeers int) (*WebSocket, *recorder) {
	t.Helper()
	w := NewWebSocket(DefaultWebSocketConfig(url))
	rec := &recorder{}
	w.OnMessage(rec.handle)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Connect(ctx))
	require.NoError(t, w.JoinOrCreateRoom(ctx, room, maxPeers))
	t.Cleanup(func() { w.Close() })
	return w, rec
}

func TestWebSocket_NotConnected(t *testing.T) {
	w := NewWebSocket(WebSocketConfig{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, w.JoinOrCreateRoom(context.Background(), "lab", 2), ErrNotConnected)
	assert.ErrorIs(t, w.Broadcast(wire.MessageSpatialReference, nil, wire.DeliverRetained), ErrNotConnected)
	assert.ErrorIs(t, w.LeaveRoom(), ErrNotConnected)
	assert.False(t, w.InRoom())
	assert.NoError(t, w.Close())
}

func TestWebSocket_JoinAndExchange(t *testing.T) {
	url := startRelay(t)
	a, recA := newJoinedWebSocket(t, url, "lab", 4)
	b, recB := newJoinedWebSocket(t, url, "lab", 4)

	assert.True(t, a.InRoom())
	assert.Equal(t, 1, a.LocalPeerID())
	assert.Equal(t, 2, b.LocalPeerID())

	require.NoError(t, a.Broadcast(wire.MessageSpatialReference, []byte("ref"), wire.DeliverRetained))
	require.NoError(t, b.Broadcast(wire.MessageMeshAlignment, []byte("mesh"), wire.DeliverLive))

	assert.Eventually(t, func() bool { return len(recB.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(recA.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Message{Type: wire.MessageSpatialReference, Sender: 1, Payload: []byte("ref")}, recB.messages()[0])

	_, recC := newJoinedWebSocket(t, url, "lab", 4)
	assert.Eventually(t, func() bool { return len(recC.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, recC.messages()[0].Sender)
}

func TestWebSocket_JoinRejected(t *testing.T) {
	url := startRelay(t)
	newJoinedWebSocket(t, url, "solo", 1)

	w := NewWebSocket(DefaultWebSocketConfig(url))
	defer w.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Connect(ctx))
	err := w.JoinOrCreateRoom(ctx, "solo", 1)
	assert.ErrorIs(t, err, ErrJoinRejected)
	assert.Contains(t, err.Error(), "room is full")
	assert.False(t, w.InRoom())
}

func TestWebSocket_LeaveAndRejoin(t *testing.T) {
	url := startRelay(t)
	w, _ := newJoinedWebSocket(t, url, "lab", 4)

	require.NoError(t, w.LeaveRoom())
	assert.False(t, w.InRoom())
	assert.ErrorIs(t, w.Broadcast(wire.MessageMeshAlignment, nil, wire.DeliverLive), ErrNotInRoom)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.JoinOrCreateRoom(ctx, "lab", 4))
	assert.True(t, w.InRoom())
	assert.Equal(t, 1, w.LocalPeerID(), "room closed when empty, so ids restart")
}

func TestWebSocket_CloseIsIdempotent(t *testing.T) {
	url := startRelay(t)
	w, _ := newJoinedWebSocket(t, url, "lab", 4)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.False(t, w.InRoom())
	assert.ErrorIs(t, w.Connect(context.Background()), ErrClosed)
}
