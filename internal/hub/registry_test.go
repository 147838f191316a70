package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/shared.frame/internal/eventbus"
	"github.com/banshee-data/shared.frame/internal/relay"
	"github.com/banshee-data/shared.frame/internal/transport"
)

func TestRegistry_FirstInstanceWins(t *testing.T) {
	r := &Registry{}
	rooms := relay.NewRooms(nil)

	first := r.Open(transport.NewLoopback(rooms), eventbus.New(), DefaultOptions())
	second := r.Open(transport.NewLoopback(rooms), eventbus.New(), DefaultOptions())
	assert.Same(t, first, second)
	assert.Same(t, first, r.Current())

	assert.NoError(t, first.Close())
	assert.Nil(t, r.Current())

	third := r.Open(transport.NewLoopback(rooms), eventbus.New(), DefaultOptions())
	assert.NotSame(t, first, third)
	assert.NoError(t, third.Close())
}

func TestRegistry_CloseOfStaleHubKeepsActive(t *testing.T) {
	r := &Registry{}
	rooms := relay.NewRooms(nil)

	first := r.Open(transport.NewLoopback(rooms), eventbus.New(), DefaultOptions())
	first.Close()
	second := r.Open(transport.NewLoopback(rooms), eventbus.New(), DefaultOptions())
	first.Close()
	assert.Same(t, second, r.Current())
	second.Close()
}

func TestOpen_UsesDefaultRegistry(t *testing.T) {
	h := Open(transport.NewLoopback(relay.NewRooms(nil)), eventbus.New(), Options{})
	defer h.Close()
	assert.Same(t, h, DefaultRegistry.Current())
	assert.Equal(t, DefaultOptions().InboxCapacity, h.opts.InboxCapacity)
}
