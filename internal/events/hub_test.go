package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

func TestHubRoutesByQueue(t *testing.T) {
	h := NewHub(nil)
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	onlyA := &Client{ID: "a", Send: make(chan []byte, 4)}
	onlyB := &Client{ID: "b", Send: make(chan []byte, 4)}
	h.Register(all)
	h.Register(onlyA)
	h.Register(onlyB)
	h.UpdateSubscription(onlyA, "A")
	h.UpdateSubscription(onlyB, "B")

	err := h.Handle(context.Background(), Event{Type: store.EventTokenCreated, Token: models.Token{TokenID: "A001", QueuePrefix: "A"}})
	require.NoError(t, err)

	assert.Len(t, all.Send, 1)
	assert.Len(t, onlyA.Send, 1)
	assert.Len(t, onlyB.Send, 0)

	h.Unregister(onlyB)
	h.Unregister(onlyB)
	assert.Equal(t, 2, h.Len())
	_, open := <-onlyB.Send
	assert.False(t, open)
}

func TestHubDropsForSlowClients(t *testing.T) {
	h := NewHub(nil)
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)
	h.Broadcast([]byte("one"), "A")
	h.Broadcast([]byte("two"), "A")
	assert.Equal(t, "one", string(<-slow.Send))
	assert.Len(t, slow.Send, 0)
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","queue_prefix":" a "}`))
	require.True(t, ok)
	assert.Equal(t, "A", msg.QueuePrefix)

	_, ok = ParseSubscribe([]byte(`{"action":"dance"}`))
	assert.False(t, ok)
	_, ok = ParseSubscribe([]byte(`not json`))
	assert.False(t, ok)
}
