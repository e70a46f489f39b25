package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastReachesClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()

	client := make(chan []byte, 16)
	h.register <- client

	h.Broadcast(Event{
		Type:    TypeTrade,
		BotID:   3,
		Symbol:  "BTCUSDT",
		Message: "opened LONG",
	})

	select {
	case raw := <-client:
		var evt Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, TypeTrade, evt.Type)
		assert.Equal(t, int64(3), evt.BotID)
		assert.NotZero(t, evt.Timestamp, "broadcast stamps the event")
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	h.unregister <- client
	_, open := <-client
	assert.False(t, open)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()

	// Zero capacity and nothing receiving: delivery takes the default
	// branch and evicts the client.
	client := make(chan []byte)
	h.register <- client

	h.Broadcast(Event{Type: TypeInfo, Message: "one"})
	// The hub accepts the next broadcast only after the previous
	// delivery pass finished, so the eviction is done once this
	// returns.
	h.Broadcast(Event{Type: TypeInfo, Message: "two"})

	_, open := <-client
	assert.False(t, open, "slow client channel should be closed")
}
