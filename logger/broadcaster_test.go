package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterExtractsBotField(t *testing.T) {
	b := NewBroadcaster(10)

	raw := []byte(`{"level":"info","bot":7,"message":"cycle complete"}`)
	n, err := b.Write(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)

	lines := b.Tail(1)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(7), lines[0].BotID)
	assert.Contains(t, lines[0].Raw, "cycle complete")
}

func TestBroadcasterRingEvicts(t *testing.T) {
	b := NewBroadcaster(3)

	for i := 0; i < 5; i++ {
		b.Write([]byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	lines := b.Tail(10)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0].Raw, `"seq":2`)
	assert.Contains(t, lines[2].Raw, `"seq":4`)
}

func TestBroadcasterTailBot(t *testing.T) {
	b := NewBroadcaster(10)

	b.Write([]byte(`{"bot":1,"message":"a"}`))
	b.Write([]byte(`{"bot":2,"message":"b"}`))
	b.Write([]byte(`{"bot":1,"message":"c"}`))
	b.Write([]byte(`{"message":"no bot"}`))

	lines := b.TailBot(1, 10)
	require.Len(t, lines, 2)
	// Oldest first.
	assert.Contains(t, lines[0].Raw, `"message":"a"`)
	assert.Contains(t, lines[1].Raw, `"message":"c"`)

	assert.Len(t, b.TailBot(1, 1), 1)
	assert.Empty(t, b.TailBot(9, 10))
}

func TestBroadcasterSubscribeReceivesHistoryAndLive(t *testing.T) {
	b := NewBroadcaster(10)
	b.Write([]byte(`{"message":"before"}`))

	ch, history := b.Subscribe()
	defer b.Unsubscribe(ch)
	require.Len(t, history, 1)

	b.Write([]byte(`{"message":"after"}`))
	line := <-ch
	assert.Contains(t, line.Raw, "after")
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(10)
	ch, _ := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is harmless.
	b.Unsubscribe(ch)
}
