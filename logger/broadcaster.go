package logger

import (
	"encoding/json"
	"sync"
	"time"
)

// LogLine is one captured log line. Raw carries the zerolog JSON as
// written; BotID is extracted from it when present so the dashboard can
// demultiplex per-bot logs.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	BotID     int64     `json:"bot_id,omitempty"`
	Raw       string    `json:"raw"`
}

// Broadcaster is an io.Writer log sink: it keeps a bounded ring of
// recent lines and fans new lines out to subscribed SSE clients. Wire
// it into zerolog as a secondary writer.
type Broadcaster struct {
	clients    map[chan LogLine]bool
	buffer     []LogLine
	bufferSize int
	mu         sync.RWMutex
}

func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Broadcaster{
		clients:    make(map[chan LogLine]bool),
		buffer:     make([]LogLine, 0, bufferSize),
		bufferSize: bufferSize,
	}
}

func (b *Broadcaster) Write(p []byte) (n int, err error) {
	line := LogLine{
		Timestamp: time.Now().UTC(),
		Raw:       string(p),
	}

	// zerolog emits one JSON object per line; pull the bot field out so
	// per-bot tails don't have to re-decode every buffered line.
	var fields struct {
		Bot int64 `json:"bot"`
	}
	if json.Unmarshal(p, &fields) == nil {
		line.BotID = fields.Bot
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) >= b.bufferSize {
		b.buffer = b.buffer[1:]
	}
	b.buffer = append(b.buffer, line)

	for ch := range b.clients {
		select {
		case ch <- line:
		default:
			// Drop rather than block the logger on a slow client.
		}
	}

	return len(p), nil
}

// Subscribe returns a live channel plus the buffered history.
func (b *Broadcaster) Subscribe() (chan LogLine, []LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan LogLine, 200)
	b.clients[ch] = true

	history := make([]LogLine, len(b.buffer))
	copy(history, b.buffer)

	return ch, history
}

func (b *Broadcaster) Unsubscribe(ch chan LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// Tail returns up to limit most recent lines, oldest first.
func (b *Broadcaster) Tail(limit int) []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := len(b.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]LogLine, len(b.buffer)-start)
	copy(out, b.buffer[start:])
	return out
}

// TailBot returns up to limit most recent lines tagged with the bot id,
// oldest first.
func (b *Broadcaster) TailBot(botID int64, limit int) []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []LogLine
	for i := len(b.buffer) - 1; i >= 0 && len(out) < limit; i-- {
		if b.buffer[i].BotID == botID {
			out = append(out, b.buffer[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ToSSE formats a line as a server-sent event.
func (m LogLine) ToSSE() string {
	data, _ := json.Marshal(m)
	return "data: " + string(data) + "\n\n"
}
