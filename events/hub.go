package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType defines the type of event
type EventType string

const (
	TypeBotState EventType = "bot_state"
	TypeSignal   EventType = "signal"
	TypeTrade    EventType = "trade"
	TypeError    EventType = "error"
	TypeInfo     EventType = "info"
)

// Event represents a notification pushed to dashboard clients
type Event struct {
	Type      EventType   `json:"type"`
	BotID     int64       `json:"bot_id,omitempty"`
	Symbol    string      `json:"symbol,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub maintains the set of active SSE clients and broadcasts events to them.
type Hub struct {
	clients map[chan []byte]bool

	broadcast  chan []byte
	register   chan chan []byte
	unregister chan chan []byte

	log zerolog.Logger
	mu  sync.Mutex
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		clients:    make(map[chan []byte]bool),
		log:        log.With().Str("component", "events").Logger(),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", total).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", total).Msg("client unregistered")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UTC().Unix()
	}
	bytes, err := json.Marshal(evt)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	h.broadcast <- bytes
}

// ServeHTTP handles SSE connections.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := make(chan []byte, 256)
	h.register <- client
	defer func() {
		h.unregister <- client
	}()

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"sys","message":"connected"}`)
	w.(http.Flusher).Flush()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case msg, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			w.(http.Flusher).Flush()
		}
	}
}
