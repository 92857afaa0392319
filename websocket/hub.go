package websocket

import (
	"anclora/types"
	"log"
	"sync"
	"time"
)

// Hub interface defines the methods for managing WebSocket connections
type Hub interface {
	Run()
	Publish(event types.Event)
	RegisterClient(client *Client, snapshot func() types.Event)
	UnregisterClient(client *Client)
	ClientCount(topic string) int
}

// hub maintains the set of active clients and broadcasts events to them
type hub struct {
	// Registered clients mapped by topic (file id, batch id, "notifications" or "all")
	clients map[string]map[*Client]bool

	// Buffered so publishers never wait on slow clients
	broadcast chan types.Event

	register   chan registration
	unregister chan *Client

	mu sync.RWMutex
}

// registration pairs a client with the state it starts from
type registration struct {
	client   *Client
	snapshot func() types.Event
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.Event, 256),
		register:   make(chan registration),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main event loop
func (h *hub) Run() {
	for {
		select {
		case reg := <-h.register:
			client := reg.client
			// read after joining the loop, so every later event follows the snapshot
			if reg.snapshot != nil {
				snapshot := reg.snapshot()
				snapshot.Timestamp = time.Now()
				client.send <- snapshot
			}
			h.mu.Lock()
			if h.clients[client.topic] == nil {
				h.clients[client.topic] = make(map[*Client]bool)
			}
			h.clients[client.topic][client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client subscribed to %s", client.topic)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Printf("WebSocket client unsubscribed from %s", client.topic)

		case event := <-h.broadcast:
			h.mu.Lock()
			for _, topic := range event.Topics() {
				for client := range h.clients[topic] {
					select {
					case client.send <- event:
					default:
						// client is not draining its queue
						h.removeLocked(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// removeLocked drops a client and closes its queue once. Caller holds h.mu.
func (h *hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.topic)
	}
}

// Publish queues an event for every subscriber of its topics
func (h *hub) Publish(event types.Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("WebSocket broadcast channel full, dropping %s event", event.Type)
	}
}

// RegisterClient registers a new client with the hub. The event returned by
// snapshot, if any, is the first one the client receives.
func (h *hub) RegisterClient(client *Client, snapshot func() types.Event) {
	h.register <- registration{client: client, snapshot: snapshot}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of clients subscribed to topic
func (h *hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
