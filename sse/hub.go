package sse

import (
	"sync"
	"time"

	"github.com/kbukum/discoverykit/logger"
)

const clientBuffer = 64

// Publisher publishes events to the hub.
type Publisher interface {
	Publish(eventType, topic string, data any)
}

// Client represents a connected SSE client.
type Client struct {
	id     string
	filter string
	events chan Event
}

// NewClient creates a client receiving the topics selected by filter.
func NewClient(id, filter string) *Client {
	return &Client{
		id:     id,
		filter: filter,
		events: make(chan Event, clientBuffer),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Filter returns the client's topic filter.
func (c *Client) Filter() string { return c.filter }

// Events returns the channel for receiving events.
func (c *Client) Events() <-chan Event { return c.events }

// Send queues an event. It returns false if the client is too slow and the
// event was dropped.
func (c *Client) Send(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Hub manages SSE client connections and routes events by topic.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}
	stopped    bool
	mu         sync.RWMutex
	seq        uint64
	seqMu      sync.Mutex
	log        *logger.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a new SSE hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		log:        log.WithComponent("sse"),
	}
}

// Run is the hub's event loop. It blocks until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", logger.Fields("client_id", client.id, "filter", client.filter, "total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client unregistered", logger.Fields("client_id", client.id, "total_clients", total))

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// Stop shuts the hub down, closing every client. Safe to call multiple times.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
}

// Done is closed once Stop has been called.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.events)
		delete(h.clients, id)
	}
}

// Register adds a client. It returns false if the hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It is a no-op once the hub is stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues an event for every client whose filter matches topic.
func (h *Hub) Publish(eventType, topic string, data any) {
	h.seqMu.Lock()
	h.seq++
	ev := Event{ID: h.seq, Type: eventType, Topic: topic, Data: data, At: time.Now().UTC()}
	h.seqMu.Unlock()

	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// deliver runs on the hub goroutine.
func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, client := range h.clients {
		if !MatchTopic(client.filter, ev.Topic) {
			continue
		}
		if client.Send(ev) {
			delivered++
		} else {
			h.log.Warn("client buffer full, dropping event", logger.Fields("client_id", client.id, "topic", ev.Topic))
		}
	}
	h.log.Debug("event published", logger.Fields("topic", ev.Topic, "type", ev.Type, "delivered", delivered))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client returns a client by ID, or nil if not found.
func (h *Hub) Client(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}
