package ws

import (
	"log"
	"sync"

	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/router"
)

// Hub owns the room broadcast groups and fans router plans out to clients.
// All group membership changes happen on the Run goroutine.
type Hub struct {
	// Subscribed clients by room
	rooms map[string]map[*Client]bool

	// Every connected client
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Plans produced by the router for a client
	plans chan *planned

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu sync.RWMutex
}

type planned struct {
	client *Client
	plan   router.Plan
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		plans:      make(chan *planned),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			log.Printf("[Hub] client %s connected (total: %d)", client.id, total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			total := len(h.clients)
			h.mu.Unlock()

			log.Printf("[Hub] client %s disconnected (remaining: %d)", client.id, total)

		case p := <-h.plans:
			h.mu.Lock()
			h.apply(p.client, p.plan)
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			log.Println("[Hub] stopped")
			return
		}
	}
}

// Stop closes every client's send channel and ends Run. Client pumps
// observe the closed channel and tear down their connections.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}

// Submit hands a plan to the hub. It returns false once the hub is stopped.
func (h *Hub) Submit(c *Client, plan router.Plan) bool {
	if plan.Empty() {
		return true
	}
	select {
	case h.plans <- &planned{client: c, plan: plan}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Returns the number of subscribed clients in roomID
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) apply(c *Client, plan router.Plan) {
	if plan.Leave != "" {
		h.unsubscribe(c)
	}
	if plan.Join != "" && h.clients[c] {
		h.unsubscribe(c)
		if _, ok := h.rooms[plan.Join]; !ok {
			h.rooms[plan.Join] = make(map[*Client]bool)
		}
		h.rooms[plan.Join][c] = true
		c.room = plan.Join
	}

	for _, d := range plan.Deliveries {
		frame, err := protocol.Encode(d.Event, d.Payload)
		if err != nil {
			log.Printf("[Hub] dropping %s for room %s: %v", d.Event, d.RoomID, err)
			continue
		}

		if d.Scope == router.ScopeSender {
			if h.clients[c] {
				h.send(c, frame)
			}
			continue
		}

		for client := range h.rooms[d.RoomID] {
			if d.Scope == router.ScopeOthers && client == c {
				continue
			}
			h.send(client, frame)
		}
	}
}

// Slow consumers are disconnected rather than allowed to stall the room.
func (h *Hub) send(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Printf("[Hub] client %s is not keeping up, disconnecting", c.id)
		h.drop(c)
	}
}

func (h *Hub) unsubscribe(c *Client) {
	if c.room == "" {
		return
	}
	if clients, ok := h.rooms[c.room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = ""
}

// Caller holds h.mu
func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	h.unsubscribe(c)
	delete(h.clients, c)
	close(c.send)
}
