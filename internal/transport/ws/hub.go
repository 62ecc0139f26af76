package ws

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render/notify"
)

// Hub fans session status updates out to connected clients. A client gets
// every status when it said follow in HELLO, otherwise only statuses of the
// sessions it started.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	drops   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

// Notify implements notify.Notifier. Slow clients lose messages.
func (h *Hub) Notify(s notify.Status) {
	b, err := json.Marshal(protocol.NewStatusMsg(s))
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(s.SessionID) {
			continue
		}
		if !c.offer(b) {
			h.drops.Add(1)
		}
		if s.Phase.Terminal() {
			c.unwatch(s.SessionID)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 { return h.drops.Load() }

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

type client struct {
	id     string
	name   string
	follow bool
	out    chan []byte

	mu       sync.Mutex
	sessions map[string]struct{}
}

func newClient(id, name string, follow bool, queue int) *client {
	return &client{
		id:       id,
		name:     name,
		follow:   follow,
		out:      make(chan []byte, queue),
		sessions: map[string]struct{}{},
	}
}

func (c *client) watch(id string) {
	c.mu.Lock()
	c.sessions[id] = struct{}{}
	c.mu.Unlock()
}

func (c *client) unwatch(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

func (c *client) wants(id string) bool {
	if c.follow {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

func (c *client) offer(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// send queues a reply; replies are dropped like statuses when the queue is full.
func (c *client) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.offer(b)
}

func itoa(n uint64) string { return strconv.FormatUint(n, 10) }
