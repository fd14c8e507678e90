// Package feed serves each owner's event stream to external consumers: a
// paged backlog over HTTP and a websocket that replays from a sequence
// number and then follows live commits.
package feed

import (
	"context"
	"log"
	"sync"

	"github.com/sudo-init-do/taskmarket/internal/events"
)

const clientBuffer = 256

type client struct {
	send chan events.Event
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub is an events.Sink that forwards committed events to subscribers of
// the owning stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

func (h *Hub) subscribe(owner string) *client {
	c := &client{send: make(chan events.Event, clientBuffer), done: make(chan struct{})}
	h.mu.Lock()
	set, ok := h.clients[owner]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[owner] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(owner string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[owner]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, owner)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Subscribers returns how many clients follow owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[owner])
}

// Publish never blocks the committing store: a subscriber whose buffer is
// full is dropped and has to reconnect with its last sequence.
func (h *Hub) Publish(_ context.Context, batch []events.Event) error {
	h.mu.RLock()
	var slow []*client
	var owners []string
	for _, e := range batch {
		for c := range h.clients[e.Owner] {
			select {
			case c.send <- e:
			case <-c.done:
			default:
				slow = append(slow, c)
				owners = append(owners, e.Owner)
			}
		}
	}
	h.mu.RUnlock()

	for i, c := range slow {
		log.Printf("[feed] dropping slow subscriber of %s", owners[i])
		h.unsubscribe(owners[i], c)
	}
	return nil
}
