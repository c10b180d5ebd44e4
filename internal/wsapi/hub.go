// Package wsapi serves the event-stream WebSocket endpoint (spec §6): a
// client subscribes to a set of event groups and receives every Event
// Bus event whose group is in that set.
//
// The hub/client/handler split and the client send-buffer protocol are
// grounded on the teacher's gateway/websocket/{hub,client,handler}.go,
// adapted from the teacher's task/session/user subscription model to the
// spec's flat group-subscription model.
package wsapi

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/logger"
)

// Hub fans Event Bus events out to every connected client whose
// subscription set contains the event's group.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	bus *eventbus.Bus
	sub *eventbus.Subscription

	register   chan *Client
	unregister chan *Client

	log *logger.Logger
}

// New constructs a Hub bound to bus. Call Run to start fanning events out;
// Run returns when ctx is cancelled.
func New(bus *eventbus.Bus, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		bus:        bus,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.WithFields(zap.String("component", "wsapi_hub")),
	}
}

// Run subscribes to every group on the bus and forwards events to the
// registered clients until ctx is cancelled, then unsubscribes and closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	h.sub = h.bus.SubscribeByGroup("", h.broadcast)
	h.log.Info("wsapi hub started")
	defer h.log.Info("wsapi hub stopped")

	<-ctx.Done()
	h.sub.Unsubscribe()
	h.closeAllClients()
}

func (h *Hub) broadcast(evt eventbus.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.deliver(evt)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
		delete(h.clients, c)
	}
}

// Register adds a client to the fan-out set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

// Unregister removes a client from the fan-out set.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
