// Package hub is a minimal in-process relay. It accepts signed events,
// answers subscriptions and acknowledges every publish, which is enough to
// run the service and its tests without a public relay.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"nostr_magiclink/internal/event"
)

const defaultMaxEvents = 10000

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Verifier checks an incoming event before it is stored.
type Verifier interface {
	Verify(ev event.SignedEvent) bool
}

type published struct {
	from  *Client
	event event.SignedEvent
}

type Hub struct {
	ctx        context.Context
	verifier   Verifier
	log        *slog.Logger
	maxEvents  int
	clients    map[*Client]struct{}
	events     []event.SignedEvent
	seen       map[string]struct{}
	inBox      chan published
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

type Option func(*Hub)

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithMaxEvents bounds the stored history; the oldest events are evicted.
func WithMaxEvents(n int) Option {
	return func(h *Hub) { h.maxEvents = n }
}

func NewHub(ctx context.Context, verifier Verifier, opts ...Option) *Hub {
	h := &Hub{
		ctx:        ctx,
		verifier:   verifier,
		log:        slog.Default(),
		maxEvents:  defaultMaxEvents,
		clients:    make(map[*Client]struct{}),
		seen:       make(map[string]struct{}),
		inBox:      make(chan published),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.log.Info("relay hub shutting down")
			h.closeAll()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.inBox:
			h.store(msg)
		}
	}
}

// ServeHTTP upgrades the request and attaches a client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", "error", err)
		return
	}

	client := NewClient(h.ctx, conn, h)
	if !h.Register(client) {
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client] = struct{}{}
	h.log.Debug("relay client connected", "total_clients", len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.Close()
	}
	h.log.Debug("relay client disconnected", "total_clients", len(h.clients))
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) store(msg published) {
	h.mutex.Lock()
	if _, dup := h.seen[msg.event.ID]; dup {
		h.mutex.Unlock()
		msg.from.Send(okFrame(msg.event.ID, true, "duplicate: already have this event"))
		return
	}
	h.seen[msg.event.ID] = struct{}{}
	h.events = append(h.events, msg.event)
	if h.maxEvents > 0 && len(h.events) > h.maxEvents {
		evicted := h.events[0]
		h.events = h.events[1:]
		delete(h.seen, evicted.ID)
	}
	h.mutex.Unlock()

	msg.from.Send(okFrame(msg.event.ID, true, ""))
	h.fanOut(msg.event)
}

// fanOut pushes a freshly stored event to every live subscription it matches.
func (h *Hub) fanOut(ev event.SignedEvent) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		for _, subID := range client.matching(ev) {
			client.Send(eventFrame(subID, ev))
		}
	}
}

// Register hands the client to the run loop. It reports false once the hub
// has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Publish verifies ev and queues it for storage. Rejected events are
// acknowledged with a negative OK immediately.
func (h *Hub) Publish(from *Client, ev event.SignedEvent) {
	if h.verifier != nil && !h.verifier.Verify(ev) {
		from.Send(okFrame(ev.ID, false, "invalid: event failed verification"))
		return
	}
	select {
	case h.inBox <- published{from: from, event: ev}:
	case <-h.ctx.Done():
	}
}

// Events returns stored events matching any of filters, oldest first. No
// filters matches everything.
func (h *Hub) Events(filters ...event.Filter) []event.SignedEvent {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var out []event.SignedEvent
	for _, ev := range h.events {
		if matchesAny(filters, ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) query(filters []event.Filter) []event.SignedEvent {
	out := h.Events(filters...)
	limit := 0
	for _, f := range filters {
		if f.Limit > limit {
			limit = f.Limit
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func matchesAny(filters []event.Filter, ev event.SignedEvent) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}
