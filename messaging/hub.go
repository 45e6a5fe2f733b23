package messaging

import (
	"log/slog"
	"sync"

	"github.com/webverify/webverify/trust"
)

// OutcomeSource answers the current outcome of a context.
type OutcomeSource interface {
	Outcome(contextID string) (trust.Outcome, bool)
}

// Hub fans outcome updates out to the popups subscribed to a context.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	source OutcomeSource
	subs   map[string]map[Port]struct{}
}

// HubOption is a functional option for configuring a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for the hub.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger: slog.Default(),
		subs:   make(map[string]map[Port]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Bind sets where the hub reads the current outcome of newly subscribed
// contexts.
func (h *Hub) Bind(src OutcomeSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = src
}

// Subscribe registers p for updates on contextID and immediately sends the
// current outcome when one is known.
func (h *Hub) Subscribe(p Port, contextID string) {
	h.mu.Lock()
	set, ok := h.subs[contextID]
	if !ok {
		set = make(map[Port]struct{})
		h.subs[contextID] = set
	}
	set[p] = struct{}{}
	src := h.source
	h.mu.Unlock()

	if src == nil {
		return
	}
	if o, ok := src.Outcome(contextID); ok {
		h.send(p, contextID, o)
	}
}

// Notify sends o to every subscriber of contextID.
func (h *Hub) Notify(contextID string, o trust.Outcome) {
	h.mu.Lock()
	ports := make([]Port, 0, len(h.subs[contextID]))
	for p := range h.subs[contextID] {
		ports = append(ports, p)
	}
	h.mu.Unlock()

	for _, p := range ports {
		h.send(p, contextID, o)
	}
}

// Disconnect drops every subscription held by p.
func (h *Hub) Disconnect(p Port) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		delete(set, p)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

// Remove drops every subscription to contextID. Ports subscribed to other
// contexts stay registered.
func (h *Hub) Remove(contextID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, contextID)
}

// Subscribers returns the number of ports subscribed to contextID.
func (h *Hub) Subscribers(contextID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[contextID])
}

func (h *Hub) send(p Port, contextID string, o trust.Outcome) {
	m, err := NewMessage(TypeUpdate, NewUpdate(contextID, o))
	if err != nil {
		h.logger.Error("encoding update", "context", contextID, "error", err)
		return
	}
	if err := p.Send(m); err != nil {
		h.logger.Warn("sending update failed, dropping subscriber", "context", contextID, "error", err)
		h.Disconnect(p)
	}
}
