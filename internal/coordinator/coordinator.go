// Package coordinator implements the process-wide SSE fan-out service
// (C10): storage nodes post a BROADCAST envelope over HTTP, the
// coordinator serializes it onto every connected SSE subscriber. It holds
// no durable state and sits off the read/write critical path entirely.
package coordinator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/monitoring"
)

// event is one named SSE message queued for delivery to every subscriber.
type event struct {
	name string
	data any
}

// Hub tracks connected SSE subscribers and multicasts events to all of
// them, mirroring the teacher's connection-map broadcast shape with
// net.Conn replaced by a buffered channel per subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan event
	log         *zap.Logger
	metrics     *monitoring.Metrics
}

// NewHub returns an empty subscriber hub.
func NewHub(log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[string]chan event),
		log:         log,
		metrics:     metrics,
	}
}

// subscribe registers a fresh subscriber channel under id and returns it.
// The channel is buffered so one slow reader cannot block a broadcast to
// everyone else; a subscriber that falls behind simply misses events
// rather than stalling the hub.
func (h *Hub) subscribe(id string) chan event {
	ch := make(chan event, 32)
	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SSEConnectedClients.Inc()
	}
	return ch
}

// unsubscribe removes and closes id's channel.
func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(ch)
	if h.metrics != nil {
		h.metrics.SSEConnectedClients.Dec()
	}
}

// Broadcast fans name/data out to every connected subscriber. A full
// subscriber buffer is skipped rather than blocked on, logged at warn
// level so a persistently stuck subscriber is visible without taking the
// broadcast path down for everyone else.
func (h *Hub) Broadcast(name string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- event{name: name, data: data}:
			if h.metrics != nil {
				h.metrics.SSEEventsSent.Inc()
			}
		default:
			h.log.Warn("sse subscriber buffer full, dropping event", zap.String("subscriber", id), zap.String("event", name))
		}
	}
}
