// Package hub holds the live notification channels: at most one per
// user, best-effort delivery, nothing durable. State resets on process
// restart; the store is always committed before an event is pushed.
package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/observability"
)

// Channel is one live transport bound to a single authenticated user.
type Channel interface {
	Send(v any) error
	Close() error
}

// Hub is the process-wide channel registry. It is injected into the
// services that push events; access to the map is serialized by the
// mutex because connect/disconnect/send arrive from many handlers.
type Hub struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]Channel
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	return &Hub{channels: make(map[uuid.UUID]Channel), logger: logger}
}

// Connect registers ch for the user, replacing and closing any channel
// already held. Single-session policy: no multi-device fan-out.
func (h *Hub) Connect(userID uuid.UUID, ch Channel) {
	h.mu.Lock()
	prev := h.channels[userID]
	h.channels[userID] = ch
	n := len(h.channels)
	h.mu.Unlock()

	if prev != nil && prev != ch {
		_ = prev.Close()
	}
	observability.LiveChannels.Set(float64(n))
	h.logger.Debug("live channel connected", "user_id", userID)
}

// Disconnect removes the mapping only if it still holds ch, so a stale
// disconnect from a superseded session cannot clobber the newer one.
func (h *Hub) Disconnect(userID uuid.UUID, ch Channel) {
	h.mu.Lock()
	if h.channels[userID] == ch {
		delete(h.channels, userID)
	}
	n := len(h.channels)
	h.mu.Unlock()

	observability.LiveChannels.Set(float64(n))
	h.logger.Debug("live channel disconnected", "user_id", userID)
}

// Send pushes an event to the user's channel if one is registered.
// No channel, or a write failure, is a silent no-op: delivery is a
// hint, not a guarantee, and never affects committed state.
func (h *Hub) Send(userID uuid.UUID, event any) {
	h.mu.RLock()
	ch := h.channels[userID]
	h.mu.RUnlock()

	if ch == nil {
		observability.NotificationsDropped.Inc()
		return
	}
	if err := ch.Send(event); err != nil {
		observability.NotificationsDropped.Inc()
		h.logger.Warn("live channel send failed", "user_id", userID, "error", err)
	}
}

// Len reports the number of registered channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
