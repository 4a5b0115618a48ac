// internal/events/bus.go
package events

import (
	"context"
	"sync"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// Handler consumes a single event. Handlers must not block; slow work
// belongs in the handler's own goroutine.
type Handler func(ctx context.Context, evt models.Event)

// Bus is an in-process publish/subscribe fan-out for engine events.
// Publish delivers synchronously in subscription order so tests can
// assert effects without sleeping.
type Bus struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]Handler
	all      []Handler
	logger   logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[models.EventType][]Handler),
		logger:   log,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t models.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers evt to all matching handlers.
func (b *Bus) Publish(ctx context.Context, evt models.Event) {
	b.mu.RLock()
	typed := append([]Handler(nil), b.handlers[evt.Type]...)
	all := append([]Handler(nil), b.all...)
	b.mu.RUnlock()

	b.logger.Debug("Event published", map[string]interface{}{
		"type":       string(evt.Type),
		"campaignId": evt.CampaignID,
		"contactId":  evt.ContactID,
	})

	for _, h := range typed {
		h(ctx, evt)
	}
	for _, h := range all {
		h(ctx, evt)
	}
}
