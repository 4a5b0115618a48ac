// internal/gateway/null.go
package gateway

import (
	"context"
	"fmt"
	"sync"

	"outreach-engine/internal/common/logger"
)

// NullGateway records messages without delivering anything. Used for
// dry runs and as the default when no provider is configured.
type NullGateway struct {
	mu        sync.Mutex
	messages  []OutboundMessage
	handler   IncomingHandler
	delivered DeliveredHandler
	logger    logger.Logger
}

func NewNullGateway(log logger.Logger) *NullGateway {
	return &NullGateway{logger: log}
}

func (g *NullGateway) Name() string { return "null" }

func (g *NullGateway) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	g.mu.Lock()
	g.messages = append(g.messages, msg)
	n := len(g.messages)
	g.mu.Unlock()

	g.logger.Debug("Message recorded by null gateway", map[string]interface{}{
		"contactId":  msg.ContactID,
		"templateId": msg.TemplateID,
	})
	return fmt.Sprintf("null-%d", n), nil
}

func (g *NullGateway) OnIncoming(handler IncomingHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

func (g *NullGateway) OnDelivered(handler DeliveredHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = handler
}

// Inject simulates an inbound message, for tests and dry runs.
func (g *NullGateway) Inject(ctx context.Context, contactID, text string) {
	g.mu.Lock()
	handler := g.handler
	g.mu.Unlock()
	if handler != nil {
		handler(ctx, contactID, text)
	}
}

// InjectDelivered simulates a delivery ack, for tests and dry runs.
func (g *NullGateway) InjectDelivered(ctx context.Context, contactID, messageID string) {
	g.mu.Lock()
	delivered := g.delivered
	g.mu.Unlock()
	if delivered != nil {
		delivered(ctx, contactID, messageID)
	}
}

func (g *NullGateway) HealthCheck(ctx context.Context) error { return nil }

// Messages returns everything recorded so far.
func (g *NullGateway) Messages() []OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]OutboundMessage(nil), g.messages...)
}
