// internal/gateway/http.go
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"outreach-engine/internal/common/errors"
	httpclient "outreach-engine/internal/common/http"
	"outreach-engine/internal/common/logger"
)

// HTTPConfig configures the WAHA-style HTTP gateway.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Session string
	Timeout time.Duration
}

// HTTPGateway speaks the WAHA REST surface: POST /api/sendText per
// message, GET /api/status for health. Inbound messages arrive on the
// webhook handler.
type HTTPGateway struct {
	config    HTTPConfig
	client    *httpclient.Client
	logger    logger.Logger
	mu        sync.Mutex
	handler   IncomingHandler
	delivered DeliveredHandler
}

func NewHTTPGateway(cfg HTTPConfig, log logger.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	return &HTTPGateway{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout),
		logger: log,
	}
}

func (g *HTTPGateway) Name() string { return "http" }

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendTextResponse struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	var resp sendTextResponse
	err := g.client.PostJSON(ctx,
		g.config.BaseURL+"/api/sendText",
		g.headers(),
		sendTextRequest{
			Session: g.config.Session,
			ChatID:  msg.Address,
			Text:    msg.Body,
		},
		&resp,
	)
	if err != nil {
		return "", classifySendError(msg.ContactID, err)
	}

	g.logger.Debug("Message sent via HTTP gateway", map[string]interface{}{
		"contactId": msg.ContactID,
		"messageId": resp.ID,
	})
	return resp.ID, nil
}

// classifySendError maps provider responses onto the error taxonomy.
// A 4xx means the request itself is bad and retrying cannot help,
// except 429 which is a transient throttle. Everything else stays
// retryable.
func classifySendError(contactID string, err error) error {
	var statusErr *httpclient.StatusError
	if stderrors.As(err, &statusErr) && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests {
		if statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusBadRequest {
			return errors.NewInvalidRecipientError(contactID)
		}
		return errors.NewMessageRejectedError(contactID, statusErr.Body)
	}
	return errors.NewMessageSendFailedError(contactID, err)
}

func (g *HTTPGateway) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.BaseURL+"/api/status", nil)
	if err != nil {
		return errors.NewGatewayUnavailableError(err)
	}
	for k, v := range g.headers() {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return errors.NewGatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.NewGatewayUnavailableError(fmt.Errorf("status endpoint returned %d", resp.StatusCode))
	}
	return nil
}

func (g *HTTPGateway) OnIncoming(handler IncomingHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

func (g *HTTPGateway) OnDelivered(handler DeliveredHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = handler
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		ID      string `json:"id"`
		From    string `json:"from"`
		To      string `json:"to"`
		Body    string `json:"body"`
		AckName string `json:"ackName"`
	} `json:"payload"`
}

// WebhookHandler accepts WAHA webhook posts: "message" events carry
// inbound text, "message.ack" and "message_delivered" events carry
// delivery confirmations for messages we sent.
func (g *HTTPGateway) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		g.mu.Lock()
		handler := g.handler
		delivered := g.delivered
		g.mu.Unlock()

		switch payload.Event {
		case "message":
			if handler != nil {
				handler(r.Context(), payload.Payload.From, payload.Payload.Body)
			}
		case "message.ack", "message_delivered":
			// For acks the contact is the recipient of the original
			// message. Ack levels below DELIVERED are ignored.
			if payload.Event == "message.ack" &&
				payload.Payload.AckName != "DELIVERED" && payload.Payload.AckName != "READ" {
				break
			}
			contactID := payload.Payload.To
			if contactID == "" {
				contactID = payload.Payload.From
			}
			if delivered != nil {
				delivered(r.Context(), contactID, payload.Payload.ID)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *HTTPGateway) headers() map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	if g.config.APIKey != "" {
		headers["X-Api-Key"] = g.config.APIKey
	}
	return headers
}
