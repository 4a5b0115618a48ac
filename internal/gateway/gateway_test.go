// internal/gateway/gateway_test.go
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// ==========================================================================
// TEMPLATE RENDERING
// ==========================================================================

func TestTemplates_Render(t *testing.T) {
	templates := Templates{
		"tmpl-offer": "Hi {{name}}, we have a 20% offer for you.",
		"tmpl-plain": "No placeholders here.",
	}

	assert.Equal(t, "Hi Ana, we have a 20% offer for you.", templates.Render("tmpl-offer", "Ana"))
	assert.Equal(t, "No placeholders here.", templates.Render("tmpl-plain", "Ana"))
	assert.Equal(t, "tmpl-missing", templates.Render("tmpl-missing", "Ana"),
		"unknown template ids must surface in the body, not vanish")
}

// ==========================================================================
// HTTP GATEWAY
// ==========================================================================

func TestHTTPGateway_Send(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody sendTextRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"id": "wa-msg-123"})
	}))
	defer server.Close()

	gw := NewHTTPGateway(HTTPConfig{
		BaseURL: server.URL,
		APIKey:  "secret-key",
		Session: "outreach",
		Timeout: 5 * time.Second,
	}, logger.NewTestLogger(t))

	messageID, err := gw.Send(context.Background(), OutboundMessage{
		Address:   "5511999990000@c.us",
		ContactID: "c-1",
		Body:      "Hello there",
	})
	require.NoError(t, err)

	assert.Equal(t, "wa-msg-123", messageID)
	assert.Equal(t, "/api/sendText", gotPath)
	assert.Equal(t, "secret-key", gotAPIKey)
	assert.Equal(t, "outreach", gotBody.Session)
	assert.Equal(t, "5511999990000@c.us", gotBody.ChatID)
	assert.Equal(t, "Hello there", gotBody.Text)
}

func TestHTTPGateway_SendErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  errors.ErrorCode
		retryable bool
	}{
		{"unknown number is permanent", http.StatusNotFound, errors.ErrCodeInvalidRecipient, false},
		{"malformed request is permanent", http.StatusBadRequest, errors.ErrCodeInvalidRecipient, false},
		{"rejected payload is permanent", http.StatusUnprocessableEntity, errors.ErrCodeMessageRejected, false},
		{"throttling is transient", http.StatusTooManyRequests, errors.ErrCodeMessageSendFailed, true},
		{"server fault is transient", http.StatusInternalServerError, errors.ErrCodeMessageSendFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"provider said no"}`, tt.status)
			}))
			defer server.Close()

			gw := NewHTTPGateway(HTTPConfig{BaseURL: server.URL}, logger.NewTestLogger(t))

			_, err := gw.Send(context.Background(), OutboundMessage{Address: "x", ContactID: "c-1"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestHTTPGateway_HealthCheck(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(HTTPConfig{BaseURL: server.URL}, logger.NewTestLogger(t))

	require.NoError(t, gw.HealthCheck(context.Background()))

	healthy = false
	assert.Error(t, gw.HealthCheck(context.Background()))
}

func TestHTTPGateway_WebhookForwardsIncoming(t *testing.T) {
	gw := NewHTTPGateway(HTTPConfig{BaseURL: "http://unused"}, logger.NewTestLogger(t))

	var gotFrom, gotText string
	gw.OnIncoming(func(ctx context.Context, contactID, text string) {
		gotFrom, gotText = contactID, text
	})

	body := `{"event":"message","payload":{"from":"5511999990000@c.us","body":"SIM"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	gw.WebhookHandler()(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "5511999990000@c.us", gotFrom)
	assert.Equal(t, "SIM", gotText)

	// Non-message events are acknowledged and ignored.
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event":"session.status"}`))
	rec = httptest.NewRecorder()
	gotFrom = ""
	gw.WebhookHandler()(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, gotFrom)
}

func TestHTTPGateway_WebhookForwardsDeliveryAcks(t *testing.T) {
	gw := NewHTTPGateway(HTTPConfig{BaseURL: "http://unused"}, logger.NewTestLogger(t))

	var gotContact, gotMessage string
	gw.OnDelivered(func(ctx context.Context, contactID, messageID string) {
		gotContact, gotMessage = contactID, messageID
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()
		gw.WebhookHandler()(rec, req)
		return rec
	}

	rec := post(`{"event":"message.ack","payload":{"id":"wa-1","to":"5511999990000@c.us","ackName":"DELIVERED"}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "5511999990000@c.us", gotContact)
	assert.Equal(t, "wa-1", gotMessage)

	// READ implies delivery too.
	gotContact, gotMessage = "", ""
	post(`{"event":"message.ack","payload":{"id":"wa-2","to":"5511999990000@c.us","ackName":"READ"}}`)
	assert.Equal(t, "wa-2", gotMessage)

	// Server-side acks below delivery are ignored.
	gotContact, gotMessage = "", ""
	post(`{"event":"message.ack","payload":{"id":"wa-3","to":"5511999990000@c.us","ackName":"SERVER"}}`)
	assert.Empty(t, gotMessage)

	// The plain delivered event form works as well.
	post(`{"event":"message_delivered","payload":{"id":"wa-4","to":"5511999990000@c.us"}}`)
	assert.Equal(t, "wa-4", gotMessage)
}

// ==========================================================================
// NULL GATEWAY AND ADAPTERS
// ==========================================================================

func TestNullGateway_InjectDrivesHandler(t *testing.T) {
	null := NewNullGateway(logger.NewTestLogger(t))

	var got []string
	null.OnIncoming(func(ctx context.Context, contactID, text string) {
		got = append(got, contactID+":"+text)
	})
	null.Inject(context.Background(), "c-1", "NAO")

	assert.Equal(t, []string{"c-1:NAO"}, got)
}

type staticContacts map[string]*models.Contact

func (s staticContacts) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	return s[id], nil
}

func TestJobSender_RendersPerContact(t *testing.T) {
	null := NewNullGateway(logger.NewTestLogger(t))
	sender := NewJobSender(null,
		Templates{"tmpl-1": "Hello {{name}}!"},
		staticContacts{"c-1": {ID: "c-1", Name: "Bruno"}},
	)

	messageID, err := sender.Send(context.Background(), &models.DispatchJob{
		ID:         "job-1",
		ContactID:  "c-1",
		CampaignID: "camp-1",
		Segment:    models.SegmentHigh,
		TemplateID: "tmpl-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)

	msgs := null.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello Bruno!", msgs[0].Body)
	assert.Equal(t, "camp-1", msgs[0].CampaignID)
	assert.Equal(t, models.SegmentHigh, msgs[0].Segment)
}

func TestRequestSender_ForwardsBody(t *testing.T) {
	null := NewNullGateway(logger.NewTestLogger(t))
	sender := NewRequestSender(null)

	_, err := sender.Send(context.Background(), "c-9", "tmpl-consent", "Do you accept? Reply SIM or NAO.")
	require.NoError(t, err)

	msgs := null.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "c-9", msgs[0].Address)
	assert.Equal(t, "Do you accept? Reply SIM or NAO.", msgs[0].Body)
}
