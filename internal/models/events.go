// internal/models/events.go
package models

import "time"

type EventType string

const (
	EventMessageSent      EventType = "message_sent"
	EventMessageDelivered EventType = "message_delivered"
	EventResponseReceived EventType = "response_received"
	EventConversion       EventType = "conversion"
	EventOptOut           EventType = "opt_out"
	EventSendError        EventType = "send_error"
	EventSendDeferred     EventType = "send_deferred"
)

// Event is the single envelope published on the engine bus. Components
// react to events instead of calling each other back directly.
type Event struct {
	Type       EventType `json:"type"`
	CampaignID string    `json:"campaignId"`
	ContactID  string    `json:"contactId"`
	Segment    Segment   `json:"segment,omitempty"`
	Variant    string    `json:"variant,omitempty"`
	TestID     string    `json:"testId,omitempty"`
	MessageID  string    `json:"messageId,omitempty"`
	Payload    string    `json:"payload,omitempty"` // response text, error detail
	OccurredAt time.Time `json:"occurredAt"`
}
