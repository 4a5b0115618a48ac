// internal/gateway/gateway.go
package gateway

import (
	"context"
	"strings"

	"outreach-engine/internal/models"
)

// OutboundMessage is the transport-neutral envelope every gateway
// accepts. Address is the provider-specific recipient id (chat id,
// phone number).
type OutboundMessage struct {
	Address    string
	ContactID  string
	CampaignID string
	Segment    models.Segment
	TemplateID string
	Body       string
}

// IncomingHandler receives inbound messages (consent replies,
// responses) from the provider.
type IncomingHandler func(ctx context.Context, contactID, text string)

// DeliveredHandler receives carrier delivery acks for previously sent
// messages.
type DeliveredHandler func(ctx context.Context, contactID, messageID string)

// MessagingGateway abstracts the outbound provider. Implementations
// must be safe for concurrent use by dispatch workers.
type MessagingGateway interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
	OnIncoming(handler IncomingHandler)
	OnDelivered(handler DeliveredHandler)
	HealthCheck(ctx context.Context) error
	Name() string
}

// Templates maps template ids to body text. "{{name}}" in a body is
// replaced with the contact's name at render time.
type Templates map[string]string

// Render produces the message body for a template. Unknown template
// ids fall back to the id itself so a misconfigured template is
// visible in the message, not a silent drop.
func (t Templates) Render(templateID, contactName string) string {
	body, ok := t[templateID]
	if !ok {
		return templateID
	}
	return strings.ReplaceAll(body, "{{name}}", contactName)
}

// ContactResolver turns a contact id into current contact state for
// rendering and addressing.
type ContactResolver interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// JobSender adapts a MessagingGateway to the dispatcher's send
// surface, rendering the template per contact on the way out.
type JobSender struct {
	gateway   MessagingGateway
	templates Templates
	contacts  ContactResolver
}

func NewJobSender(gw MessagingGateway, templates Templates, contacts ContactResolver) *JobSender {
	return &JobSender{gateway: gw, templates: templates, contacts: contacts}
}

func (s *JobSender) Send(ctx context.Context, job *models.DispatchJob) (string, error) {
	contact, err := s.contacts.GetContact(ctx, job.ContactID)
	if err != nil {
		return "", err
	}
	return s.gateway.Send(ctx, OutboundMessage{
		Address:    contact.ID,
		ContactID:  contact.ID,
		CampaignID: job.CampaignID,
		Segment:    job.Segment,
		TemplateID: job.TemplateID,
		Body:       s.templates.Render(job.TemplateID, contact.Name),
	})
}

// RequestSender adapts a MessagingGateway to the consent gate's
// request surface.
type RequestSender struct {
	gateway MessagingGateway
}

func NewRequestSender(gw MessagingGateway) *RequestSender {
	return &RequestSender{gateway: gw}
}

func (s *RequestSender) Send(ctx context.Context, contactID, templateID, body string) (string, error) {
	return s.gateway.Send(ctx, OutboundMessage{
		Address:    contactID,
		ContactID:  contactID,
		TemplateID: templateID,
		Body:       body,
	})
}
