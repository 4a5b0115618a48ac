// internal/consent/gate.go
package consent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/events"
	"outreach-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// DenyReason is the typed outcome attached to a blocked send. Blocks
// are normal outcomes of the gate, never errors.
type DenyReason string

const (
	DenyNotGranted       DenyReason = "LGPD_NOT_GRANTED"
	DenyOptedOut         DenyReason = "LGPD_OPTED_OUT"
	DenyFrequencyCapped  DenyReason = "LGPD_FREQUENCY_CAPPED"
	DenyRetentionExpired DenyReason = "LGPD_RETENTION_EXPIRED"
)

// Decision is the result of a CanSend evaluation.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

// ErrInvalidResponse is returned when a consent reply matches neither
// accepted affirmative nor negative forms.
var ErrInvalidResponse = fmt.Errorf("consent response not recognized")

// ContactStore is the slice of the store the gate needs.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
}

// RequestSender delivers the consent-request message. Satisfied by the
// gateway collaborator.
type RequestSender interface {
	Send(ctx context.Context, contactID, templateID, body string) (string, error)
}

// Gate enforces the consent state machine and per-contact frequency
// caps. Cap counters live in Redis so concurrent dispatch workers see a
// consistent count.
type Gate struct {
	store         ContactStore
	sender        RequestSender
	redis         *redis.Client
	bus           *events.Bus
	logger        logger.Logger
	maxPerDay     int
	maxPerWeek    int
	retentionDays int
	requestTmpl   string
}

type GateConfig struct {
	MaxPerDay         int
	MaxPerWeek        int
	RetentionDays     int
	RequestTemplateID string
}

func NewGate(store ContactStore, sender RequestSender, rdb *redis.Client, bus *events.Bus, cfg GateConfig, log logger.Logger) *Gate {
	if cfg.MaxPerDay == 0 {
		cfg.MaxPerDay = 1
	}
	if cfg.MaxPerWeek == 0 {
		cfg.MaxPerWeek = 3
	}
	return &Gate{
		store:         store,
		sender:        sender,
		redis:         rdb,
		bus:           bus,
		logger:        log,
		maxPerDay:     cfg.MaxPerDay,
		maxPerWeek:    cfg.MaxPerWeek,
		retentionDays: cfg.RetentionDays,
		requestTmpl:   cfg.RequestTemplateID,
	}
}

// Accepted consent reply forms, both English and Portuguese since the
// LGPD audience replies in either.
var (
	affirmativeForms = map[string]bool{"YES": true, "Y": true, "SIM": true, "S": true}
	negativeForms    = map[string]bool{"NO": true, "N": true, "NAO": true, "NÃO": true}
)

// RequestConsent moves UNKNOWN contacts to REQUESTED and sends the
// consent-request template. Idempotent: contacts already past UNKNOWN
// are left untouched.
func (g *Gate) RequestConsent(ctx context.Context, contact *models.Contact) error {
	if contact.ConsentState != models.ConsentUnknown {
		return nil
	}

	if _, err := g.sender.Send(ctx, contact.ID, g.requestTmpl, ""); err != nil {
		return err
	}

	contact.ConsentState = models.ConsentRequested
	if err := g.store.SaveContact(ctx, contact); err != nil {
		return err
	}

	g.logger.Info("Consent requested", map[string]interface{}{
		"contactId": contact.ID,
	})
	return nil
}

// RecordResponse interprets a consent reply. Only REQUESTED contacts
// can answer; any other state returns ErrInvalidResponse so an opt-out
// or a prior decision cannot be overwritten through this path.
// Unrecognized text also leaves the state unchanged.
func (g *Gate) RecordResponse(ctx context.Context, contact *models.Contact, text string) error {
	if contact.ConsentState != models.ConsentRequested {
		return ErrInvalidResponse
	}

	normalized := strings.ToUpper(strings.TrimSpace(text))

	switch {
	case affirmativeForms[normalized]:
		contact.ConsentState = models.ConsentGranted
	case negativeForms[normalized]:
		contact.ConsentState = models.ConsentDenied
	default:
		return ErrInvalidResponse
	}

	if err := g.store.SaveContact(ctx, contact); err != nil {
		return err
	}

	g.logger.Info("Consent response recorded", map[string]interface{}{
		"contactId": contact.ID,
		"state":     string(contact.ConsentState),
	})
	return nil
}

// OptOut moves a contact to OPTED_OUT from any state. Irreversible.
// Publishes an opt-out event so the follow-up scheduler cancels the
// contact's sequences and the dispatcher drops queued jobs.
func (g *Gate) OptOut(ctx context.Context, contact *models.Contact, reason string) error {
	contact.ConsentState = models.ConsentOptedOut
	contact.OptOutReason = reason

	if err := g.store.SaveContact(ctx, contact); err != nil {
		return err
	}

	g.bus.Publish(ctx, models.Event{
		Type:       models.EventOptOut,
		ContactID:  contact.ID,
		Payload:    reason,
		OccurredAt: time.Now().UTC(),
	})

	g.logger.Info("Contact opted out", map[string]interface{}{
		"contactId": contact.ID,
		"reason":    reason,
	})
	return nil
}

// CanSend decides whether a message may go to the contact right now.
// The decision is evaluated fresh on every call; cap counters are read
// from Redis, not cached.
func (g *Gate) CanSend(ctx context.Context, contact *models.Contact) (Decision, error) {
	if contact.ConsentState == models.ConsentOptedOut {
		return Decision{Allowed: false, Reason: DenyOptedOut}, nil
	}
	if contact.ConsentState != models.ConsentGranted {
		return Decision{Allowed: false, Reason: DenyNotGranted}, nil
	}

	if g.retentionDays > 0 {
		ref := contact.RegisteredAt
		if contact.LastResponseAt.After(ref) {
			ref = contact.LastResponseAt
		}
		if !ref.IsZero() && time.Since(ref) > time.Duration(g.retentionDays)*24*time.Hour {
			return Decision{Allowed: false, Reason: DenyRetentionExpired}, nil
		}
	}

	dayCount, err := g.redis.Get(ctx, g.dayKey(contact.ID)).Int()
	if err != nil && err != redis.Nil {
		return Decision{}, err
	}
	if dayCount >= g.maxPerDay {
		return Decision{Allowed: false, Reason: DenyFrequencyCapped}, nil
	}

	weekCount, err := g.redis.Get(ctx, g.weekKey(contact.ID)).Int()
	if err != nil && err != redis.Nil {
		return Decision{}, err
	}
	if weekCount >= g.maxPerWeek {
		return Decision{Allowed: false, Reason: DenyFrequencyCapped}, nil
	}

	return Decision{Allowed: true}, nil
}

// ReserveSend claims one send slot in the day and week counters before
// the message goes out. The claim is an INCR followed by a cap check,
// so concurrent dispatch workers cannot both slip under the cap the way
// a read-then-increment would allow. Callers must ReleaseSend when the
// send fails. The expiry is set on first increment only.
func (g *Gate) ReserveSend(ctx context.Context, contactID string) (Decision, error) {
	day, err := g.redis.Incr(ctx, g.dayKey(contactID)).Result()
	if err != nil {
		return Decision{}, err
	}
	if day == 1 {
		if err := g.redis.Expire(ctx, g.dayKey(contactID), 24*time.Hour).Err(); err != nil {
			return Decision{}, err
		}
	}
	if day > int64(g.maxPerDay) {
		g.redis.Decr(ctx, g.dayKey(contactID))
		return Decision{Allowed: false, Reason: DenyFrequencyCapped}, nil
	}

	week, err := g.redis.Incr(ctx, g.weekKey(contactID)).Result()
	if err != nil {
		g.redis.Decr(ctx, g.dayKey(contactID))
		return Decision{}, err
	}
	if week == 1 {
		if err := g.redis.Expire(ctx, g.weekKey(contactID), 7*24*time.Hour).Err(); err != nil {
			return Decision{}, err
		}
	}
	if week > int64(g.maxPerWeek) {
		g.redis.Decr(ctx, g.dayKey(contactID))
		g.redis.Decr(ctx, g.weekKey(contactID))
		return Decision{Allowed: false, Reason: DenyFrequencyCapped}, nil
	}

	return Decision{Allowed: true}, nil
}

// ReleaseSend returns a reserved slot after a failed send so the
// contact's quota is not consumed by an undelivered message.
func (g *Gate) ReleaseSend(ctx context.Context, contactID string) error {
	if err := g.redis.Decr(ctx, g.dayKey(contactID)).Err(); err != nil {
		return err
	}
	return g.redis.Decr(ctx, g.weekKey(contactID)).Err()
}

func (g *Gate) dayKey(contactID string) string {
	return "consent:freq:day:" + contactID
}

func (g *Gate) weekKey(contactID string) string {
	return "consent:freq:week:" + contactID
}
