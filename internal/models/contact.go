// internal/models/contact.go
package models

import "time"

// ConsentState tracks where a contact sits in the consent lifecycle.
// OPTED_OUT is terminal; contacts are never deleted, only marked.
type ConsentState string

const (
	ConsentUnknown   ConsentState = "UNKNOWN"
	ConsentRequested ConsentState = "REQUESTED"
	ConsentGranted   ConsentState = "GRANTED"
	ConsentDenied    ConsentState = "DENIED"
	ConsentOptedOut  ConsentState = "OPTED_OUT"
)

type Contact struct {
	ID             string       `json:"id"` // stable opaque handle, e.g. phone number
	Name           string       `json:"name"`
	RegisteredAt   time.Time    `json:"registeredAt"`
	Segment        Segment      `json:"segment"`
	ConsentState   ConsentState `json:"consentState"`
	OptOutReason   string       `json:"optOutReason,omitempty"`
	Interactions   int          `json:"interactions"`
	LastResponseAt time.Time    `json:"lastResponseAt,omitempty"`
	ConvertedAt    time.Time    `json:"convertedAt,omitempty"`
}

// DaysSinceRegistration reports full days elapsed since the contact
// registered, as seen at the given instant. A zero registration time
// yields -1 so callers can treat the record as malformed.
func (c *Contact) DaysSinceRegistration(now time.Time) int {
	if c.RegisteredAt.IsZero() || c.RegisteredAt.After(now) {
		return -1
	}
	return int(now.Sub(c.RegisteredAt).Hours() / 24)
}

func (c *Contact) Converted() bool {
	return !c.ConvertedAt.IsZero()
}

// ContactRecord is the raw row shape delivered by the contact source
// collaborator before classification.
type ContactRecord struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	RegisteredAt   time.Time `json:"registeredAt"`
	Interactions   int       `json:"interactions,omitempty"`
	LastResponseAt time.Time `json:"lastResponseAt,omitempty"`
}
