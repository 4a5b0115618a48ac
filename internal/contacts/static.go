// internal/contacts/static.go
package contacts

import (
	"context"

	"outreach-engine/internal/models"
)

// StaticSource serves a fixed contact list, for tests and dry runs.
type StaticSource struct {
	contacts []*models.Contact
}

func NewStaticSource(contacts ...*models.Contact) *StaticSource {
	return &StaticSource{contacts: contacts}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) LoadContacts(ctx context.Context, criteria Criteria) ([]*models.Contact, error) {
	out := make([]*models.Contact, 0, len(s.contacts))
	for _, contact := range s.contacts {
		if criteria.ExcludeOptOut && contact.ConsentState == models.ConsentOptedOut {
			continue
		}
		out = append(out, contact)
		if criteria.Limit > 0 && len(out) >= criteria.Limit {
			break
		}
	}
	return out, nil
}
