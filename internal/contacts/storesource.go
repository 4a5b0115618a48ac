// internal/contacts/storesource.go
package contacts

import (
	"context"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// ContactLister is the store slice this source reads from.
type ContactLister interface {
	ListContacts(ctx context.Context) ([]*models.Contact, error)
}

// StoreSource loads the contact base back out of the engine's own
// store, for re-engagement campaigns over previously imported
// contacts.
type StoreSource struct {
	lister ContactLister
	logger logger.Logger
}

func NewStoreSource(lister ContactLister, log logger.Logger) *StoreSource {
	return &StoreSource{lister: lister, logger: log}
}

func (s *StoreSource) Name() string { return "store" }

func (s *StoreSource) LoadContacts(ctx context.Context, criteria Criteria) ([]*models.Contact, error) {
	all, err := s.lister.ListContacts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Contact, 0, len(all))
	for _, contact := range all {
		if criteria.ExcludeOptOut && contact.ConsentState == models.ConsentOptedOut {
			continue
		}
		out = append(out, contact)
		if criteria.Limit > 0 && len(out) >= criteria.Limit {
			break
		}
	}

	s.logger.Debug("Contacts loaded from store", map[string]interface{}{
		"total":    len(all),
		"selected": len(out),
	})
	return out, nil
}
