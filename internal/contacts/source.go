// internal/contacts/source.go
package contacts

import (
	"context"

	"outreach-engine/internal/models"
)

// Criteria narrows a contact load. Zero value loads everything.
type Criteria struct {
	Limit         int
	ExcludeOptOut bool
}

// Source delivers raw contact rows for classification. Implementations
// never classify; segment assignment belongs to the classifier.
type Source interface {
	LoadContacts(ctx context.Context, criteria Criteria) ([]*models.Contact, error)
	Name() string
}
