// internal/store/store.go
package store

import (
	"context"

	"outreach-engine/internal/models"
)

// Store is the durable persistence facade. The engine treats it as a
// named-field row store; no component assumes schema beyond that.
type Store interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
	ListContacts(ctx context.Context) ([]*models.Contact, error)

	SaveCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)

	RecordAssignment(ctx context.Context, testID, contactID, variant string) error
	SaveSequence(ctx context.Context, sequence *models.FollowUpSequence) error
	ListActiveSequences(ctx context.Context) ([]*models.FollowUpSequence, error)
}
