// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/models"
)

// MemoryStore keeps everything in process memory. Used in development
// mode and as a test double; it implements the same Store contract as
// the Postgres store, including copy-on-read semantics.
type MemoryStore struct {
	mu          sync.RWMutex
	contacts    map[string]*models.Contact
	campaigns   map[string]*models.Campaign
	assignments map[string]string // testID + "|" + contactID -> variant
	sequences   map[string]*models.FollowUpSequence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:    make(map[string]*models.Contact),
		campaigns:   make(map[string]*models.Campaign),
		assignments: make(map[string]string),
		sequences:   make(map[string]*models.FollowUpSequence),
	}
}

func (s *MemoryStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[id]
	if !ok {
		return nil, errors.NewContactMalformedError("contact not found: " + id)
	}
	copied := *contact
	return &copied, nil
}

func (s *MemoryStore) SaveContact(ctx context.Context, contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *contact
	s.contacts[contact.ID] = &copied
	return nil
}

func (s *MemoryStore) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Contact, 0, len(s.contacts))
	for _, contact := range s.contacts {
		copied := *contact
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveCampaign(ctx context.Context, campaign *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *campaign
	s.campaigns[campaign.ID] = &copied
	return nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	campaign, ok := s.campaigns[id]
	if !ok {
		return nil, errors.NewCampaignNotFoundError(id)
	}
	copied := *campaign
	return &copied, nil
}

func (s *MemoryStore) RecordAssignment(ctx context.Context, testID, contactID, variant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := testID + "|" + contactID
	if _, ok := s.assignments[key]; !ok {
		s.assignments[key] = variant
	}
	return nil
}

// Assignment reports the recorded variant for a test/contact pair.
func (s *MemoryStore) Assignment(testID, contactID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	variant, ok := s.assignments[testID+"|"+contactID]
	return variant, ok
}

func (s *MemoryStore) SaveSequence(ctx context.Context, sequence *models.FollowUpSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sequence
	copied.Steps = append([]models.FollowUpStep(nil), sequence.Steps...)
	s.sequences[sequence.ID] = &copied
	return nil
}

func (s *MemoryStore) ListActiveSequences(ctx context.Context) ([]*models.FollowUpSequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.FollowUpSequence
	for _, sequence := range s.sequences {
		if sequence.Status != models.SequenceActive {
			continue
		}
		copied := *sequence
		copied.Steps = append([]models.FollowUpStep(nil), sequence.Steps...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSequence returns the stored sequence or nil when absent.
func (s *MemoryStore) GetSequence(id string) *models.FollowUpSequence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sequence, ok := s.sequences[id]
	if !ok {
		return nil
	}
	copied := *sequence
	copied.Steps = append([]models.FollowUpStep(nil), sequence.Steps...)
	return &copied
}
