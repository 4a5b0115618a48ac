// internal/campaign/manager.go

// Package campaign owns the campaign lifecycle: loading contacts from a
// source, classifying them, requesting consent where missing, assigning
// A/B variants, queueing dispatch jobs, creating follow-up sequences,
// and detecting completion.
package campaign

import (
	"context"
	"strings"
	"sync"
	"time"

	"outreach-engine/internal/abtest"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/consent"
	"outreach-engine/internal/contacts"
	"outreach-engine/internal/events"
	"outreach-engine/internal/models"
	"outreach-engine/internal/segmentation"
	"outreach-engine/internal/workflow"

	"github.com/google/uuid"
)

// Store is the persistence slice the manager needs.
type Store interface {
	SaveContact(ctx context.Context, contact *models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	SaveCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
}

// JobSubmitter queues dispatch jobs. Satisfied by dispatch.Dispatcher.
type JobSubmitter interface {
	Enqueue(jobs ...*models.DispatchJob)
	QueueDepth() int
}

// ConsentGate is the consent surface the manager drives directly.
type ConsentGate interface {
	RequestConsent(ctx context.Context, contact *models.Contact) error
	RecordResponse(ctx context.Context, contact *models.Contact, text string) error
	OptOut(ctx context.Context, contact *models.Contact, reason string) error
}

// SequenceCreator pre-schedules follow-ups. Satisfied by
// followup.Scheduler.
type SequenceCreator interface {
	CreateSequence(ctx context.Context, contact *models.Contact, campaignID string) (*models.FollowUpSequence, error)
	ActiveCount() int
}

// CompletionListener is told when a campaign finishes. Satisfied by
// monitor.Monitor.
type CompletionListener interface {
	CampaignCompleted(ctx context.Context, campaignID string)
}

// LaunchSpec describes one campaign start request.
type LaunchSpec struct {
	Name      string
	Segments  []models.Segment          // empty means all segments
	Templates map[models.Segment]string // fallback template per segment
	Criteria  contacts.Criteria
}

// LaunchSummary reports what a launch produced.
type LaunchSummary struct {
	CampaignID       string
	Loaded           int
	Queued           map[models.Segment]int
	ConsentRequested int
	Skipped          int
	Sequences        int
}

// Incoming text that always opts the contact out, regardless of
// consent state. Portuguese forms first; the audience is Brazilian.
var optOutForms = map[string]bool{
	"SAIR": true, "PARAR": true, "CANCELAR": true,
	"STOP": true, "UNSUBSCRIBE": true,
}

// Incoming text treated as a conversion signal.
var conversionForms = map[string]bool{
	"QUERO": true, "COMPRAR": true, "ACEITO": true,
}

type Manager struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
	// contactCampaigns maps a contact to the campaign that last reached
	// them, so inbound responses and delivery acks can be attributed.
	contactCampaigns map[string]string
	testIDs          []string

	classifier *segmentation.Classifier
	tests      *abtest.Engine
	store      Store
	source     contacts.Source
	gate       ConsentGate
	dispatcher JobSubmitter
	followups  SequenceCreator
	completion CompletionListener
	trigger    *workflow.Trigger
	bus        *events.Bus
	logger     logger.Logger

	now func() time.Time
}

func NewManager(
	classifier *segmentation.Classifier,
	tests *abtest.Engine,
	store Store,
	source contacts.Source,
	gate ConsentGate,
	dispatcher JobSubmitter,
	followups SequenceCreator,
	completion CompletionListener,
	trigger *workflow.Trigger,
	bus *events.Bus,
	log logger.Logger,
) *Manager {
	m := &Manager{
		campaigns:        make(map[string]*models.Campaign),
		contactCampaigns: make(map[string]string),
		classifier:       classifier,
		tests:            tests,
		store:            store,
		source:           source,
		gate:             gate,
		dispatcher:       dispatcher,
		followups:        followups,
		completion:       completion,
		trigger:          trigger,
		bus:              bus,
		logger:           log,
		now:              time.Now,
	}

	// Counters are folded from the same bus stream the monitor sees,
	// so the persisted campaign record matches the monitor's view.
	bus.SubscribeAll(m.onEvent)

	return m
}

// CreateTest registers an A/B test and tracks it for periodic
// finalization.
func (m *Manager) CreateTest(test *models.ABTest) error {
	if err := m.tests.CreateTest(test); err != nil {
		return err
	}
	m.mu.Lock()
	m.testIDs = append(m.testIDs, test.ID)
	m.mu.Unlock()
	return nil
}

// Launch runs the full intake pipeline for one campaign: load,
// classify, persist, request consent, assign variants, queue dispatch
// jobs, create follow-up sequences.
func (m *Manager) Launch(ctx context.Context, spec LaunchSpec) (*LaunchSummary, error) {
	loaded, err := m.source.LoadContacts(ctx, spec.Criteria)
	if err != nil {
		return nil, err
	}

	now := m.now()
	campaign := &models.Campaign{
		ID:        uuid.New().String(),
		Name:      spec.Name,
		Segments:  spec.Segments,
		Status:    models.CampaignActive,
		CreatedAt: now,
	}

	wanted := make(map[models.Segment]bool, len(spec.Segments))
	for _, seg := range spec.Segments {
		wanted[seg] = true
	}

	summary := &LaunchSummary{
		CampaignID: campaign.ID,
		Loaded:     len(loaded),
		Queued:     make(map[models.Segment]int),
	}

	var jobs []*models.DispatchJob
	for _, contact := range loaded {
		contact.Segment = m.classifier.Classify(contact, now)
		if err := m.store.SaveContact(ctx, contact); err != nil {
			m.logger.Warn("Contact persist failed during launch", map[string]interface{}{
				"contactId": contact.ID,
				"error":     err.Error(),
			})
		}

		if len(wanted) > 0 && !wanted[contact.Segment] {
			summary.Skipped++
			continue
		}

		// Anything the campaign touches, including consent requests,
		// attributes later replies to this campaign.
		m.mu.Lock()
		m.contactCampaigns[contact.ID] = campaign.ID
		m.mu.Unlock()

		if contact.ConsentState == models.ConsentUnknown {
			if err := m.gate.RequestConsent(ctx, contact); err != nil {
				m.logger.Warn("Consent request failed", map[string]interface{}{
					"contactId": contact.ID,
					"error":     err.Error(),
				})
			} else {
				summary.ConsentRequested++
			}
			// Not dispatchable until the contact answers. The gate
			// would block the send anyway; skipping avoids queue noise.
			summary.Skipped++
			continue
		}

		job := m.buildJob(ctx, campaign, contact, spec.Templates)
		jobs = append(jobs, job)
		summary.Queued[contact.Segment]++

		if _, err := m.followups.CreateSequence(ctx, contact, campaign.ID); err != nil {
			m.logger.Warn("Follow-up sequence creation failed", map[string]interface{}{
				"contactId": contact.ID,
				"error":     err.Error(),
			})
		} else {
			summary.Sequences++
		}
	}

	m.dispatcher.Enqueue(jobs...)

	if err := m.store.SaveCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.campaigns[campaign.ID] = campaign
	m.mu.Unlock()

	m.logger.Info("Campaign launched", map[string]interface{}{
		"campaignId": campaign.ID,
		"name":       campaign.Name,
		"loaded":     summary.Loaded,
		"queued":     len(jobs),
		"skipped":    summary.Skipped,
	})
	return summary, nil
}

// buildJob resolves the template for a contact: active A/B test for the
// segment wins, then the finalized segment default, then the launch
// spec's fallback.
func (m *Manager) buildJob(ctx context.Context, campaign *models.Campaign, contact *models.Contact, fallbacks map[models.Segment]string) *models.DispatchJob {
	job := &models.DispatchJob{
		ID:         uuid.New().String(),
		ContactID:  contact.ID,
		CampaignID: campaign.ID,
		Segment:    contact.Segment,
		TemplateID: fallbacks[contact.Segment],
	}

	if test, ok := m.tests.ActiveTestForSegment(contact.Segment); ok {
		variant, err := m.tests.AssignVariant(ctx, test.ID, contact.ID)
		if err == nil {
			job.TestID = test.ID
			job.Variant = variant
			if variant == test.VariantA.Name {
				job.TemplateID = test.VariantA.TemplateID
			} else {
				job.TemplateID = test.VariantB.TemplateID
			}
			return job
		}
		m.logger.Warn("Variant assignment failed", map[string]interface{}{
			"testId":    test.ID,
			"contactId": contact.ID,
			"error":     err.Error(),
		})
	}

	if tmpl, ok := m.tests.SegmentDefault(contact.Segment); ok {
		job.TemplateID = tmpl
	}
	return job
}

// HandleIncoming routes an inbound message: opt-out keywords first,
// then pending consent replies, then conversion keywords, otherwise a
// plain response. Wired to the gateway's OnIncoming callback.
func (m *Manager) HandleIncoming(ctx context.Context, contactID, text string) {
	contact, err := m.store.GetContact(ctx, contactID)
	if err != nil {
		m.logger.Warn("Incoming message from unknown contact", map[string]interface{}{
			"contactId": contactID,
		})
		return
	}

	normalized := strings.ToUpper(strings.TrimSpace(text))

	if optOutForms[normalized] {
		if err := m.gate.OptOut(ctx, contact, "keyword: "+normalized); err != nil {
			m.logger.Error("Opt-out failed", map[string]interface{}{
				"contactId": contactID,
				"error":     err.Error(),
			})
		}
		return
	}

	if contact.ConsentState == models.ConsentRequested {
		err := m.gate.RecordResponse(ctx, contact, text)
		if err == nil {
			return
		}
		if err != consent.ErrInvalidResponse {
			m.logger.Error("Consent response handling failed", map[string]interface{}{
				"contactId": contactID,
				"error":     err.Error(),
			})
			return
		}
		// Unrecognized reply while consent is pending falls through
		// to plain response handling.
	}

	now := m.now()
	contact.LastResponseAt = now
	contact.Interactions++

	eventType := models.EventResponseReceived
	if conversionForms[normalized] && !contact.Converted() {
		contact.ConvertedAt = now
		eventType = models.EventConversion
	}

	if err := m.store.SaveContact(ctx, contact); err != nil {
		m.logger.Error("Contact update failed on incoming message", map[string]interface{}{
			"contactId": contactID,
			"error":     err.Error(),
		})
		return
	}

	campaignID, testID := m.attribution(contact)
	m.bus.Publish(ctx, models.Event{
		Type:       eventType,
		CampaignID: campaignID,
		ContactID:  contact.ID,
		Segment:    contact.Segment,
		TestID:     testID,
		Payload:    text,
		OccurredAt: now,
	})
}

// HandleDelivered folds a carrier delivery ack into the campaign
// counters. Wired to the gateway's OnDelivered callback.
func (m *Manager) HandleDelivered(ctx context.Context, contactID, messageID string) {
	contact, err := m.store.GetContact(ctx, contactID)
	if err != nil {
		m.logger.Debug("Delivery ack for unknown contact", map[string]interface{}{
			"contactId": contactID,
			"messageId": messageID,
		})
		return
	}

	campaignID, testID := m.attribution(contact)
	m.bus.Publish(ctx, models.Event{
		Type:       models.EventMessageDelivered,
		CampaignID: campaignID,
		ContactID:  contact.ID,
		Segment:    contact.Segment,
		TestID:     testID,
		MessageID:  messageID,
		OccurredAt: m.now(),
	})
}

// attribution resolves which campaign and active A/B test an inbound
// signal from this contact belongs to.
func (m *Manager) attribution(contact *models.Contact) (campaignID, testID string) {
	m.mu.Lock()
	campaignID = m.contactCampaigns[contact.ID]
	m.mu.Unlock()
	if test, ok := m.tests.ActiveTestForSegment(contact.Segment); ok {
		testID = test.ID
	}
	return campaignID, testID
}

// onEvent folds dispatch outcomes into campaign counters and feeds the
// A/B tallies.
func (m *Manager) onEvent(ctx context.Context, evt models.Event) {
	if evt.TestID != "" {
		if _, err := m.tests.RecordEvent(evt.TestID, evt.ContactID, evt.Type); err != nil {
			m.logger.Debug("Tally update skipped", map[string]interface{}{
				"testId": evt.TestID,
				"error":  err.Error(),
			})
		}
	}

	if evt.CampaignID == "" {
		return
	}

	m.mu.Lock()
	campaign, ok := m.campaigns[evt.CampaignID]
	m.mu.Unlock()
	if !ok {
		// After a restart the in-memory map is empty; reload the
		// record so counters keep accumulating.
		loaded, err := m.store.GetCampaign(ctx, evt.CampaignID)
		if err != nil || loaded == nil {
			return
		}
		m.mu.Lock()
		if existing, dup := m.campaigns[evt.CampaignID]; dup {
			campaign = existing
		} else {
			m.campaigns[evt.CampaignID] = loaded
			campaign = loaded
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch evt.Type {
	case models.EventMessageSent:
		campaign.Counters.Sent++
	case models.EventMessageDelivered:
		campaign.Counters.Delivered++
	case models.EventResponseReceived:
		campaign.Counters.Responded++
	case models.EventConversion:
		campaign.Counters.Converted++
	case models.EventSendError:
		campaign.Counters.Errored++
	case models.EventSendDeferred:
		campaign.Counters.Deferred++
	}
}

// CheckCompletion marks active campaigns COMPLETED once the dispatch
// queue and all follow-up sequences have drained.
func (m *Manager) CheckCompletion(ctx context.Context) []string {
	if m.dispatcher.QueueDepth() > 0 || m.followups.ActiveCount() > 0 {
		return nil
	}

	m.mu.Lock()
	var done []*models.Campaign
	for _, campaign := range m.campaigns {
		if campaign.Status == models.CampaignActive {
			campaign.Status = models.CampaignCompleted
			campaign.UpdatedAt = m.now()
			done = append(done, campaign)
		}
	}
	m.mu.Unlock()

	var ids []string
	for _, campaign := range done {
		if err := m.store.SaveCampaign(ctx, campaign); err != nil {
			m.logger.Error("Campaign completion persist failed", map[string]interface{}{
				"campaignId": campaign.ID,
				"error":      err.Error(),
			})
		}
		if m.completion != nil {
			m.completion.CampaignCompleted(ctx, campaign.ID)
		}
		ids = append(ids, campaign.ID)
	}
	return ids
}

// FinalizeTests runs auto-finalization over every registered test and
// notifies the workflow trigger for each newly concluded one.
func (m *Manager) FinalizeTests(ctx context.Context) []string {
	m.mu.Lock()
	ids := append([]string(nil), m.testIDs...)
	m.mu.Unlock()

	now := m.now()
	var concluded []string
	for _, id := range ids {
		finalized, err := m.tests.MaybeFinalize(id, now)
		if err != nil || !finalized {
			continue
		}
		concluded = append(concluded, id)

		eval, evalErr := m.tests.Evaluate(id)
		if evalErr == nil {
			if err := m.trigger.TestConcluded(ctx, id, eval.Leader, eval.PValue); err != nil {
				m.logger.Warn("Test conclusion trigger failed", map[string]interface{}{
					"testId": id,
					"error":  err.Error(),
				})
			}
		}
	}
	return concluded
}

// Run drives the periodic lifecycle work until the context ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.FinalizeTests(ctx)
			m.CheckCompletion(ctx)
		}
	}
}

// Campaign returns the live campaign record, or nil when unknown.
func (m *Manager) Campaign(id string) *models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return nil
	}
	copied := *campaign
	return &copied
}
