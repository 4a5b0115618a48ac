// internal/followup/scheduler.go
package followup

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/common/metrics"
	"outreach-engine/internal/consent"
	"outreach-engine/internal/events"
	"outreach-engine/internal/models"
)

// ==========================================================================
// COLLABORATOR INTERFACES
// ==========================================================================

// JobSubmitter hands due steps to the dispatcher.
type JobSubmitter interface {
	Enqueue(jobs ...*models.DispatchJob)
}

// ConsentChecker is re-consulted at each due step; consent state moves
// between sweeps.
type ConsentChecker interface {
	CanSend(ctx context.Context, contact *models.Contact) (consent.Decision, error)
}

// ContactLookup loads current contact state for stop-condition
// evaluation.
type ContactLookup interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// TemplateSelector picks the template for a due step. The campaign
// orchestrator wires this to the A/B engine's per-segment winners.
type TemplateSelector interface {
	Template(segment models.Segment, step models.FollowUpStep) string
}

// SequenceStore persists sequence state so a restart does not lose
// scheduled follow-ups. A nil store keeps the scheduler memory-only.
type SequenceStore interface {
	SaveSequence(ctx context.Context, sequence *models.FollowUpSequence) error
	ListActiveSequences(ctx context.Context) ([]*models.FollowUpSequence, error)
}

// StaticSelector maps segments to fixed templates, ignoring step
// position.
type StaticSelector map[models.Segment]string

func (s StaticSelector) Template(segment models.Segment, _ models.FollowUpStep) string {
	return s[segment]
}

// ==========================================================================
// SCHEDULER
// ==========================================================================

// Config carries the sweep cadence knobs. Jitter spreads sweep starts
// so multiple instances restarted together do not align.
type Config struct {
	SweepInterval      time.Duration
	SweepJitter        time.Duration
	InactivityDays     int
	ResponseCheckDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.InactivityDays <= 0 {
		c.InactivityDays = 90
	}
	if c.ResponseCheckDelay <= 0 {
		c.ResponseCheckDelay = 24 * time.Hour
	}
}

// SweepSummary reports what one sweep did.
type SweepSummary struct {
	StepsDispatched int
	StepsBlocked    int
	Stopped         int
	Completed       int
	ResponsesFound  int
}

type responseCheck struct {
	sequenceID string
	contactID  string
	campaignID string
	segment    models.Segment
	sentAt     time.Time
	dueAt      time.Time
}

// Scheduler owns every follow-up sequence: pre-scheduled steps, the
// periodic sweep and the ordered stop-condition evaluation. Sweeps are
// idempotent; a step leaves PENDING exactly once.
type Scheduler struct {
	mu        sync.Mutex
	sequences map[string]*models.FollowUpSequence
	byContact map[string][]string
	checks    []responseCheck

	policies  map[models.Segment]models.SegmentPolicy
	contacts  ContactLookup
	gate      ConsentChecker
	submitter JobSubmitter
	selector  TemplateSelector
	store     SequenceStore
	bus       *events.Bus
	logger    logger.Logger
	config    Config

	now func() time.Time
}

func NewScheduler(
	policies map[models.Segment]models.SegmentPolicy,
	contacts ContactLookup,
	gate ConsentChecker,
	submitter JobSubmitter,
	selector TemplateSelector,
	store SequenceStore,
	bus *events.Bus,
	cfg Config,
	log logger.Logger,
) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		sequences: make(map[string]*models.FollowUpSequence),
		byContact: make(map[string][]string),
		policies:  policies,
		contacts:  contacts,
		gate:      gate,
		submitter: submitter,
		selector:  selector,
		store:     store,
		bus:       bus,
		logger:    log,
		config:    cfg,
		now:       time.Now,
	}

	// Opting out must cancel pending steps immediately, not on the
	// next sweep.
	bus.Subscribe(models.EventOptOut, func(ctx context.Context, evt models.Event) {
		s.CancelForContact(ctx, evt.ContactID)
	})

	return s
}

// Restore reloads active sequences from the store after a restart.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	restored, err := s.store.ListActiveSequences(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for _, seq := range restored {
		if _, ok := s.sequences[seq.ID]; ok {
			continue
		}
		s.sequences[seq.ID] = seq
		s.byContact[seq.ContactID] = append(s.byContact[seq.ContactID], seq.ID)
	}
	s.mu.Unlock()

	if len(restored) > 0 {
		s.logger.Info("Follow-up sequences restored", map[string]interface{}{
			"count": len(restored),
		})
	}
	return len(restored), nil
}

// persist writes a sequence through to the store. Persistence errors
// do not interrupt scheduling; the in-memory state stays authoritative
// until the next successful save.
func (s *Scheduler) persist(ctx context.Context, seq *models.FollowUpSequence) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSequence(ctx, seq); err != nil {
		s.logger.Warn("Sequence persist failed", map[string]interface{}{
			"sequenceId": seq.ID,
			"error":      err.Error(),
		})
	}
}

// CreateSequence pre-schedules every step of the segment cadence for
// one contact. Each step carries an absolute due time inside the
// segment's preferred send window.
func (s *Scheduler) CreateSequence(ctx context.Context, contact *models.Contact, campaignID string) (*models.FollowUpSequence, error) {
	policy, ok := s.policies[contact.Segment]
	if !ok {
		return nil, errors.NewValidationFailedError("no policy for segment " + string(contact.Segment))
	}

	now := s.now()
	seq := &models.FollowUpSequence{
		ID:         uuid.NewString(),
		ContactID:  contact.ID,
		CampaignID: campaignID,
		Segment:    contact.Segment,
		Status:     models.SequenceActive,
		CreatedAt:  now,
	}
	for i, offset := range policy.FollowUpOffsets {
		seq.Steps = append(seq.Steps, models.FollowUpStep{
			Index:     i,
			DayOffset: offset,
			StepType:  stepType(i, len(policy.FollowUpOffsets)),
			Urgency:   contact.Segment,
			DueAt:     policy.NextSendTime(now, offset),
			Status:    models.StepPending,
		})
	}

	s.mu.Lock()
	s.sequences[seq.ID] = seq
	s.byContact[contact.ID] = append(s.byContact[contact.ID], seq.ID)
	s.mu.Unlock()

	s.persist(ctx, seq)

	s.logger.Info("Follow-up sequence created", map[string]interface{}{
		"sequenceId": seq.ID,
		"contactId":  contact.ID,
		"segment":    string(contact.Segment),
		"steps":      len(seq.Steps),
	})
	return seq, nil
}

func stepType(index, total int) string {
	switch {
	case index == 0:
		return "opening"
	case index == total-1 && total > 1:
		return "final_call"
	default:
		return "reminder"
	}
}

// GetSequence returns a sequence by id.
func (s *Scheduler) GetSequence(id string) (*models.FollowUpSequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[id]
	return seq, ok
}

// SequencesForContact returns the contact's sequences.
func (s *Scheduler) SequencesForContact(contactID string) []*models.FollowUpSequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FollowUpSequence
	for _, id := range s.byContact[contactID] {
		out = append(out, s.sequences[id])
	}
	return out
}

// CancelForContact stops every active sequence of a contact and
// cancels its pending steps.
func (s *Scheduler) CancelForContact(ctx context.Context, contactID string) {
	s.mu.Lock()
	var stopped []*models.FollowUpSequence
	for _, id := range s.byContact[contactID] {
		seq := s.sequences[id]
		if seq.Status != models.SequenceActive {
			continue
		}
		s.stopLocked(seq, models.StopOptOut)
		stopped = append(stopped, seq)
	}
	s.mu.Unlock()

	for _, seq := range stopped {
		s.persist(ctx, seq)
	}
}

// Run sweeps on the configured cadence until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		interval := s.config.SweepInterval
		if s.config.SweepJitter > 0 {
			interval += time.Duration(rand.Int63n(int64(s.config.SweepJitter) + 1))
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep finds due pending steps, applies the stop-condition chain to
// each owning sequence, and dispatches the survivors. Running a sweep
// twice over the same instant is a no-op the second time.
func (s *Scheduler) Sweep(ctx context.Context) SweepSummary {
	metrics.FollowUpSweeps.Inc()
	now := s.now()
	var summary SweepSummary

	s.mu.Lock()
	active := make([]*models.FollowUpSequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		if seq.Status == models.SequenceActive {
			active = append(active, seq)
		}
	}
	s.mu.Unlock()

	for _, seq := range active {
		s.sweepSequence(ctx, seq, now, &summary)
	}

	summary.ResponsesFound = s.runResponseChecks(ctx, now)
	return summary
}

func (s *Scheduler) sweepSequence(ctx context.Context, seq *models.FollowUpSequence, now time.Time, summary *SweepSummary) {
	contact, err := s.contacts.GetContact(ctx, seq.ContactID)
	if err != nil {
		s.logger.Warn("Contact load failed during sweep", map[string]interface{}{
			"sequenceId": seq.ID,
			"contactId":  seq.ContactID,
			"error":      err.Error(),
		})
		return
	}

	policy := s.policies[seq.Segment]

	s.mu.Lock()
	mutated := s.advanceLocked(ctx, seq, contact, policy, now, summary)
	s.mu.Unlock()

	if mutated {
		s.persist(ctx, seq)
	}
}

// advanceLocked walks a sequence's due steps and reports whether the
// sequence changed. Caller holds the mutex.
func (s *Scheduler) advanceLocked(ctx context.Context, seq *models.FollowUpSequence, contact *models.Contact, policy models.SegmentPolicy, now time.Time, summary *SweepSummary) bool {
	if seq.Status != models.SequenceActive {
		return false
	}

	mutated := false
	for i := range seq.Steps {
		step := &seq.Steps[i]
		if step.Status != models.StepPending || step.DueAt.After(now) {
			continue
		}

		if reason, stop := s.evaluateStop(seq, contact, policy, now); stop {
			s.stopLocked(seq, reason)
			summary.Stopped++
			return true
		}

		decision, err := s.gate.CanSend(ctx, contact)
		if err != nil {
			s.logger.Warn("Consent check failed during sweep", map[string]interface{}{
				"sequenceId": seq.ID,
				"error":      err.Error(),
			})
			return mutated
		}
		if !decision.Allowed {
			// A block consumes the step without an error; the next
			// step gets its own fresh check.
			step.Status = models.StepCompleted
			step.Outcome = models.OutcomeLGPDBlocked
			seq.CurrentStep = i + 1
			mutated = true
			summary.StepsBlocked++
			s.logger.Info("Follow-up step blocked by consent gate", map[string]interface{}{
				"sequenceId": seq.ID,
				"step":       i,
				"reason":     string(decision.Reason),
			})
			continue
		}

		s.submitter.Enqueue(&models.DispatchJob{
			ID:          uuid.NewString(),
			ContactID:   seq.ContactID,
			CampaignID:  seq.CampaignID,
			Segment:     seq.Segment,
			TemplateID:  s.selector.Template(seq.Segment, *step),
			ScheduledAt: now,
		})

		step.Status = models.StepCompleted
		step.Outcome = models.OutcomeSent
		step.SentAt = now
		seq.CurrentStep = i + 1
		seq.Attempts++
		mutated = true
		summary.StepsDispatched++

		s.checks = append(s.checks, responseCheck{
			sequenceID: seq.ID,
			contactID:  seq.ContactID,
			campaignID: seq.CampaignID,
			segment:    seq.Segment,
			sentAt:     now,
			dueAt:      now.Add(s.config.ResponseCheckDelay),
		})
	}

	if len(seq.PendingSteps()) == 0 {
		seq.Status = models.SequenceCompleted
		mutated = true
		summary.Completed++
		s.logger.Info("Follow-up sequence completed", map[string]interface{}{
			"sequenceId": seq.ID,
			"attempts":   seq.Attempts,
		})
	}
	return mutated
}

// evaluateStop applies the stop-condition chain in its fixed order.
// First match wins.
func (s *Scheduler) evaluateStop(seq *models.FollowUpSequence, contact *models.Contact, policy models.SegmentPolicy, now time.Time) (models.StopReason, bool) {
	if contact.Converted() {
		return models.StopConversion, true
	}
	if contact.ConsentState == models.ConsentOptedOut {
		return models.StopOptOut, true
	}
	if policy.StopOnResponse && !contact.LastResponseAt.IsZero() && contact.LastResponseAt.After(seq.CreatedAt) {
		return models.StopResponse, true
	}
	if policy.MaxAttempts > 0 && seq.Attempts >= policy.MaxAttempts {
		return models.StopMaxAttempts, true
	}
	if now.Sub(seq.CreatedAt) > time.Duration(s.config.InactivityDays)*24*time.Hour {
		return models.StopLongInactivity, true
	}
	return "", false
}

// stopLocked halts a sequence and cancels its remaining pending steps.
// Caller holds the mutex.
func (s *Scheduler) stopLocked(seq *models.FollowUpSequence, reason models.StopReason) {
	seq.Status = models.SequenceStopped
	seq.StopReason = reason
	for i := range seq.Steps {
		if seq.Steps[i].Status == models.StepPending {
			seq.Steps[i].Status = models.StepCancelled
		}
	}
	metrics.SequencesStopped.WithLabelValues(string(reason)).Inc()
	s.logger.Info("Follow-up sequence stopped", map[string]interface{}{
		"sequenceId": seq.ID,
		"contactId":  seq.ContactID,
		"reason":     string(reason),
	})
}

// runResponseChecks evaluates due response checks and publishes a
// response event when the contact replied after the step went out.
func (s *Scheduler) runResponseChecks(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	due := make([]responseCheck, 0)
	rest := s.checks[:0]
	for _, check := range s.checks {
		if !check.dueAt.After(now) {
			due = append(due, check)
		} else {
			rest = append(rest, check)
		}
	}
	s.checks = rest
	s.mu.Unlock()

	found := 0
	for _, check := range due {
		contact, err := s.contacts.GetContact(ctx, check.contactID)
		if err != nil {
			continue
		}
		if !contact.LastResponseAt.IsZero() && contact.LastResponseAt.After(check.sentAt) {
			found++
			s.bus.Publish(ctx, models.Event{
				Type:       models.EventResponseReceived,
				CampaignID: check.campaignID,
				ContactID:  check.contactID,
				Segment:    check.segment,
				OccurredAt: now,
			})
		}
	}
	return found
}

// ActiveCount reports how many sequences are still running.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, seq := range s.sequences {
		if seq.Status == models.SequenceActive {
			n++
		}
	}
	return n
}
