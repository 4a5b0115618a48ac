// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

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

// Sender delivers one dispatch job through the messaging gateway and
// returns the provider message id.
type Sender interface {
	Send(ctx context.Context, job *models.DispatchJob) (string, error)
}

// ConsentChecker re-evaluates the consent gate immediately before each
// send. Queue-time checks are stale by send time, so the gate runs
// again here. ReserveSend claims the frequency slot before the gateway
// call; ReleaseSend hands it back when the send fails.
type ConsentChecker interface {
	CanSend(ctx context.Context, contact *models.Contact) (consent.Decision, error)
	ReserveSend(ctx context.Context, contactID string) (consent.Decision, error)
	ReleaseSend(ctx context.Context, contactID string) error
}

// ContactLookup loads fresh contact state ahead of the consent re-check.
type ContactLookup interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// ==========================================================================
// CONFIGURATION
// ==========================================================================

// Config carries the throughput shaping knobs. Stagger and the
// inter-batch pause are deliberate backpressure against provider
// anti-spam heuristics, not incidental latency.
type Config struct {
	BatchSize       int
	Stagger         time.Duration
	InterBatchPause time.Duration
	MaxWorkers      int
	MaxRetries      int
	RetryBackoff    time.Duration
	Limits          LimitConfig
}

// applyDefaults normalizes a partially filled config.
func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Stagger <= 0 {
		c.Stagger = 2 * time.Second
	}
	if c.InterBatchPause <= 0 {
		c.InterBatchPause = 30 * time.Second
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
}

// CycleSummary reports what one dispatch cycle did.
type CycleSummary struct {
	Dispatched int
	Deferred   int
	Blocked    int
	Failed     int
	Retried    int
	Remaining  int
}

// ==========================================================================
// DISPATCHER
// ==========================================================================

// Dispatcher drains the job queue in segment priority order through a
// bounded worker pool. Jobs denied by a ceiling or a pause are
// deferred with a later due time, never dropped.
type Dispatcher struct {
	mu        sync.Mutex
	queue     []*models.DispatchJob
	paused    map[string]bool
	pausedAll bool

	config     Config
	limiter    *Limiter
	sender     Sender
	gate       ConsentChecker
	contacts   ContactLookup
	bus        *events.Bus
	errHandler *errors.ErrorHandler
	logger     logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewDispatcher(
	cfg Config,
	sender Sender,
	gate ConsentChecker,
	contacts ContactLookup,
	bus *events.Bus,
	log logger.Logger,
) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		queue:      make([]*models.DispatchJob, 0),
		paused:     make(map[string]bool),
		config:     cfg,
		limiter:    NewLimiter(cfg.Limits),
		sender:     sender,
		gate:       gate,
		contacts:   contacts,
		bus:        bus,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Enqueue adds jobs to the queue. Ordering happens at dequeue time, so
// callers may submit segments in any order.
func (d *Dispatcher) Enqueue(jobs ...*models.DispatchJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range jobs {
		if job.Status == "" {
			job.Status = models.JobPending
		}
		if job.ScheduledAt.IsZero() {
			job.ScheduledAt = d.now()
		}
		d.queue = append(d.queue, job)
		metrics.DispatchQueueDepth.WithLabelValues(job.CampaignID).Inc()
	}
}

// Check reports the limiter state without consuming a send slot. The
// monitor uses it to raise ceiling-breach alerts.
func (d *Dispatcher) Check() Result {
	return d.limiter.Check()
}

// QueueDepth reports how many jobs are waiting.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pause stops dispatch for one campaign. Queued jobs stay queued.
func (d *Dispatcher) Pause(campaignID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused[campaignID] = true
	d.logger.Warn("Campaign dispatch paused", map[string]interface{}{
		"campaignId": campaignID,
	})
}

// Resume lifts a campaign pause.
func (d *Dispatcher) Resume(campaignID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.paused, campaignID)
	d.logger.Info("Campaign dispatch resumed", map[string]interface{}{
		"campaignId": campaignID,
	})
}

// PauseAll is the circuit breaker entry point. Only ResumeAll lifts it;
// no timer does.
func (d *Dispatcher) PauseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pausedAll = true
	d.logger.Warn("All dispatch paused", nil)
}

func (d *Dispatcher) ResumeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pausedAll = false
	d.logger.Info("All dispatch resumed", nil)
}

func (d *Dispatcher) isPaused(campaignID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pausedAll || d.paused[campaignID]
}

// ==========================================================================
// DISPATCH LOOP
// ==========================================================================

// Run drains the queue in batches until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.RunCycle(ctx)
		d.sleep(ctx, d.config.InterBatchPause)
	}
}

// Drain runs cycles until the queue holds no due work or the context
// is cancelled. Deferred jobs with future due times are left queued.
func (d *Dispatcher) Drain(ctx context.Context) CycleSummary {
	var total CycleSummary
	for {
		if ctx.Err() != nil {
			return total
		}
		summary := d.RunCycle(ctx)
		total.Dispatched += summary.Dispatched
		total.Deferred += summary.Deferred
		total.Blocked += summary.Blocked
		total.Failed += summary.Failed
		total.Retried += summary.Retried
		total.Remaining = summary.Remaining
		if len(d.dueJobs(d.config.BatchSize)) == 0 {
			return total
		}
		d.sleep(ctx, d.config.InterBatchPause)
	}
}

// RunCycle processes one batch of due jobs through the worker pool and
// returns what happened.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleSummary {
	batch := d.takeBatch()
	if len(batch) == 0 {
		d.mu.Lock()
		remaining := len(d.queue)
		d.mu.Unlock()
		return CycleSummary{Remaining: remaining}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary CycleSummary
	)
	sem := make(chan struct{}, d.config.MaxWorkers)

	for i, job := range batch {
		if i > 0 {
			d.sleep(ctx, d.config.Stagger)
		}
		if ctx.Err() != nil {
			d.requeue(batch[i:]...)
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(job *models.DispatchJob) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.dispatchOne(ctx, job)
			mu.Lock()
			switch outcome {
			case models.JobSent:
				summary.Dispatched++
			case models.JobDeferred:
				summary.Deferred++
			case models.JobBlocked:
				summary.Blocked++
			case models.JobFailed:
				summary.Failed++
			case models.JobPending:
				summary.Retried++
			}
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	d.mu.Lock()
	summary.Remaining = len(d.queue)
	d.mu.Unlock()
	return summary
}

// takeBatch removes up to one batch of due jobs from the queue in
// segment priority order.
func (d *Dispatcher) takeBatch() []*models.DispatchJob {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	due := make([]*models.DispatchJob, 0, d.config.BatchSize)
	rest := d.queue[:0]
	for _, job := range d.queue {
		if !job.ScheduledAt.After(now) {
			due = append(due, job)
		} else {
			rest = append(rest, job)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		ri, rj := due[i].Segment.Rank(), due[j].Segment.Rank()
		if ri != rj {
			return ri < rj
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})

	if len(due) > d.config.BatchSize {
		rest = append(rest, due[d.config.BatchSize:]...)
		due = due[:d.config.BatchSize]
	}
	d.queue = rest

	for _, job := range due {
		metrics.DispatchQueueDepth.WithLabelValues(job.CampaignID).Dec()
	}
	return due
}

// dueJobs peeks at due work without removing it.
func (d *Dispatcher) dueJobs(limit int) []*models.DispatchJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	out := make([]*models.DispatchJob, 0, limit)
	for _, job := range d.queue {
		if !job.ScheduledAt.After(now) {
			out = append(out, job)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func (d *Dispatcher) requeue(jobs ...*models.DispatchJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range jobs {
		d.queue = append(d.queue, job)
		metrics.DispatchQueueDepth.WithLabelValues(job.CampaignID).Inc()
	}
}

// ==========================================================================
// SINGLE JOB DISPATCH
// ==========================================================================

// dispatchOne runs one job through pause check, consent re-check, rate
// ceiling and the gateway, and returns the job's resulting status.
// JobPending means the job was requeued for a retry attempt.
func (d *Dispatcher) dispatchOne(ctx context.Context, job *models.DispatchJob) models.JobStatus {
	if d.isPaused(job.CampaignID) {
		return d.deferJob(ctx, job, "campaign_paused", d.config.InterBatchPause)
	}

	contact, err := d.contacts.GetContact(ctx, job.ContactID)
	if err != nil {
		return d.failOrRetry(ctx, job, err)
	}

	decision, err := d.gate.CanSend(ctx, contact)
	if err != nil {
		return d.failOrRetry(ctx, job, err)
	}
	if !decision.Allowed {
		job.Status = models.JobBlocked
		job.LastError = string(decision.Reason)
		metrics.ConsentBlocked.WithLabelValues(string(job.Segment), string(contact.ConsentState)).Inc()
		d.logger.Info("Send blocked by consent gate", map[string]interface{}{
			"jobId":     job.ID,
			"contactId": job.ContactID,
			"reason":    string(decision.Reason),
		})
		return models.JobBlocked
	}

	if result := d.limiter.Allow(); !result.Allowed {
		return d.deferJob(ctx, job, "rate_"+string(result.DeniedBy), result.RetryAfter)
	}

	reservation, err := d.gate.ReserveSend(ctx, job.ContactID)
	if err != nil {
		return d.failOrRetry(ctx, job, err)
	}
	if !reservation.Allowed {
		job.Status = models.JobBlocked
		job.LastError = string(reservation.Reason)
		metrics.ConsentBlocked.WithLabelValues(string(job.Segment), string(contact.ConsentState)).Inc()
		d.logger.Info("Send blocked by frequency reservation", map[string]interface{}{
			"jobId":     job.ID,
			"contactId": job.ContactID,
			"reason":    string(reservation.Reason),
		})
		return models.JobBlocked
	}

	start := d.now()
	messageID, err := d.sender.Send(ctx, job)
	metrics.SendDuration.WithLabelValues("gateway").Observe(d.now().Sub(start).Seconds())
	if err != nil {
		if relErr := d.gate.ReleaseSend(ctx, job.ContactID); relErr != nil {
			d.logger.Warn("Frequency slot release failed after send error", map[string]interface{}{
				"contactId": job.ContactID,
				"error":     relErr.Error(),
			})
		}
		return d.failOrRetry(ctx, job, err)
	}

	job.Status = models.JobSent
	job.LastError = ""

	metrics.MessagesSent.WithLabelValues(string(job.Segment), job.Variant).Inc()
	d.bus.Publish(ctx, models.Event{
		Type:       models.EventMessageSent,
		CampaignID: job.CampaignID,
		ContactID:  job.ContactID,
		Segment:    job.Segment,
		Variant:    job.Variant,
		TestID:     job.TestID,
		MessageID:  messageID,
		OccurredAt: d.now(),
	})
	return models.JobSent
}

// deferJob reschedules the job past the given delay and requeues it.
func (d *Dispatcher) deferJob(ctx context.Context, job *models.DispatchJob, reason string, delay time.Duration) models.JobStatus {
	if delay <= 0 {
		delay = d.config.InterBatchPause
	}
	job.Status = models.JobDeferred
	job.ScheduledAt = d.now().Add(delay)
	job.LastError = reason
	d.requeue(job)

	metrics.MessagesDeferred.WithLabelValues(string(job.Segment), reason).Inc()
	d.bus.Publish(ctx, models.Event{
		Type:       models.EventSendDeferred,
		CampaignID: job.CampaignID,
		ContactID:  job.ContactID,
		Segment:    job.Segment,
		Payload:    reason,
		OccurredAt: d.now(),
	})
	return models.JobDeferred
}

// failOrRetry classifies the send error. Transient errors requeue with
// exponential backoff until the attempt budget runs out; everything
// else fails terminally.
func (d *Dispatcher) failOrRetry(ctx context.Context, job *models.DispatchJob, err error) models.JobStatus {
	job.Attempts++
	job.LastError = err.Error()

	switch d.errHandler.HandleSendError(job.ID, job.ContactID, job.Attempts, err) {
	case errors.DecisionDefer:
		return d.deferJob(ctx, job, string(errors.CodeOf(err)), d.config.InterBatchPause)

	case errors.DecisionRetry:
		if job.Attempts <= d.config.MaxRetries {
			backoff := d.config.RetryBackoff << uint(job.Attempts-1)
			if max := 5 * time.Minute; backoff > max {
				backoff = max
			}
			job.Status = models.JobPending
			job.ScheduledAt = d.now().Add(backoff)
			d.requeue(job)
			d.logger.Warn("Send failed, retry scheduled", map[string]interface{}{
				"jobId":   job.ID,
				"attempt": job.Attempts,
				"backoff": backoff.String(),
				"error":   err.Error(),
			})
			return models.JobPending
		}
	}

	job.Status = models.JobFailed
	metrics.MessagesFailed.WithLabelValues(string(job.Segment), string(errors.CodeOf(err))).Inc()
	d.logger.Error("Send failed permanently", map[string]interface{}{
		"jobId":     job.ID,
		"contactId": job.ContactID,
		"attempts":  job.Attempts,
		"error":     err.Error(),
	})
	d.bus.Publish(ctx, models.Event{
		Type:       models.EventSendError,
		CampaignID: job.CampaignID,
		ContactID:  job.ContactID,
		Segment:    job.Segment,
		Payload:    err.Error(),
		OccurredAt: d.now(),
	})
	return models.JobFailed
}
