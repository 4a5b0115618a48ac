// internal/monitor/monitor.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/common/metrics"
	"outreach-engine/internal/dispatch"
	"outreach-engine/internal/events"
	"outreach-engine/internal/models"
	"outreach-engine/internal/workflow"
)

// ==========================================================================
// COLLABORATOR INTERFACES
// ==========================================================================

// Breaker is the dispatcher surface the circuit breaker drives.
type Breaker interface {
	PauseAll()
	ResumeAll()
}

// AuditSink persists snapshots and alerts for trend analysis and runs
// the retention purge. May be nil; the monitor then keeps everything
// in memory only.
type AuditSink interface {
	SaveSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error
	SaveAlert(ctx context.Context, alert *models.Alert) error
	PurgeBefore(ctx context.Context, snapshotsBefore, alertsBefore time.Time) error
}

// HealthChecker probes the messaging gateway.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CeilingChecker peeks at the dispatch rate ceilings without consuming
// quota.
type CeilingChecker interface {
	Check() dispatch.Result
}

// Notifier delivers CRITICAL alerts out of band.
type Notifier interface {
	NotifyCritical(ctx context.Context, alert *models.Alert) error
}

// ==========================================================================
// CONFIGURATION
// ==========================================================================

type Config struct {
	CheckInterval      time.Duration
	SnapshotInterval   time.Duration
	ErrorRateThreshold float64
	DeliveryRateFloor  float64
	ResponseRateFloor  float64
	DeliverySampleMin  int64
	ResponseSampleMin  int64
	SnapshotRetention  time.Duration
	AlertRetention     time.Duration
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = 0.05
	}
	if c.DeliveryRateFloor <= 0 {
		c.DeliveryRateFloor = 0.90
	}
	if c.ResponseRateFloor <= 0 {
		c.ResponseRateFloor = 0.02
	}
	if c.DeliverySampleMin <= 0 {
		c.DeliverySampleMin = 10
	}
	if c.ResponseSampleMin <= 0 {
		c.ResponseSampleMin = 50
	}
	if c.SnapshotRetention <= 0 {
		c.SnapshotRetention = 7 * 24 * time.Hour
	}
	if c.AlertRetention <= 0 {
		c.AlertRetention = 30 * 24 * time.Hour
	}
}

// ==========================================================================
// MONITOR
// ==========================================================================

type campaignStats struct {
	counters  models.CampaignCounters
	bySegment map[models.Segment]*models.SegStats
}

// Monitor is the root supervisor. It folds bus events into rolling
// aggregates, evaluates alert rules on a fixed cadence, and trips the
// dispatch circuit breaker on a global error-rate breach. Only an
// explicit Resume closes the breaker again.
type Monitor struct {
	mu        sync.Mutex
	campaigns map[string]*campaignStats
	alerts    []*models.Alert
	tripped   bool

	breaker  Breaker
	sink     AuditSink
	health   HealthChecker
	ceilings CeilingChecker
	notifier Notifier
	trigger  *workflow.Trigger
	bus      *events.Bus
	logger   logger.Logger
	config   Config

	now func() time.Time
}

func NewMonitor(
	breaker Breaker,
	sink AuditSink,
	health HealthChecker,
	ceilings CeilingChecker,
	notifier Notifier,
	trigger *workflow.Trigger,
	bus *events.Bus,
	cfg Config,
	log logger.Logger,
) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		campaigns: make(map[string]*campaignStats),
		breaker:   breaker,
		sink:      sink,
		health:    health,
		ceilings:  ceilings,
		notifier:  notifier,
		trigger:   trigger,
		bus:       bus,
		logger:    log,
		config:    cfg,
		now:       time.Now,
	}
	bus.SubscribeAll(m.onEvent)
	return m
}

// onEvent folds one component-reported event into the aggregates. The
// monitor never polls the store for counters.
func (m *Monitor) onEvent(ctx context.Context, evt models.Event) {
	if evt.CampaignID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.campaigns[evt.CampaignID]
	if !ok {
		stats = &campaignStats{bySegment: make(map[models.Segment]*models.SegStats)}
		m.campaigns[evt.CampaignID] = stats
	}
	seg := stats.bySegment[evt.Segment]
	if seg == nil && evt.Segment != "" {
		seg = &models.SegStats{}
		stats.bySegment[evt.Segment] = seg
	}

	switch evt.Type {
	case models.EventMessageSent:
		stats.counters.Sent++
		if seg != nil {
			seg.Sent++
		}
	case models.EventMessageDelivered:
		stats.counters.Delivered++
		if seg != nil {
			seg.Delivered++
		}
	case models.EventResponseReceived:
		stats.counters.Responded++
		if seg != nil {
			seg.Responded++
		}
	case models.EventConversion:
		stats.counters.Converted++
		if seg != nil {
			seg.Converted++
		}
	case models.EventSendError:
		stats.counters.Errored++
	case models.EventSendDeferred:
		stats.counters.Deferred++
	}
}

// Run drives alert evaluation, snapshotting and retention cleanup
// until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	checkTicker := time.NewTicker(m.config.CheckInterval)
	snapshotTicker := time.NewTicker(m.config.SnapshotInterval)
	cleanupTicker := time.NewTicker(time.Hour)
	defer checkTicker.Stop()
	defer snapshotTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			m.EvaluateAlerts(ctx)
		case <-snapshotTicker.C:
			m.Snapshot(ctx)
		case <-cleanupTicker.C:
			m.Cleanup(ctx)
		}
	}
}

// ==========================================================================
// ALERT EVALUATION
// ==========================================================================

// EvaluateAlerts runs every alert rule once and returns the alerts
// raised on this pass.
func (m *Monitor) EvaluateAlerts(ctx context.Context) []*models.Alert {
	var raised []*models.Alert

	// Global error rate across all campaigns is the circuit breaker
	// input.
	m.mu.Lock()
	var sent, errored int64
	for _, stats := range m.campaigns {
		sent += stats.counters.Sent
		errored += stats.counters.Errored
	}
	tripped := m.tripped
	m.mu.Unlock()

	if total := sent + errored; total > 0 && !tripped {
		errorRate := float64(errored) / float64(total)
		if errorRate > m.config.ErrorRateThreshold {
			alert := m.raise(ctx, &models.Alert{
				Type:      models.AlertHighErrorRate,
				Severity:  models.SeverityCritical,
				Message:   fmt.Sprintf("global error rate %.1f%% exceeds %.1f%%", errorRate*100, m.config.ErrorRateThreshold*100),
				Value:     errorRate,
				Threshold: m.config.ErrorRateThreshold,
			})
			raised = append(raised, alert)
			m.trip(ctx, alert)
		}
	}

	raised = append(raised, m.evaluateSegmentRates(ctx)...)

	if m.ceilings != nil {
		if result := m.ceilings.Check(); !result.Allowed {
			raised = append(raised, m.raise(ctx, &models.Alert{
				Type:     models.AlertCeilingBreached,
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("dispatch %s ceiling reached, retry in %s", result.DeniedBy, result.RetryAfter),
			}))
		}
	}

	if m.health != nil {
		if err := m.health.HealthCheck(ctx); err != nil {
			raised = append(raised, m.raise(ctx, &models.Alert{
				Type:     models.AlertGatewayUnreachable,
				Severity: models.SeverityCritical,
				Message:  "messaging gateway unreachable: " + err.Error(),
			}))
		}
	}

	return raised
}

func (m *Monitor) evaluateSegmentRates(ctx context.Context) []*models.Alert {
	m.mu.Lock()
	type segSample struct {
		campaignID string
		segment    models.Segment
		stats      models.SegStats
	}
	samples := make([]segSample, 0)
	for id, stats := range m.campaigns {
		for segment, seg := range stats.bySegment {
			samples = append(samples, segSample{id, segment, *seg})
		}
	}
	m.mu.Unlock()

	var raised []*models.Alert
	for _, s := range samples {
		if s.stats.Sent >= m.config.DeliverySampleMin {
			rate := float64(s.stats.Delivered) / float64(s.stats.Sent)
			if rate < m.config.DeliveryRateFloor {
				raised = append(raised, m.raise(ctx, &models.Alert{
					CampaignID: s.campaignID,
					Type:       models.AlertLowDeliveryRate,
					Severity:   models.SeverityWarning,
					Message:    fmt.Sprintf("segment %s delivery rate %.1f%% below %.0f%%", s.segment, rate*100, m.config.DeliveryRateFloor*100),
					Value:      rate,
					Threshold:  m.config.DeliveryRateFloor,
				}))
			}
		}
		if s.stats.Sent >= m.config.ResponseSampleMin {
			rate := float64(s.stats.Responded) / float64(s.stats.Sent)
			if rate < m.config.ResponseRateFloor {
				raised = append(raised, m.raise(ctx, &models.Alert{
					CampaignID: s.campaignID,
					Type:       models.AlertLowResponseRate,
					Severity:   models.SeverityInfo,
					Message:    fmt.Sprintf("segment %s response rate %.2f%% below %.0f%%", s.segment, rate*100, m.config.ResponseRateFloor*100),
					Value:      rate,
					Threshold:  m.config.ResponseRateFloor,
				}))
			}
		}
	}
	return raised
}

// trip opens the circuit breaker. In-flight sends finish; nothing new
// leaves until Resume.
func (m *Monitor) trip(ctx context.Context, cause *models.Alert) {
	m.mu.Lock()
	if m.tripped {
		m.mu.Unlock()
		return
	}
	m.tripped = true
	m.mu.Unlock()

	m.breaker.PauseAll()
	m.logger.Error("Circuit breaker tripped, all campaigns paused", map[string]interface{}{
		"alertType": string(cause.Type),
		"value":     cause.Value,
	})

	m.raise(ctx, &models.Alert{
		Type:     models.AlertCampaignPaused,
		Severity: models.SeverityCritical,
		Message:  "all campaigns paused by circuit breaker; explicit resume required",
	})
	if err := m.trigger.CriticalAlert(ctx, cause.CampaignID, string(cause.Type), cause.Message); err != nil {
		m.logger.Warn("Workflow trigger failed for critical alert", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Tripped reports whether the circuit breaker is open.
func (m *Monitor) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// Resume closes the circuit breaker. This is the only path out of a
// tripped state.
func (m *Monitor) Resume(ctx context.Context) {
	m.mu.Lock()
	wasTripped := m.tripped
	m.tripped = false
	m.mu.Unlock()

	if !wasTripped {
		return
	}
	m.breaker.ResumeAll()
	m.raise(ctx, &models.Alert{
		Type:     models.AlertCampaignResumed,
		Severity: models.SeverityInfo,
		Message:  "circuit breaker closed by operator, dispatch resumed",
	})
}

// CampaignCompleted records terminal state for a campaign and notifies
// external orchestration.
func (m *Monitor) CampaignCompleted(ctx context.Context, campaignID string) {
	snapshot := m.snapshotFor(campaignID)

	m.raise(ctx, &models.Alert{
		CampaignID: campaignID,
		Type:       models.AlertCampaignComplete,
		Severity:   models.SeverityInfo,
		Message:    fmt.Sprintf("campaign %s completed: %d sent, %d converted", campaignID, snapshot.Counters.Sent, snapshot.Counters.Converted),
	})
	err := m.trigger.CampaignCompleted(ctx, campaignID, map[string]interface{}{
		"sent":      snapshot.Counters.Sent,
		"delivered": snapshot.Counters.Delivered,
		"responded": snapshot.Counters.Responded,
		"converted": snapshot.Counters.Converted,
		"errored":   snapshot.Counters.Errored,
	})
	if err != nil {
		m.logger.Warn("Workflow trigger failed for campaign completion", map[string]interface{}{
			"campaignId": campaignID,
			"error":      err.Error(),
		})
	}
}

// raise registers an alert, persists it and fans out notification for
// CRITICAL severity. Returns the stored alert.
func (m *Monitor) raise(ctx context.Context, alert *models.Alert) *models.Alert {
	alert.ID = uuid.NewString()
	alert.CreatedAt = m.now()

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()

	metrics.AlertsRaised.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	logFields := map[string]interface{}{
		"alertId":  alert.ID,
		"type":     string(alert.Type),
		"severity": string(alert.Severity),
		"message":  alert.Message,
	}
	switch alert.Severity {
	case models.SeverityCritical:
		m.logger.Error("Alert raised", logFields)
	case models.SeverityWarning:
		m.logger.Warn("Alert raised", logFields)
	default:
		m.logger.Info("Alert raised", logFields)
	}

	if m.sink != nil {
		if err := m.sink.SaveAlert(ctx, alert); err != nil {
			m.logger.Warn("Alert persistence failed", map[string]interface{}{
				"alertId": alert.ID,
				"error":   err.Error(),
			})
		}
	}
	if alert.Severity == models.SeverityCritical && m.notifier != nil {
		if err := m.notifier.NotifyCritical(ctx, alert); err != nil {
			m.logger.Warn("Critical alert notification failed", map[string]interface{}{
				"alertId": alert.ID,
				"error":   err.Error(),
			})
		}
	}
	return alert
}

// Alerts returns alerts raised since the given time.
func (m *Monitor) Alerts(since time.Time) []*models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Alert
	for _, alert := range m.alerts {
		if alert.CreatedAt.After(since) {
			out = append(out, alert)
		}
	}
	return out
}

// ==========================================================================
// SNAPSHOTS AND RETENTION
// ==========================================================================

// Snapshot captures point-in-time aggregates for every campaign and
// persists them for trend analysis.
func (m *Monitor) Snapshot(ctx context.Context) []*models.MetricsSnapshot {
	m.mu.Lock()
	ids := make([]string, 0, len(m.campaigns))
	for id := range m.campaigns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]*models.MetricsSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshot := m.snapshotFor(id)
		out = append(out, snapshot)
		if m.sink != nil {
			if err := m.sink.SaveSnapshot(ctx, snapshot); err != nil {
				m.logger.Warn("Snapshot persistence failed", map[string]interface{}{
					"campaignId": id,
					"error":      err.Error(),
				})
			}
		}
	}
	return out
}

func (m *Monitor) snapshotFor(campaignID string) *models.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := &models.MetricsSnapshot{
		CampaignID: campaignID,
		TakenAt:    m.now(),
		BySegment:  make(map[models.Segment]models.SegStats),
	}
	stats, ok := m.campaigns[campaignID]
	if !ok {
		return snapshot
	}

	snapshot.Counters = stats.counters
	for segment, seg := range stats.bySegment {
		snapshot.BySegment[segment] = *seg
	}
	if stats.counters.Sent > 0 {
		snapshot.DeliveryRate = float64(stats.counters.Delivered) / float64(stats.counters.Sent)
		snapshot.ResponseRate = float64(stats.counters.Responded) / float64(stats.counters.Sent)
		snapshot.ConversionRate = float64(stats.counters.Converted) / float64(stats.counters.Sent)
	}
	if total := stats.counters.Sent + stats.counters.Errored; total > 0 {
		snapshot.ErrorRate = float64(stats.counters.Errored) / float64(total)
	}
	return snapshot
}

// Cleanup applies the retention windows to stored alerts and
// snapshots.
func (m *Monitor) Cleanup(ctx context.Context) {
	now := m.now()
	alertCutoff := now.Add(-m.config.AlertRetention)
	snapshotCutoff := now.Add(-m.config.SnapshotRetention)

	m.mu.Lock()
	kept := m.alerts[:0]
	for _, alert := range m.alerts {
		if alert.CreatedAt.After(alertCutoff) {
			kept = append(kept, alert)
		}
	}
	m.alerts = kept
	m.mu.Unlock()

	if m.sink != nil {
		if err := m.sink.PurgeBefore(ctx, snapshotCutoff, alertCutoff); err != nil {
			m.logger.Warn("Retention purge failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
