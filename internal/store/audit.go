// internal/store/audit.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"outreach-engine/internal/common/database"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// ElasticAuditSink writes monitor snapshots and alerts to
// Elasticsearch. Documents are append-only; retention is enforced by
// PurgeBefore, driven by the monitor's cleanup loop.
type ElasticAuditSink struct {
	es            *database.ElasticsearchClient
	snapshotIndex string
	alertIndex    string
	logger        logger.Logger
}

func NewElasticAuditSink(es *database.ElasticsearchClient, snapshotIndex, alertIndex string, log logger.Logger) *ElasticAuditSink {
	if snapshotIndex == "" {
		snapshotIndex = "outreach-snapshots"
	}
	if alertIndex == "" {
		alertIndex = "outreach-alerts"
	}
	return &ElasticAuditSink{
		es:            es,
		snapshotIndex: snapshotIndex,
		alertIndex:    alertIndex,
		logger:        log,
	}
}

func (s *ElasticAuditSink) SaveSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error {
	docID := fmt.Sprintf("%s-%d", snapshot.CampaignID, snapshot.TakenAt.UnixNano())
	return s.index(ctx, s.snapshotIndex, docID, snapshot)
}

func (s *ElasticAuditSink) SaveAlert(ctx context.Context, alert *models.Alert) error {
	return s.index(ctx, s.alertIndex, alert.ID, alert)
}

func (s *ElasticAuditSink) index(ctx context.Context, indexName, docID string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal audit document: %w", err)
	}

	res, err := s.es.Client.Index(
		indexName,
		bytes.NewReader(body),
		s.es.Client.Index.WithContext(ctx),
		s.es.Client.Index.WithDocumentID(docID),
	)
	if err != nil {
		return fmt.Errorf("failed to index audit document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("audit index error: %s", res.Status())
	}
	return nil
}

// PurgeBefore removes snapshots older than snapshotsBefore and alerts
// older than alertsBefore. A missing index is not an error.
func (s *ElasticAuditSink) PurgeBefore(ctx context.Context, snapshotsBefore, alertsBefore time.Time) error {
	if err := s.deleteOlderThan(ctx, s.snapshotIndex, "takenAt", snapshotsBefore); err != nil {
		return err
	}
	return s.deleteOlderThan(ctx, s.alertIndex, "createdAt", alertsBefore)
}

func (s *ElasticAuditSink) deleteOlderThan(ctx context.Context, indexName, field string, cutoff time.Time) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				field: map[string]interface{}{
					"lt": cutoff.Format(time.RFC3339),
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("failed to marshal purge query: %w", err)
	}

	res, err := s.es.Client.DeleteByQuery(
		[]string{indexName},
		bytes.NewReader(body),
		s.es.Client.DeleteByQuery.WithContext(ctx),
		s.es.Client.DeleteByQuery.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("failed to purge index %s: %w", indexName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("purge error on %s: %s", indexName, res.Status())
	}

	s.logger.Debug("Audit retention purge applied", map[string]interface{}{
		"index":  indexName,
		"cutoff": cutoff.Format(time.RFC3339),
	})
	return nil
}
