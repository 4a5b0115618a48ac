// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	goerrors "errors"
	"time"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// PostgresStore persists engine state in PostgreSQL. Writes are
// single-row upserts; the engine holds hot state in memory and treats
// the store as the durable copy.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: log}
}

// ==========================================================================
// CONTACTS
// ==========================================================================

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	query := `SELECT id, name, registered_at, segment, consent_state, opt_out_reason,
	       interactions, last_response_at, converted_at
	FROM contacts WHERE id = $1`

	var (
		contact      models.Contact
		registered   sql.NullTime
		lastResponse sql.NullTime
		converted    sql.NullTime
		optOutReason sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID, &contact.Name, &registered, &contact.Segment,
		&contact.ConsentState, &optOutReason, &contact.Interactions,
		&lastResponse, &converted,
	)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewContactMalformedError("contact not found: " + id)
		}
		return nil, errors.NewQueryExecutionFailedError("get contact", err)
	}

	contact.RegisteredAt = registered.Time
	contact.LastResponseAt = lastResponse.Time
	contact.ConvertedAt = converted.Time
	contact.OptOutReason = optOutReason.String
	return &contact, nil
}

func (s *PostgresStore) SaveContact(ctx context.Context, contact *models.Contact) error {
	query := `INSERT INTO contacts
	       (id, name, registered_at, segment, consent_state, opt_out_reason,
	        interactions, last_response_at, converted_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (id) DO UPDATE SET
	       name = EXCLUDED.name,
	       segment = EXCLUDED.segment,
	       consent_state = EXCLUDED.consent_state,
	       opt_out_reason = EXCLUDED.opt_out_reason,
	       interactions = EXCLUDED.interactions,
	       last_response_at = EXCLUDED.last_response_at,
	       converted_at = EXCLUDED.converted_at,
	       updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		contact.ID, contact.Name, nullTime(contact.RegisteredAt),
		contact.Segment, contact.ConsentState, nullString(contact.OptOutReason),
		contact.Interactions, nullTime(contact.LastResponseAt), nullTime(contact.ConvertedAt),
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("save contact", err)
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	query := `SELECT id, name, registered_at, segment, consent_state, opt_out_reason,
	       interactions, last_response_at, converted_at
	FROM contacts ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list contacts", err)
	}
	defer rows.Close()

	var out []*models.Contact
	for rows.Next() {
		var (
			contact      models.Contact
			registered   sql.NullTime
			lastResponse sql.NullTime
			converted    sql.NullTime
			optOutReason sql.NullString
		)
		if err := rows.Scan(
			&contact.ID, &contact.Name, &registered, &contact.Segment,
			&contact.ConsentState, &optOutReason, &contact.Interactions,
			&lastResponse, &converted,
		); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan contact", err)
		}
		contact.RegisteredAt = registered.Time
		contact.LastResponseAt = lastResponse.Time
		contact.ConvertedAt = converted.Time
		contact.OptOutReason = optOutReason.String
		out = append(out, &contact)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list contacts", err)
	}
	return out, nil
}

// ==========================================================================
// CAMPAIGNS
// ==========================================================================

func (s *PostgresStore) SaveCampaign(ctx context.Context, campaign *models.Campaign) error {
	counters, err := json.Marshal(campaign.Counters)
	if err != nil {
		return errors.NewQueryExecutionFailedError("marshal campaign counters", err)
	}
	segments, err := json.Marshal(campaign.Segments)
	if err != nil {
		return errors.NewQueryExecutionFailedError("marshal campaign segments", err)
	}

	query := `INSERT INTO campaigns (id, name, segments, status, counters, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (id) DO UPDATE SET
	       status = EXCLUDED.status,
	       counters = EXCLUDED.counters,
	       updated_at = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		campaign.ID, campaign.Name, segments, campaign.Status, counters, campaign.CreatedAt,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("save campaign", err)
	}
	return nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	query := `SELECT id, name, segments, status, counters, created_at, updated_at
	FROM campaigns WHERE id = $1`

	var (
		campaign models.Campaign
		segments []byte
		counters []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID, &campaign.Name, &segments, &campaign.Status,
		&counters, &campaign.CreatedAt, &campaign.UpdatedAt,
	)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewCampaignNotFoundError(id)
		}
		return nil, errors.NewQueryExecutionFailedError("get campaign", err)
	}

	if err := json.Unmarshal(segments, &campaign.Segments); err != nil {
		return nil, errors.NewQueryExecutionFailedError("unmarshal campaign segments", err)
	}
	if err := json.Unmarshal(counters, &campaign.Counters); err != nil {
		return nil, errors.NewQueryExecutionFailedError("unmarshal campaign counters", err)
	}
	return &campaign, nil
}

// ==========================================================================
// A/B ASSIGNMENTS AND SEQUENCES
// ==========================================================================

// RecordAssignment is append-only audit; re-recording the same pair is
// a no-op.
func (s *PostgresStore) RecordAssignment(ctx context.Context, testID, contactID, variant string) error {
	query := `INSERT INTO ab_assignments (test_id, contact_id, variant, assigned_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (test_id, contact_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, testID, contactID, variant)
	if err != nil {
		return errors.NewQueryExecutionFailedError("record assignment", err)
	}
	return nil
}

func (s *PostgresStore) SaveSequence(ctx context.Context, sequence *models.FollowUpSequence) error {
	steps, err := json.Marshal(sequence.Steps)
	if err != nil {
		return errors.NewQueryExecutionFailedError("marshal sequence steps", err)
	}

	query := `INSERT INTO followup_sequences
	       (id, contact_id, campaign_id, segment, steps, current_step, status, stop_reason, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (id) DO UPDATE SET
	       steps = EXCLUDED.steps,
	       current_step = EXCLUDED.current_step,
	       status = EXCLUDED.status,
	       stop_reason = EXCLUDED.stop_reason,
	       attempts = EXCLUDED.attempts,
	       updated_at = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		sequence.ID, sequence.ContactID, sequence.CampaignID, sequence.Segment,
		steps, sequence.CurrentStep, sequence.Status, nullString(string(sequence.StopReason)),
		sequence.Attempts, sequence.CreatedAt,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("save sequence", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveSequences(ctx context.Context) ([]*models.FollowUpSequence, error) {
	query := `SELECT id, contact_id, campaign_id, segment, steps, current_step, status, stop_reason, attempts, created_at
	FROM followup_sequences WHERE status = $1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, models.SequenceActive)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list active sequences", err)
	}
	defer rows.Close()

	var out []*models.FollowUpSequence
	for rows.Next() {
		var (
			sequence   models.FollowUpSequence
			steps      []byte
			stopReason sql.NullString
		)
		if err := rows.Scan(
			&sequence.ID, &sequence.ContactID, &sequence.CampaignID, &sequence.Segment,
			&steps, &sequence.CurrentStep, &sequence.Status, &stopReason,
			&sequence.Attempts, &sequence.CreatedAt,
		); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan sequence", err)
		}
		if err := json.Unmarshal(steps, &sequence.Steps); err != nil {
			return nil, errors.NewQueryExecutionFailedError("unmarshal sequence steps", err)
		}
		sequence.StopReason = models.StopReason(stopReason.String)
		out = append(out, &sequence)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list active sequences", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
