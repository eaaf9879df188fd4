package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"jobboard.app/atsbridge/core/db"
	"jobboard.app/atsbridge/internal/model"
)

const webhookColumns = `id, connection_id, external_id, event_type, payload, status, retry_count,
	last_error, outcome, next_attempt_at, lease_owner, lease_expires_at, received_at, processed_at`

type webhookStore struct {
	db db.DBTX
}

func newWebhookStore(conn db.DBTX) WebhookStore {
	return &webhookStore{db: conn}
}

func (s *webhookStore) Enqueue(ctx context.Context, p EnqueueParams) (*model.WebhookRecord, bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ats_connections WHERE id = $1)`, p.ConnectionID,
	).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, fmt.Errorf("%w: connection %d does not exist", ErrValidation, p.ConnectionID)
	}

	payload := []byte(p.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	// external_id '' is never deduplicated; the partial unique index skips it.
	row := s.db.QueryRow(ctx, `
		INSERT INTO ats_webhooks (id, connection_id, external_id, event_type, payload, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0)
		ON CONFLICT (connection_id, external_id) WHERE external_id <> '' DO NOTHING
		RETURNING `+webhookColumns,
		p.ID, p.ConnectionID, p.ExternalID, string(p.EventType), payload,
	)
	rec, err := scanWebhook(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := scanWebhook(s.db.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM ats_webhooks WHERE connection_id = $1 AND external_id = $2`,
		p.ConnectionID, p.ExternalID,
	))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *webhookStore) GetByID(ctx context.Context, id int64) (*model.WebhookRecord, error) {
	rec, err := scanWebhook(s.db.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM ats_webhooks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *webhookStore) FetchBatch(ctx context.Context, f model.WebhookFilter, limit int) ([]model.WebhookRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+webhookColumns+` FROM ats_webhooks
		WHERE status = $1
		  AND ($2::bigint IS NULL OR connection_id = $2)
		  AND ($3::text IS NULL OR event_type = $3)
		  AND (coalesce(cardinality($4::bigint[]), 0) = 0 OR id = ANY($4))
		ORDER BY received_at, id
		LIMIT $5`,
		string(f.Status), f.ConnectionID, eventTypeArg(f.EventType), idsArg(f.IDs), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

func (s *webhookStore) RetryableBatch(ctx context.Context, f model.RetryFilter, limit int) ([]model.WebhookRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+webhookColumns+` FROM ats_webhooks
		WHERE status = 'failed' AND retry_count < $1
		  AND ($2::bigint IS NULL OR connection_id = $2)
		  AND ($3::text IS NULL OR event_type = $3)
		  AND ($4::timestamptz IS NULL OR next_attempt_at IS NULL OR next_attempt_at <= $4)
		ORDER BY received_at, id
		LIMIT $5`,
		model.MaxAttempts, f.ConnectionID, eventTypeArg(f.EventType), f.DueBy, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

// ClaimBatch leases up to Limit pending rows to Owner. Rows locked by a
// concurrent claimer are skipped rather than waited on.
func (s *webhookStore) ClaimBatch(ctx context.Context, p model.ClaimParams) ([]model.WebhookRecord, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		WITH claimable AS (
			SELECT id FROM ats_webhooks
			WHERE status = 'pending'
			  AND ($1::bigint IS NULL OR connection_id = $1)
			  AND ($2::text IS NULL OR event_type = $2)
			  AND (coalesce(cardinality($3::bigint[]), 0) = 0 OR id = ANY($3))
			ORDER BY received_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE ats_webhooks w
		SET status = 'processing', lease_owner = $5, lease_expires_at = $6, updated_at = now()
		FROM claimable c
		WHERE w.id = c.id
		RETURNING `+prefixed("w", webhookColumns),
		p.ConnectionID, eventTypeArg(p.EventType), idsArg(p.IDs), p.Limit,
		p.Owner, p.Now.Add(p.LeaseFor),
	)
	if err != nil {
		return nil, err
	}
	recs, err := collectWebhooks(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ReceivedAt.Equal(recs[j].ReceivedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].ReceivedAt.Before(recs[j].ReceivedAt)
	})
	return recs, nil
}

func (s *webhookStore) MarkProcessed(ctx context.Context, id int64, owner string, outcome model.Outcome) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE ats_webhooks
		SET status = 'processed', outcome = $2, processed_at = now(),
		    lease_owner = NULL, lease_expires_at = NULL, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($3) AND ($4 = '' OR lease_owner = $4)`,
		id, string(outcome), allowedFrom(model.WebhookStatusProcessed), owner,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.explainNoop(ctx, id, owner)
	}
	return nil
}

func (s *webhookStore) MarkFailed(ctx context.Context, id int64, owner, reason string, nextAttemptAt *time.Time) (*model.WebhookRecord, error) {
	rec, err := scanWebhook(s.db.QueryRow(ctx, `
		UPDATE ats_webhooks
		SET status = 'failed', retry_count = LEAST(retry_count + 1, $4), last_error = $2,
		    next_attempt_at = $3, lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($5) AND ($6 = '' OR lease_owner = $6)
		RETURNING `+webhookColumns,
		id, reason, nextAttemptAt, model.MaxAttempts, []string{
			string(model.WebhookStatusPending), string(model.WebhookStatusProcessing),
		}, owner,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.explainNoop(ctx, id, owner)
		}
		return nil, err
	}
	return rec, nil
}

func (s *webhookStore) ResetForRetry(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE ats_webhooks
		SET status = 'pending', next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed' AND retry_count < $2`,
		id, model.MaxAttempts,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.explainNoop(ctx, id, "")
	}
	return nil
}

func (s *webhookStore) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ats_webhooks
		SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// explainNoop turns a conditional update that touched nothing into
// ErrNotFound, ErrLeaseLost or ErrInvalidState.
func (s *webhookStore) explainNoop(ctx context.Context, id int64, owner string) error {
	var (
		status     string
		leaseOwner *string
	)
	err := s.db.QueryRow(ctx, `SELECT status, lease_owner FROM ats_webhooks WHERE id = $1`, id).Scan(&status, &leaseOwner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != "" && (leaseOwner == nil || *leaseOwner != owner) {
		return fmt.Errorf("%w: webhook %d is %s", ErrLeaseLost, id, status)
	}
	return fmt.Errorf("%w: webhook %d is %s", ErrInvalidState, id, status)
}

func scanWebhook(row pgx.Row) (*model.WebhookRecord, error) {
	var (
		rec       model.WebhookRecord
		eventType string
		status    string
		outcome   *string
		payload   []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ConnectionID, &rec.ExternalID, &eventType, &payload, &status, &rec.RetryCount,
		&rec.LastError, &outcome, &rec.NextAttemptAt, &rec.LeaseOwner, &rec.LeaseExpiresAt,
		&rec.ReceivedAt, &rec.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.EventType = model.ParseEventType(eventType)
	rec.Status = model.WebhookStatus(status)
	rec.Payload = payload
	if outcome != nil {
		o := model.Outcome(*outcome)
		rec.Outcome = &o
	}
	return &rec, nil
}

func collectWebhooks(rows pgx.Rows) ([]model.WebhookRecord, error) {
	defer rows.Close()
	var result []model.WebhookRecord
	for rows.Next() {
		rec, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

func eventTypeArg(e *model.EventType) *string {
	if e == nil {
		return nil
	}
	s := string(*e)
	return &s
}

// idsArg never returns nil so the array parameter encodes as '{}' not NULL.
func idsArg(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
