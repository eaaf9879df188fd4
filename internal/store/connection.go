package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"jobboard.app/atsbridge/core/db"
	"jobboard.app/atsbridge/internal/model"
)

const connectionColumns = `id, provider, name, is_active, credentials, last_synced_at, next_eligible_at, created_at, updated_at`

type connectionStore struct {
	db db.DBTX
}

func newConnectionStore(conn db.DBTX) ConnectionStore {
	return &connectionStore{db: conn}
}

func (s *connectionStore) GetByID(ctx context.Context, id int64) (*model.Connection, error) {
	c, err := scanConnection(s.db.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM ats_connections WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *connectionStore) ListActive(ctx context.Context, provider *string) ([]model.Connection, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+connectionColumns+` FROM ats_connections
		WHERE is_active AND ($1::text IS NULL OR provider = lower($1))
		ORDER BY id`,
		provider,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *connectionStore) Create(ctx context.Context, c *model.Connection) error {
	creds := []byte(c.Credentials)
	if len(creds) == 0 {
		creds = []byte("{}")
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO ats_connections (id, provider, name, is_active, credentials)
		VALUES ($1, lower($2), $3, $4, $5)
		RETURNING created_at, updated_at`,
		c.ID, c.Provider, c.Name, c.Active, creds,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (s *connectionStore) RecordSync(ctx context.Context, id int64, syncedAt, nextEligibleAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE ats_connections
		SET last_synced_at = $2, next_eligible_at = $3, updated_at = now()
		WHERE id = $1`,
		id, syncedAt, nextEligibleAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (*model.Connection, error) {
	var (
		c     model.Connection
		creds []byte
	)
	if err := row.Scan(&c.ID, &c.Provider, &c.Name, &c.Active, &creds,
		&c.LastSyncedAt, &c.NextEligibleAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Credentials = creds
	return &c, nil
}
