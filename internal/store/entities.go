package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"jobboard.app/atsbridge/core/db"
	"jobboard.app/atsbridge/internal/model"
)

// Upserts report created=true when the row id is the one we supplied, the
// same trick the webhook dedupe uses.

type jobStore struct {
	db db.DBTX
}

func newJobStore(conn db.DBTX) JobStore {
	return &jobStore{db: conn}
}

func (s *jobStore) Upsert(ctx context.Context, j *model.Job) (bool, error) {
	var rowID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO ats_jobs (id, connection_id, external_id, title, department, location, status, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id, external_id) DO UPDATE
		SET title = EXCLUDED.title, department = EXCLUDED.department, location = EXCLUDED.location,
		    status = EXCLUDED.status, data = EXCLUDED.data, updated_at = now()
		RETURNING id, created_at, updated_at`,
		j.ID, j.ConnectionID, j.ExternalID, j.Title, j.Department, j.Location, j.Status, jsonOrEmpty(j.Data),
	).Scan(&rowID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return false, err
	}
	created := rowID == j.ID
	j.ID = rowID
	return created, nil
}

func (s *jobStore) GetByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Job, error) {
	var (
		j    model.Job
		data []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, connection_id, external_id, title, department, location, status, data, created_at, updated_at
		FROM ats_jobs WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID,
	).Scan(&j.ID, &j.ConnectionID, &j.ExternalID, &j.Title, &j.Department, &j.Location, &j.Status,
		&data, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	j.Data = data
	return &j, nil
}

type candidateStore struct {
	db db.DBTX
}

func newCandidateStore(conn db.DBTX) CandidateStore {
	return &candidateStore{db: conn}
}

func (s *candidateStore) Upsert(ctx context.Context, c *model.Candidate) (bool, error) {
	var rowID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO ats_candidates (id, connection_id, external_id, first_name, last_name, email, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, external_id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, email = EXCLUDED.email,
		    data = EXCLUDED.data, updated_at = now()
		RETURNING id, created_at, updated_at`,
		c.ID, c.ConnectionID, c.ExternalID, c.FirstName, c.LastName, c.Email, jsonOrEmpty(c.Data),
	).Scan(&rowID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return false, err
	}
	created := rowID == c.ID
	c.ID = rowID
	return created, nil
}

func (s *candidateStore) GetByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Candidate, error) {
	var (
		c    model.Candidate
		data []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, connection_id, external_id, first_name, last_name, email, data, created_at, updated_at
		FROM ats_candidates WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID,
	).Scan(&c.ID, &c.ConnectionID, &c.ExternalID, &c.FirstName, &c.LastName, &c.Email,
		&data, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Data = data
	return &c, nil
}

type applicationStore struct {
	db db.DBTX
}

func newApplicationStore(conn db.DBTX) ApplicationStore {
	return &applicationStore{db: conn}
}

// Upsert never touches salary or notes; those belong to the event handlers.
func (s *applicationStore) Upsert(ctx context.Context, a *model.Application) (bool, error) {
	var rowID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO ats_applications (id, connection_id, external_id, external_job_id, external_candidate_id, status, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, external_id) DO UPDATE
		SET external_job_id = COALESCE(NULLIF(EXCLUDED.external_job_id, ''), ats_applications.external_job_id),
		    external_candidate_id = COALESCE(NULLIF(EXCLUDED.external_candidate_id, ''), ats_applications.external_candidate_id),
		    status = COALESCE(NULLIF(EXCLUDED.status, ''), ats_applications.status),
		    data = EXCLUDED.data, updated_at = now()
		RETURNING id, created_at, updated_at`,
		a.ID, a.ConnectionID, a.ExternalID, a.ExternalJobID, a.ExternalCandidateID, string(a.Status), jsonOrEmpty(a.Data),
	).Scan(&rowID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return false, err
	}
	created := rowID == a.ID
	a.ID = rowID
	return created, nil
}

func (s *applicationStore) GetByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Application, error) {
	var (
		a      model.Application
		status string
		data   []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, connection_id, external_id, external_job_id, external_candidate_id, status, salary,
		       notes, note_keys, data, created_at, updated_at
		FROM ats_applications WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID,
	).Scan(&a.ID, &a.ConnectionID, &a.ExternalID, &a.ExternalJobID, &a.ExternalCandidateID, &status, &a.Salary,
		&a.Notes, &a.NoteKeys, &data, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = model.ApplicationStatus(status)
	a.Data = data
	return &a, nil
}

// UpdateStatus sets status and, when salary is non-nil, the salary.
func (s *applicationStore) UpdateStatus(ctx context.Context, id int64, status model.ApplicationStatus, salary *float64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE ats_applications
		SET status = $2, salary = COALESCE($3, salary), updated_at = now()
		WHERE id = $1`,
		id, string(status), salary,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *applicationStore) AppendNote(ctx context.Context, id int64, key, note string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ats_applications
		SET notes = CASE WHEN notes = '' THEN $3 ELSE notes || E'\n' || $3 END,
		    note_keys = array_append(note_keys, $2),
		    updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(note_keys))`,
		id, key, note,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ats_applications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func jsonOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
