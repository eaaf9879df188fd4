// Package memstore is an in-process implementation of the store interfaces.
// It backs STORE_BACKEND=memory and most package tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store"
)

type Option func(*Store)

// WithClock overrides time.Now for received_at, processed_at and lease math.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextID       int64
	webhooks     map[int64]*model.WebhookRecord
	connections  map[int64]*model.Connection
	jobs         map[entityKey]*model.Job
	candidates   map[entityKey]*model.Candidate
	applications map[entityKey]*model.Application
}

type entityKey struct {
	connectionID int64
	externalID   string
}

var _ store.Provider = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		webhooks:     make(map[int64]*model.WebhookRecord),
		connections:  make(map[int64]*model.Connection),
		jobs:         make(map[entityKey]*model.Job),
		candidates:   make(map[entityKey]*model.Candidate),
		applications: make(map[entityKey]*model.Application),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Webhooks() store.WebhookStore         { return (*webhooks)(s) }
func (s *Store) Connections() store.ConnectionStore   { return (*connections)(s) }
func (s *Store) Jobs() store.JobStore                 { return (*jobs)(s) }
func (s *Store) Candidates() store.CandidateStore     { return (*candidates)(s) }
func (s *Store) Applications() store.ApplicationStore { return (*applications)(s) }

// assignID fills a zero id. Callers normally pass snowflake ids.
func (s *Store) assignID(id int64) int64 {
	if id != 0 {
		return id
	}
	s.nextID++
	return s.nextID
}

// --- webhooks ---

type webhooks Store

func (w *webhooks) Enqueue(_ context.Context, p store.EnqueueParams) (*model.WebhookRecord, bool, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[p.ConnectionID]; !ok {
		return nil, false, fmt.Errorf("%w: connection %d does not exist", store.ErrValidation, p.ConnectionID)
	}
	if p.ExternalID != "" {
		for _, rec := range s.webhooks {
			if rec.ConnectionID == p.ConnectionID && rec.ExternalID == p.ExternalID {
				cp := copyWebhook(rec)
				return cp, false, nil
			}
		}
	}

	payload := append([]byte(nil), p.Payload...)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	rec := &model.WebhookRecord{
		ID:           s.assignID(p.ID),
		ConnectionID: p.ConnectionID,
		ExternalID:   p.ExternalID,
		EventType:    p.EventType,
		Payload:      payload,
		Status:       model.WebhookStatusPending,
		ReceivedAt:   s.now(),
	}
	s.webhooks[rec.ID] = rec
	return copyWebhook(rec), true, nil
}

func (w *webhooks) GetByID(_ context.Context, id int64) (*model.WebhookRecord, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.webhooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyWebhook(rec), nil
}

func (w *webhooks) FetchBatch(_ context.Context, f model.WebhookFilter, limit int) ([]model.WebhookRecord, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectWebhooks(f.Matches, limit), nil
}

func (w *webhooks) RetryableBatch(_ context.Context, f model.RetryFilter, limit int) ([]model.WebhookRecord, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectWebhooks(f.Matches, limit), nil
}

func (w *webhooks) ClaimBatch(_ context.Context, p model.ClaimParams) ([]model.WebhookRecord, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := model.WebhookFilter{
		Status:       model.WebhookStatusPending,
		ConnectionID: p.ConnectionID,
		EventType:    p.EventType,
		IDs:          p.IDs,
	}
	batch := s.selectWebhooks(filter.Matches, p.Limit)
	expires := p.Now.Add(p.LeaseFor)
	for i := range batch {
		rec := s.webhooks[batch[i].ID]
		owner := p.Owner
		until := expires
		rec.Status = model.WebhookStatusProcessing
		rec.LeaseOwner = &owner
		rec.LeaseExpiresAt = &until
		batch[i] = *copyWebhook(rec)
	}
	return batch, nil
}

func (w *webhooks) MarkProcessed(_ context.Context, id int64, owner string, outcome model.Outcome) error {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.webhooks[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := checkLease(rec, owner); err != nil {
		return err
	}
	if !rec.Status.CanTransitionTo(model.WebhookStatusProcessed) {
		return fmt.Errorf("%w: webhook %d is %s", store.ErrInvalidState, id, rec.Status)
	}
	now := s.now()
	o := outcome
	rec.Status = model.WebhookStatusProcessed
	rec.Outcome = &o
	rec.ProcessedAt = &now
	rec.NextAttemptAt = nil
	rec.LeaseOwner = nil
	rec.LeaseExpiresAt = nil
	return nil
}

func (w *webhooks) MarkFailed(_ context.Context, id int64, owner, reason string, nextAttemptAt *time.Time) (*model.WebhookRecord, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.webhooks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := checkLease(rec, owner); err != nil {
		return nil, err
	}
	if rec.Status != model.WebhookStatusPending && rec.Status != model.WebhookStatusProcessing {
		return nil, fmt.Errorf("%w: webhook %d is %s", store.ErrInvalidState, id, rec.Status)
	}
	msg := reason
	rec.Status = model.WebhookStatusFailed
	rec.LastError = &msg
	if rec.RetryCount < model.MaxAttempts {
		rec.RetryCount++
	}
	if nextAttemptAt != nil {
		t := *nextAttemptAt
		rec.NextAttemptAt = &t
	} else {
		rec.NextAttemptAt = nil
	}
	rec.LeaseOwner = nil
	rec.LeaseExpiresAt = nil
	return copyWebhook(rec), nil
}

func (w *webhooks) ResetForRetry(_ context.Context, id int64) error {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.webhooks[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != model.WebhookStatusFailed || rec.RetryCount >= model.MaxAttempts {
		return fmt.Errorf("%w: webhook %d is %s after %d attempts", store.ErrInvalidState, id, rec.Status, rec.RetryCount)
	}
	rec.Status = model.WebhookStatusPending
	rec.NextAttemptAt = nil
	return nil
}

func (w *webhooks) ReleaseExpiredLeases(_ context.Context, now time.Time) (int64, error) {
	s := (*Store)(w)
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, rec := range s.webhooks {
		if rec.Status != model.WebhookStatusProcessing || rec.LeaseExpiresAt == nil {
			continue
		}
		if rec.LeaseExpiresAt.Before(now) {
			rec.Status = model.WebhookStatusPending
			rec.LeaseOwner = nil
			rec.LeaseExpiresAt = nil
			released++
		}
	}
	return released, nil
}

// checkLease fails when owner is set and no longer holds rec's lease.
func checkLease(rec *model.WebhookRecord, owner string) error {
	if owner == "" || rec.Lease() == owner {
		return nil
	}
	return fmt.Errorf("%w: webhook %d is %s", store.ErrLeaseLost, rec.ID, rec.Status)
}

// selectWebhooks returns copies of matching records in (received_at, id)
// order. Caller holds s.mu.
func (s *Store) selectWebhooks(match func(*model.WebhookRecord) bool, limit int) []model.WebhookRecord {
	if limit <= 0 {
		return nil
	}
	var out []model.WebhookRecord
	for _, rec := range s.webhooks {
		if match(rec) {
			out = append(out, *copyWebhook(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyWebhook(r *model.WebhookRecord) *model.WebhookRecord {
	cp := *r
	cp.Payload = append([]byte(nil), r.Payload...)
	return &cp
}

// --- connections ---

type connections Store

func (c *connections) GetByID(_ context.Context, id int64) (*model.Connection, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *conn
	return &cp, nil
}

func (c *connections) ListActive(_ context.Context, provider *string) ([]model.Connection, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Connection
	for _, conn := range s.connections {
		if !conn.Active {
			continue
		}
		if provider != nil && !strings.EqualFold(conn.Provider, *provider) {
			continue
		}
		out = append(out, *conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *connections) Create(_ context.Context, conn *model.Connection) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn.ID = s.assignID(conn.ID)
	if _, exists := s.connections[conn.ID]; exists {
		return fmt.Errorf("%w: connection %d already exists", store.ErrValidation, conn.ID)
	}
	now := s.now()
	conn.Provider = strings.ToLower(conn.Provider)
	conn.CreatedAt = now
	conn.UpdatedAt = now
	cp := *conn
	s.connections[conn.ID] = &cp
	return nil
}

func (c *connections) RecordSync(_ context.Context, id int64, syncedAt, nextEligibleAt time.Time) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return store.ErrNotFound
	}
	conn.LastSyncedAt = &syncedAt
	conn.NextEligibleAt = &nextEligibleAt
	conn.UpdatedAt = s.now()
	return nil
}

// --- jobs ---

type jobs Store

func (j *jobs) Upsert(_ context.Context, job *model.Job) (bool, error) {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{job.ConnectionID, job.ExternalID}
	now := s.now()
	if existing, ok := s.jobs[key]; ok {
		job.ID = existing.ID
		job.CreatedAt = existing.CreatedAt
		job.UpdatedAt = now
		cp := *job
		s.jobs[key] = &cp
		return false, nil
	}
	job.ID = s.assignID(job.ID)
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[key] = &cp
	return true, nil
}

func (j *jobs) GetByExternalID(_ context.Context, connectionID int64, externalID string) (*model.Job, error) {
	s := (*Store)(j)
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[entityKey{connectionID, externalID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// --- candidates ---

type candidates Store

func (c *candidates) Upsert(_ context.Context, cand *model.Candidate) (bool, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{cand.ConnectionID, cand.ExternalID}
	now := s.now()
	if existing, ok := s.candidates[key]; ok {
		cand.ID = existing.ID
		cand.CreatedAt = existing.CreatedAt
		cand.UpdatedAt = now
		cp := *cand
		s.candidates[key] = &cp
		return false, nil
	}
	cand.ID = s.assignID(cand.ID)
	cand.CreatedAt = now
	cand.UpdatedAt = now
	cp := *cand
	s.candidates[key] = &cp
	return true, nil
}

func (c *candidates) GetByExternalID(_ context.Context, connectionID int64, externalID string) (*model.Candidate, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[entityKey{connectionID, externalID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *cand
	return &cp, nil
}

// --- applications ---

type applications Store

func (a *applications) Upsert(_ context.Context, app *model.Application) (bool, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{app.ConnectionID, app.ExternalID}
	now := s.now()
	if existing, ok := s.applications[key]; ok {
		existing.ExternalJobID = orKeep(app.ExternalJobID, existing.ExternalJobID)
		existing.ExternalCandidateID = orKeep(app.ExternalCandidateID, existing.ExternalCandidateID)
		existing.Status = model.ApplicationStatus(orKeep(string(app.Status), string(existing.Status)))
		existing.Data = app.Data
		existing.UpdatedAt = now
		*app = *copyApplication(existing)
		return false, nil
	}
	app.ID = s.assignID(app.ID)
	app.Salary = nil
	app.Notes = ""
	app.NoteKeys = nil
	app.CreatedAt = now
	app.UpdatedAt = now
	s.applications[key] = copyApplication(app)
	return true, nil
}

func (a *applications) GetByExternalID(_ context.Context, connectionID int64, externalID string) (*model.Application, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[entityKey{connectionID, externalID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyApplication(app), nil
}

func (a *applications) UpdateStatus(_ context.Context, id int64, status model.ApplicationStatus, salary *float64) error {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()

	app := s.applicationByID(id)
	if app == nil {
		return store.ErrNotFound
	}
	app.Status = status
	if salary != nil {
		v := *salary
		app.Salary = &v
	}
	app.UpdatedAt = s.now()
	return nil
}

func (a *applications) AppendNote(_ context.Context, id int64, key, note string) (bool, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()

	app := s.applicationByID(id)
	if app == nil {
		return false, store.ErrNotFound
	}
	if app.HasNote(key) {
		return false, nil
	}
	if app.Notes == "" {
		app.Notes = note
	} else {
		app.Notes += "\n" + note
	}
	app.NoteKeys = append(app.NoteKeys, key)
	app.UpdatedAt = s.now()
	return true, nil
}

// applicationByID scans by primary key. Caller holds s.mu.
func (s *Store) applicationByID(id int64) *model.Application {
	for _, app := range s.applications {
		if app.ID == id {
			return app
		}
	}
	return nil
}

func copyApplication(a *model.Application) *model.Application {
	cp := *a
	cp.NoteKeys = append([]string(nil), a.NoteKeys...)
	if a.Salary != nil {
		v := *a.Salary
		cp.Salary = &v
	}
	return &cp
}

func orKeep(next, current string) string {
	if next == "" {
		return current
	}
	return next
}

// TxRunner hands the store itself to fn. There is no rollback: writes made
// before fn fails stay applied.
func (s *Store) TxRunner() store.TxRunner {
	return memTxRunner{s: s}
}

type memTxRunner struct {
	s *Store
}

func (r memTxRunner) WithTx(_ context.Context, fn func(stores store.Provider) error) error {
	return fn(r.s)
}
