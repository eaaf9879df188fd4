package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"jobboard.app/atsbridge/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a webhook status transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrValidation is returned when input is rejected before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrLeaseLost is returned when a leased transition is attempted by an
	// owner that no longer holds the record's lease.
	ErrLeaseLost = errors.New("webhook lease lost")
)

type EnqueueParams struct {
	ID           int64
	ConnectionID int64
	EventType    model.EventType
	ExternalID   string
	Payload      json.RawMessage
}

// WebhookStore is the durable record of inbound webhooks and their processing state.
type WebhookStore interface {
	// Enqueue persists a pending record. Returns the existing record and false
	// when (connection, external id) was already stored.
	Enqueue(ctx context.Context, params EnqueueParams) (*model.WebhookRecord, bool, error)
	GetByID(ctx context.Context, id int64) (*model.WebhookRecord, error)
	FetchBatch(ctx context.Context, filter model.WebhookFilter, limit int) ([]model.WebhookRecord, error)
	// RetryableBatch returns failed records with attempts left that match filter,
	// oldest first.
	RetryableBatch(ctx context.Context, filter model.RetryFilter, limit int) ([]model.WebhookRecord, error)
	ClaimBatch(ctx context.Context, params model.ClaimParams) ([]model.WebhookRecord, error)
	// MarkProcessed and MarkFailed take the lease owner that claimed the record.
	// A non-empty owner must still hold the lease or ErrLeaseLost is returned;
	// an empty owner skips the lease check.
	MarkProcessed(ctx context.Context, id int64, owner string, outcome model.Outcome) error
	MarkFailed(ctx context.Context, id int64, owner, reason string, nextAttemptAt *time.Time) (*model.WebhookRecord, error)
	ResetForRetry(ctx context.Context, id int64) error
	ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error)
}

// ConnectionStore defines the contract for ATS connection data access
type ConnectionStore interface {
	GetByID(ctx context.Context, id int64) (*model.Connection, error)
	ListActive(ctx context.Context, provider *string) ([]model.Connection, error)
	Create(ctx context.Context, conn *model.Connection) error
	RecordSync(ctx context.Context, id int64, syncedAt, nextEligibleAt time.Time) error
}

type JobStore interface {
	Upsert(ctx context.Context, job *model.Job) (bool, error)
	GetByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Job, error)
}

type CandidateStore interface {
	Upsert(ctx context.Context, candidate *model.Candidate) (bool, error)
	GetByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Candidate, error)
}

type ApplicationStore interface {
	Upsert(ctx context.Context, app *model.Application) (bool, error)
	GetByExternalID(ctx context.Context, connectionID int64, externalID string) (*model.Application, error)
	UpdateStatus(ctx context.Context, id int64, status model.ApplicationStatus, salary *float64) error
	// AppendNote appends note once per key. Returns false if key was already applied.
	AppendNote(ctx context.Context, id int64, key, note string) (bool, error)
}

// Provider hands out stores bound to one backend (pool, transaction or memory).
type Provider interface {
	Webhooks() WebhookStore
	Connections() ConnectionStore
	Jobs() JobStore
	Candidates() CandidateStore
	Applications() ApplicationStore
}

// allowedFrom lists the statuses from which next may be entered, for use in
// conditional UPDATEs.
func allowedFrom(next model.WebhookStatus) []string {
	var out []string
	for _, s := range []model.WebhookStatus{
		model.WebhookStatusPending,
		model.WebhookStatusProcessing,
		model.WebhookStatusProcessed,
		model.WebhookStatusFailed,
	} {
		if s.CanTransitionTo(next) {
			out = append(out, string(s))
		}
	}
	return out
}
