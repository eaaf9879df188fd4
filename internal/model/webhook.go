package model

import (
	"encoding/json"
	"time"
)

// MaxAttempts bounds how many times a webhook may fail before it becomes
// terminal and needs an operator.
const MaxAttempts = 3

type EventType string

const (
	EventJobCreated           EventType = "job_created"
	EventJobUpdated           EventType = "job_updated"
	EventApplicationSubmitted EventType = "application_submitted"
	EventApplicationUpdated   EventType = "application_updated"
	EventCandidateCreated     EventType = "candidate_created"
	EventCandidateUpdated     EventType = "candidate_updated"
	EventInterviewScheduled   EventType = "interview_scheduled"
	EventOfferExtended        EventType = "offer_extended"
	EventHireCompleted        EventType = "hire_completed"
	EventUnknown              EventType = "unknown"
)

var knownEventTypes = map[EventType]struct{}{
	EventJobCreated:           {},
	EventJobUpdated:           {},
	EventApplicationSubmitted: {},
	EventApplicationUpdated:   {},
	EventCandidateCreated:     {},
	EventCandidateUpdated:     {},
	EventInterviewScheduled:   {},
	EventOfferExtended:        {},
	EventHireCompleted:        {},
	EventUnknown:              {},
}

// ParseEventType maps a raw tag onto the enum. Anything unrecognised becomes
// EventUnknown rather than an error: the router logs and skips those.
func ParseEventType(s string) EventType {
	if _, ok := knownEventTypes[EventType(s)]; ok {
		return EventType(s)
	}
	return EventUnknown
}

func (e EventType) Valid() bool {
	_, ok := knownEventTypes[e]
	return ok
}

type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	WebhookStatusFailed     WebhookStatus = "failed"
)

func (s WebhookStatus) Valid() bool {
	switch s {
	case WebhookStatusPending, WebhookStatusProcessing, WebhookStatusProcessed, WebhookStatusFailed:
		return true
	}
	return false
}

var webhookTransitions = map[WebhookStatus][]WebhookStatus{
	WebhookStatusPending:    {WebhookStatusProcessing, WebhookStatusProcessed, WebhookStatusFailed},
	WebhookStatusProcessing: {WebhookStatusProcessed, WebhookStatusFailed, WebhookStatusPending},
	WebhookStatusFailed:     {WebhookStatusPending, WebhookStatusProcessed},
	WebhookStatusProcessed:  nil,
}

// CanTransitionTo reports whether the state machine allows s -> next.
// processed is terminal; failed -> pending is the retry reset.
func (s WebhookStatus) CanTransitionTo(next WebhookStatus) bool {
	for _, allowed := range webhookTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Outcome distinguishes why a webhook ended up processed.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeEntityMissing Outcome = "entity_missing"
	OutcomeIgnored       Outcome = "ignored"
)

type WebhookRecord struct {
	ID             int64           `json:"id"`
	ConnectionID   int64           `json:"connection_id"`
	ExternalID     string          `json:"external_id"`
	EventType      EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         WebhookStatus   `json:"status"`
	RetryCount     int             `json:"retry_count"`
	LastError      *string         `json:"last_error,omitempty"`
	Outcome        *Outcome        `json:"outcome,omitempty"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	LeaseOwner     *string         `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// Exhausted is true once the record has used every attempt.
func (r *WebhookRecord) Exhausted() bool {
	return r.Status == WebhookStatusFailed && r.RetryCount >= MaxAttempts
}

// Lease returns the current lease owner, or "" when the record is not leased.
func (r *WebhookRecord) Lease() string {
	if r.LeaseOwner == nil {
		return ""
	}
	return *r.LeaseOwner
}

// LeaseExpired is true when the record carries a lease that has run out at now.
func (r *WebhookRecord) LeaseExpired(now time.Time) bool {
	return r.LeaseExpiresAt != nil && !now.Before(*r.LeaseExpiresAt)
}

// WebhookFilter narrows a batch fetch. Status is required; the rest are optional.
type WebhookFilter struct {
	Status       WebhookStatus
	ConnectionID *int64
	EventType    *EventType
	IDs          []int64
}

// Matches applies the optional parts of the filter to r.
func (f WebhookFilter) Matches(r *WebhookRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ConnectionID != nil && r.ConnectionID != *f.ConnectionID {
		return false
	}
	if f.EventType != nil && r.EventType != *f.EventType {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == r.ID {
				return true
			}
		}
		return false
	}
	return true
}

// RetryFilter narrows the failed records eligible for a retry sweep. DueBy,
// when set, excludes records whose backoff has not elapsed at that instant.
type RetryFilter struct {
	ConnectionID *int64
	EventType    *EventType
	DueBy        *time.Time
}

// Matches reports whether r is failed, has attempts left and passes the filter.
func (f RetryFilter) Matches(r *WebhookRecord) bool {
	if r.Status != WebhookStatusFailed || r.RetryCount >= MaxAttempts {
		return false
	}
	if f.ConnectionID != nil && r.ConnectionID != *f.ConnectionID {
		return false
	}
	if f.EventType != nil && r.EventType != *f.EventType {
		return false
	}
	if f.DueBy != nil && r.NextAttemptAt != nil && f.DueBy.Before(*r.NextAttemptAt) {
		return false
	}
	return true
}

// ClaimParams describes one lease acquisition over pending records.
type ClaimParams struct {
	ConnectionID *int64
	EventType    *EventType
	IDs          []int64
	Owner        string
	LeaseFor     time.Duration
	Limit        int
	Now          time.Time
}
