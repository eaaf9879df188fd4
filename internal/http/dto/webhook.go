package dto

import (
	"encoding/json"
	"time"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/retry"
)

type IngestWebhookResponse struct {
	WebhookID int64           `json:"webhook_id"`
	EventType model.EventType `json:"event_type"`
	Duplicate bool            `json:"duplicate"`
	Notified  bool            `json:"notified"`
}

type ListWebhooksQuery struct {
	Status       string `form:"status"`
	ConnectionID *int64 `form:"connection_id"`
	EventType    string `form:"event_type"`
	Limit        int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type WebhookResponse struct {
	ID            int64           `json:"id"`
	ConnectionID  int64           `json:"connection_id"`
	ExternalID    string          `json:"external_id,omitempty"`
	EventType     model.EventType `json:"event_type"`
	Status        string          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	Retryable     bool            `json:"retryable"`
	LastError     *string         `json:"last_error,omitempty"`
	Outcome       *string         `json:"outcome,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type ListWebhooksResponse struct {
	Webhooks []WebhookResponse `json:"webhooks"`
	Count    int               `json:"count"`
}

// ToWebhookResponse leaves the payload out of list views.
func ToWebhookResponse(rec *model.WebhookRecord, withPayload bool) WebhookResponse {
	resp := WebhookResponse{
		ID:            rec.ID,
		ConnectionID:  rec.ConnectionID,
		ExternalID:    rec.ExternalID,
		EventType:     rec.EventType,
		Status:        string(rec.Status),
		RetryCount:    rec.RetryCount,
		Retryable:     retry.IsRetryable(rec),
		LastError:     rec.LastError,
		NextAttemptAt: rec.NextAttemptAt,
		ReceivedAt:    rec.ReceivedAt,
		ProcessedAt:   rec.ProcessedAt,
	}
	if rec.Outcome != nil {
		o := string(*rec.Outcome)
		resp.Outcome = &o
	}
	if withPayload {
		resp.Payload = rec.Payload
	}
	return resp
}
