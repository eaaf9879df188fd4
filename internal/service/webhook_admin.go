package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/queue"
	"jobboard.app/atsbridge/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type WebhookListParams struct {
	Status       model.WebhookStatus
	ConnectionID *int64
	EventType    *model.EventType
	Limit        int
}

// WebhookAdminService backs the operator endpoints for inspecting and
// re-driving stored webhooks.
type WebhookAdminService interface {
	List(ctx context.Context, params WebhookListParams) ([]model.WebhookRecord, error)
	Get(ctx context.Context, id int64) (*model.WebhookRecord, error)
	Retry(ctx context.Context, id int64) (*model.WebhookRecord, error)
	Schema(eventType string) (*jsonschema.Schema, error)
}

type webhookAdminService struct {
	webhooks store.WebhookStore
	notifier queue.Producer
}

func NewWebhookAdminService(webhooks store.WebhookStore, notifier queue.Producer) WebhookAdminService {
	return &webhookAdminService{webhooks: webhooks, notifier: notifier}
}

func (s *webhookAdminService) List(ctx context.Context, params WebhookListParams) ([]model.WebhookRecord, error) {
	if params.Status == "" {
		params.Status = model.WebhookStatusFailed
	}
	if !params.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, params.Status)
	}
	if params.EventType != nil && !params.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", store.ErrValidation, *params.EventType)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	return s.webhooks.FetchBatch(ctx, model.WebhookFilter{
		Status:       params.Status,
		ConnectionID: params.ConnectionID,
		EventType:    params.EventType,
	}, limit)
}

func (s *webhookAdminService) Get(ctx context.Context, id int64) (*model.WebhookRecord, error) {
	return s.webhooks.GetByID(ctx, id)
}

// Retry resets a failed webhook that still has attempts left and wakes the
// worker for it. The backoff schedule is bypassed.
func (s *webhookAdminService) Retry(ctx context.Context, id int64) (*model.WebhookRecord, error) {
	if err := s.webhooks.ResetForRetry(ctx, id); err != nil {
		return nil, err
	}

	rec, err := s.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, queue.Notice{
			WebhookID:    rec.ID,
			ConnectionID: rec.ConnectionID,
			EventType:    string(rec.EventType),
		}); err != nil {
			slog.WarnContext(ctx, "failed to notify worker after manual retry", "webhook_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

func (s *webhookAdminService) Schema(eventType string) (*jsonschema.Schema, error) {
	prototype := model.PayloadPrototype(model.EventType(eventType))
	if prototype == nil {
		return nil, fmt.Errorf("%w: no payload schema for event type %q", store.ErrNotFound, eventType)
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return reflector.Reflect(prototype), nil
}
