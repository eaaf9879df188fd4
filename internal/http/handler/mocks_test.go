package handler_test

import (
	"context"

	"github.com/invopop/jsonschema"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/service"
	"jobboard.app/atsbridge/internal/store"
)

type mockIngestService struct {
	ingestFn func(ctx context.Context, params service.WebhookIngestParams) (*service.WebhookIngestResult, error)
	last     service.WebhookIngestParams
}

func (m *mockIngestService) Ingest(ctx context.Context, params service.WebhookIngestParams) (*service.WebhookIngestResult, error) {
	m.last = params
	if m.ingestFn != nil {
		return m.ingestFn(ctx, params)
	}
	return &service.WebhookIngestResult{Webhook: &model.WebhookRecord{ID: 1, EventType: model.EventUnknown}}, nil
}

type mockAdminService struct {
	listFn   func(ctx context.Context, params service.WebhookListParams) ([]model.WebhookRecord, error)
	getFn    func(ctx context.Context, id int64) (*model.WebhookRecord, error)
	retryFn  func(ctx context.Context, id int64) (*model.WebhookRecord, error)
	schemaFn func(eventType string) (*jsonschema.Schema, error)
}

func (m *mockAdminService) List(ctx context.Context, params service.WebhookListParams) ([]model.WebhookRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, params)
	}
	return nil, nil
}

func (m *mockAdminService) Get(ctx context.Context, id int64) (*model.WebhookRecord, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockAdminService) Retry(ctx context.Context, id int64) (*model.WebhookRecord, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockAdminService) Schema(eventType string) (*jsonschema.Schema, error) {
	if m.schemaFn != nil {
		return m.schemaFn(eventType)
	}
	return nil, store.ErrNotFound
}
