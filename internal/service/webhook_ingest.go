package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/queue"
	"jobboard.app/atsbridge/internal/store"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionInactive = errors.New("connection is inactive")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidBody        = errors.New("invalid webhook body")
)

type WebhookIngestParams struct {
	ConnectionID int64
	Headers      http.Header
	Body         []byte
	TraceID      *string
}

type WebhookIngestResult struct {
	Webhook   *model.WebhookRecord
	Duplicate bool
	Notified  bool
}

type WebhookIngestService interface {
	Ingest(ctx context.Context, params WebhookIngestParams) (*WebhookIngestResult, error)
}

type webhookIngestService struct {
	webhooks    store.WebhookStore
	connections store.ConnectionStore
	providers   config.Providers
	notifier    queue.Producer
	logger      *slog.Logger
}

func NewWebhookIngestService(
	webhooks store.WebhookStore,
	connections store.ConnectionStore,
	providers config.Providers,
	notifier queue.Producer,
	logger *slog.Logger,
) WebhookIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &webhookIngestService{
		webhooks:    webhooks,
		connections: connections,
		providers:   providers,
		notifier:    notifier,
		logger:      logger,
	}
}

func (s *webhookIngestService) Ingest(ctx context.Context, params WebhookIngestParams) (*WebhookIngestResult, error) {
	conn, err := s.connections.GetByID(ctx, params.ConnectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("fetching connection: %w", err)
	}
	if !conn.Active {
		return nil, ErrConnectionInactive
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConnectionID: logger.Ptr(conn.ID),
		Provider:     logger.Ptr(conn.Provider),
		Component:    "atsbridge.service.webhook_ingest",
	})

	// Unlisted providers fall back to the default field and header names.
	provider, _ := s.providers.Get(conn.Provider)

	creds, err := conn.ParseCredentials()
	if err != nil {
		return nil, fmt.Errorf("parsing connection credentials: %w", err)
	}
	if creds.WebhookSecret != "" {
		signature := params.Headers.Get(provider.SignatureHeaderOrDefault())
		if !VerifySignature(creds.WebhookSecret, params.Body, signature) {
			return nil, ErrInvalidSignature
		}
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(params.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}

	eventName := ""
	if provider.EventHeader != "" {
		eventName = params.Headers.Get(provider.EventHeader)
	}
	if eventName == "" {
		eventName = scalarField(body, provider.EventFieldOrDefault())
	}
	if eventName == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrInvalidBody)
	}
	eventType := model.ParseEventType(provider.MapEvent(eventName))

	rec, created, err := s.webhooks.Enqueue(ctx, store.EnqueueParams{
		ID:           id.New(),
		ConnectionID: conn.ID,
		EventType:    eventType,
		ExternalID:   scalarField(body, provider.IDFieldOrDefault()),
		Payload:      json.RawMessage(params.Body),
	})
	if err != nil {
		// The connection was deleted after the lookup above.
		if errors.Is(err, store.ErrValidation) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("enqueueing webhook: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WebhookID: logger.Ptr(rec.ID),
		EventType: logger.Ptr(string(rec.EventType)),
	})

	if !created {
		s.logger.InfoContext(ctx, "duplicate webhook deduped", "external_id", rec.ExternalID)
		return &WebhookIngestResult{Webhook: rec, Duplicate: true}, nil
	}

	if eventType == model.EventUnknown {
		s.logger.WarnContext(ctx, "webhook stored with unknown event type", "provider_event", eventName)
	}

	result := &WebhookIngestResult{Webhook: rec}
	if s.notifier != nil {
		// The record is durable already; a lost notice only delays it until the next poll.
		if err := s.notifier.Notify(ctx, queue.Notice{
			WebhookID:    rec.ID,
			ConnectionID: rec.ConnectionID,
			EventType:    string(rec.EventType),
			TraceID:      params.TraceID,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to notify worker", "error", err)
		} else {
			result.Notified = true
		}
	}

	return result, nil
}

// VerifySignature checks a hex HMAC-SHA256 of body, with or without a
// "sha256=" prefix.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign produces the signature VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// scalarField reads key as a string, accepting numbers as well. Dotted keys
// walk nested objects.
func scalarField(body map[string]json.RawMessage, key string) string {
	head, rest, nested := strings.Cut(key, ".")
	raw, ok := body[head]
	if !ok {
		return ""
	}
	if nested {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return ""
		}
		return scalarField(inner, rest)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
