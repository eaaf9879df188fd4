package service

import (
	"log/slog"

	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/queue"
	"jobboard.app/atsbridge/internal/store"
)

type Services struct {
	stores    store.Provider
	providers config.Providers
	notifier  queue.Producer
	logger    *slog.Logger
}

func NewServices(stores store.Provider, providers config.Providers, notifier queue.Producer, logger *slog.Logger) *Services {
	return &Services{
		stores:    stores,
		providers: providers,
		notifier:  notifier,
		logger:    logger,
	}
}

func (s *Services) WebhookIngest() WebhookIngestService {
	return NewWebhookIngestService(s.stores.Webhooks(), s.stores.Connections(), s.providers, s.notifier, s.logger)
}

func (s *Services) WebhookAdmin() WebhookAdminService {
	return NewWebhookAdminService(s.stores.Webhooks(), s.notifier)
}
