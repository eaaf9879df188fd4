// Package registry tracks ATS connections and when each may sync again.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store"
)

type Registry struct {
	connections store.ConnectionStore
	providers   config.Providers
	now         func() time.Time
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(connections store.ConnectionStore, providers config.Providers, opts ...Option) *Registry {
	r := &Registry{
		connections: connections,
		providers:   providers,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) CanSync(conn *model.Connection) bool {
	return conn.CanSync(r.now())
}

func (r *Registry) Get(ctx context.Context, id int64) (*model.Connection, error) {
	return r.connections.GetByID(ctx, id)
}

// ListActive returns active connections, optionally for one provider.
func (r *Registry) ListActive(ctx context.Context, provider *string) ([]model.Connection, error) {
	return r.connections.ListActive(ctx, provider)
}

// RecordSyncAttempt stamps last_synced_at and opens a new cool-down window.
// Failed attempts count too, so a broken provider is not hammered.
func (r *Registry) RecordSyncAttempt(ctx context.Context, conn *model.Connection, result model.SyncResult) error {
	now := r.now()
	next := now.Add(r.providers.SyncInterval(conn.Provider))

	if err := r.connections.RecordSync(ctx, conn.ID, now, next); err != nil {
		return fmt.Errorf("recording sync for connection %d: %w", conn.ID, err)
	}
	conn.LastSyncedAt = &now
	conn.NextEligibleAt = &next

	slog.DebugContext(ctx, "sync attempt recorded",
		"connection_id", conn.ID,
		"success", result.Success,
		"next_eligible_at", next)
	return nil
}
