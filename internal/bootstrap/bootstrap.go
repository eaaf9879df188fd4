// Package bootstrap wires the store backend and Redis shared by the server,
// worker and atsctl binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/core/db"
	"jobboard.app/atsbridge/internal/dispatch"
	"jobboard.app/atsbridge/internal/pipeline"
	"jobboard.app/atsbridge/internal/retry"
	"jobboard.app/atsbridge/internal/store"
	"jobboard.app/atsbridge/internal/store/memstore"
)

// Backend is an opened store backend. Close releases it.
type Backend struct {
	Stores store.Provider
	Tx     store.TxRunner
	DB     *db.DB

	close func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenStores connects the backend selected by cfg.Store. With migrate set,
// pending migrations are applied to Postgres before returning.
func OpenStores(ctx context.Context, cfg config.Config, migrate bool) (*Backend, error) {
	if cfg.Store == config.StoreBackendMemory {
		slog.WarnContext(ctx, "using in-memory store, state is lost on exit")
		mem := memstore.New()
		return &Backend{Stores: mem, Tx: mem.TxRunner()}, nil
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	slog.InfoContext(ctx, "database connected")

	if migrate {
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, err
		}
	}

	return &Backend{
		Stores: store.NewStores(database.Conn()),
		Tx:     store.NewTxRunner(database),
		DB:     database,
		close:  database.Close,
	}, nil
}

// OpenRedis parses url and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewProcessor builds the webhook processor over backend. A nil locker
// serialises entity updates within this process only; a nil dlq drops
// exhausted webhooks after logging them.
func NewProcessor(cfg config.Config, backend *Backend, locker dispatch.Locker, dlq pipeline.DeadLetterSink) *pipeline.Processor {
	router := dispatch.NewRouter(backend.Tx, locker)
	policy := retry.NewPolicy(cfg.Pipeline.RetryBaseDelay, cfg.Pipeline.RetryMaxDelay)

	var opts []pipeline.ProcessorOption
	if dlq != nil {
		opts = append(opts, pipeline.WithDeadLetters(dlq))
	}
	return pipeline.NewProcessor(backend.Stores.Webhooks(), backend.Stores.Connections(), router, policy, opts...)
}

// LeaseOwner names this process in webhook leases.
func LeaseOwner(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s/%s", prefix, host, uuid.NewString()[:8])
}
