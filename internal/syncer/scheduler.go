// Package syncer runs provider syncs against eligible connections.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/internal/model"
)

// ErrRateLimited is returned when a connection is still cooling down and the
// caller did not force the sync.
var ErrRateLimited = errors.New("rate limited")

const (
	rateLimitedMessage = "Rate limited"
	cancelledMessage   = "Cancelled"
)

// Client performs the provider-side sync for one connection. It owns its
// own network timeouts.
type Client interface {
	Sync(ctx context.Context, conn *model.Connection, filters model.SyncFilters) (model.SyncResult, error)
}

type Registry interface {
	CanSync(conn *model.Connection) bool
	ListActive(ctx context.Context, provider *string) ([]model.Connection, error)
	RecordSyncAttempt(ctx context.Context, conn *model.Connection, result model.SyncResult) error
}

type Scheduler struct {
	registry Registry
	client   Client
	workers  int
}

func NewScheduler(registry Registry, client Client, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{registry: registry, client: client, workers: workers}
}

// RunForConnection syncs one connection and returns the client's result
// verbatim. A client error becomes a failed result, not an error.
func (s *Scheduler) RunForConnection(ctx context.Context, conn *model.Connection, filters model.SyncFilters, force bool) (model.SyncResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConnectionID: logger.Ptr(conn.ID),
		Provider:     logger.Ptr(conn.Provider),
		Component:    "atsbridge.syncer.scheduler",
	})

	if !force && !s.registry.CanSync(conn) {
		slog.InfoContext(ctx, "connection not eligible for sync", "next_eligible_at", conn.NextEligibleAt)
		return model.FailedSync(rateLimitedMessage), fmt.Errorf("connection %d: %w", conn.ID, ErrRateLimited)
	}

	sc := logger.StartSpan(ctx, "sync."+conn.Provider)
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(attribute.Int64("connection.id", conn.ID), attribute.Bool("sync.forced", force))

	result, err := s.client.Sync(ctx, conn, filters)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "connection sync failed", "error", err)
		result = model.FailedSync(err.Error())
	} else if result.Success {
		slog.InfoContext(ctx, "connection synced", "counts", result.Counts)
	} else {
		slog.WarnContext(ctx, "connection sync reported failure", "error", result.Error)
	}

	// The attempt happened; record it even if the caller is going away.
	if err := s.registry.RecordSyncAttempt(context.WithoutCancel(ctx), conn, result); err != nil {
		slog.ErrorContext(ctx, "failed to record sync attempt", "error", err)
	}

	return result, nil
}

// RunForProvider syncs every active connection of provider. Rate-limited
// connections appear in the result as failures and are not attempted.
func (s *Scheduler) RunForProvider(ctx context.Context, provider string, filters model.SyncFilters, force bool) (map[string]model.SyncResult, error) {
	conns, err := s.registry.ListActive(ctx, &provider)
	if err != nil {
		return nil, fmt.Errorf("listing %s connections: %w", provider, err)
	}
	return s.fanOut(ctx, conns, filters, force), nil
}

// RunForAll syncs every active connection across providers.
func (s *Scheduler) RunForAll(ctx context.Context, filters model.SyncFilters, force bool) (map[string]model.SyncResult, error) {
	conns, err := s.registry.ListActive(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	return s.fanOut(ctx, conns, filters, force), nil
}

func (s *Scheduler) fanOut(ctx context.Context, conns []model.Connection, filters model.SyncFilters, force bool) map[string]model.SyncResult {
	keys := resultKeys(conns)
	results := newCollector(len(conns))

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i := range conns {
		conn := &conns[i]
		key := keys[i]

		if ctx.Err() != nil {
			results.put(key, model.FailedSync(cancelledMessage))
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				results.put(key, model.FailedSync(cancelledMessage))
				return nil
			}
			result, err := s.RunForConnection(ctx, conn, filters, force)
			if err != nil && !errors.Is(err, ErrRateLimited) {
				result = model.FailedSync(err.Error())
			}
			results.put(key, result)
			return nil
		})
	}
	_ = g.Wait()

	return results.snapshot()
}

// AnyFailed drives the exit code of a sync run.
func AnyFailed(results map[string]model.SyncResult) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}

// resultKeys names results by connection name, adding the id when two
// connections share a name.
func resultKeys(conns []model.Connection) []string {
	seen := make(map[string]int, len(conns))
	for _, c := range conns {
		seen[c.Name]++
	}
	keys := make([]string, len(conns))
	for i, c := range conns {
		if seen[c.Name] > 1 || c.Name == "" {
			keys[i] = fmt.Sprintf("%s#%d", c.Name, c.ID)
			continue
		}
		keys[i] = c.Name
	}
	return keys
}

// SortedNames returns result keys in a stable order for reporting.
func SortedNames(results map[string]model.SyncResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type collector struct {
	mu      sync.Mutex
	results map[string]model.SyncResult
}

func newCollector(size int) *collector {
	return &collector{results: make(map[string]model.SyncResult, size)}
}

func (c *collector) put(key string, r model.SyncResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = r
}

func (c *collector) snapshot() map[string]model.SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.SyncResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}
