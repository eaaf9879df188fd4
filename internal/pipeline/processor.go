package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/internal/dispatch"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/queue"
	"jobboard.app/atsbridge/internal/retry"
	"jobboard.app/atsbridge/internal/store"
)

const (
	defaultLimit          = 50
	defaultLeaseFor       = 5 * time.Minute
	defaultHandlerTimeout = 30 * time.Second
)

// RunOptions selects and bounds one pass over the webhook store.
type RunOptions struct {
	ConnectionID *int64
	EventType    *model.EventType
	Limit        int
	Workers      int

	// Retry resets due failed records to pending before claiming, then
	// processes them together with fresh pending records.
	Retry bool
	// OnlyFailed resets due failed records and processes only those.
	OnlyFailed bool

	Owner          string
	LeaseFor       time.Duration
	HandlerTimeout time.Duration
}

// Summary counts what one Run did.
type Summary struct {
	Reset     int                   `json:"reset"`
	Claimed   int                   `json:"claimed"`
	Processed int                   `json:"processed"`
	Failed    int                   `json:"failed"`
	Exhausted int                   `json:"exhausted"`
	Errors    int                   `json:"errors"`
	// LeaseLost counts records whose lease ran out before they finished;
	// another run owns them now.
	LeaseLost int                   `json:"lease_lost"`
	Outcomes  map[model.Outcome]int `json:"outcomes,omitempty"`
}

// AnyFailed is true when at least one record did not end up processed.
func (s Summary) AnyFailed() bool {
	return s.Failed > 0 || s.Errors > 0
}

type Processor struct {
	webhooks    store.WebhookStore
	connections store.ConnectionStore
	router      Dispatcher
	policy      retry.Policy
	dlq         DeadLetterSink
	now         func() time.Time
}

type ProcessorOption func(*Processor)

func WithDeadLetters(dlq DeadLetterSink) ProcessorOption {
	return func(p *Processor) { p.dlq = dlq }
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(webhooks store.WebhookStore, connections store.ConnectionStore, router Dispatcher, policy retry.Policy, opts ...ProcessorOption) *Processor {
	p := &Processor{
		webhooks:    webhooks,
		connections: connections,
		router:      router,
		policy:      policy,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run claims one bounded batch and dispatches it with up to Workers handlers
// in flight. A cancelled ctx stops new claims; records already claimed are
// finished under their own timeout.
func (p *Processor) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	opts = withDefaults(opts)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkerID:  logger.Ptr(opts.Owner),
		Component: "atsbridge.pipeline.processor",
	})

	summary := Summary{Outcomes: make(map[model.Outcome]int)}

	var ids []int64
	if opts.Retry || opts.OnlyFailed {
		reset, err := p.resetDue(ctx, opts)
		if err != nil {
			return summary, fmt.Errorf("resetting failed webhooks: %w", err)
		}
		summary.Reset = len(reset)
		if opts.OnlyFailed {
			if len(reset) == 0 {
				return summary, nil
			}
			ids = reset
		}
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	batch, err := p.webhooks.ClaimBatch(ctx, model.ClaimParams{
		ConnectionID: opts.ConnectionID,
		EventType:    opts.EventType,
		IDs:          ids,
		Owner:        opts.Owner,
		LeaseFor:     opts.LeaseFor,
		Limit:        opts.Limit,
		Now:          p.now(),
	})
	if err != nil {
		return summary, fmt.Errorf("claiming webhooks: %w", err)
	}
	summary.Claimed = len(batch)
	if len(batch) == 0 {
		return summary, nil
	}

	slog.InfoContext(ctx, "claimed webhook batch", "count", len(batch), "lease_for", opts.LeaseFor)

	// Claimed records are ours until the lease lapses; finish them even if
	// the caller is shutting down.
	work := context.WithoutCancel(ctx)
	conns := newConnectionCache(p.connections)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)
	for i := range batch {
		rec := batch[i]
		g.Go(func() error {
			res := p.handle(work, conns, &rec, opts.HandlerTimeout)

			mu.Lock()
			defer mu.Unlock()
			res.addTo(&summary)
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "webhook batch finished",
		"claimed", summary.Claimed,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"exhausted", summary.Exhausted,
		"errors", summary.Errors,
		"lease_lost", summary.LeaseLost)

	return summary, nil
}

// resetDue moves retryable failed records whose backoff has elapsed back to
// pending and returns their ids.
func (p *Processor) resetDue(ctx context.Context, opts RunOptions) ([]int64, error) {
	now := p.now()
	candidates, err := p.webhooks.RetryableBatch(ctx, model.RetryFilter{
		ConnectionID: opts.ConnectionID,
		EventType:    opts.EventType,
		DueBy:        &now,
	}, opts.Limit)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for i := range candidates {
		rec := &candidates[i]
		if !p.policy.IsDue(rec, now) {
			continue
		}
		if err := p.webhooks.ResetForRetry(ctx, rec.ID); err != nil {
			// Another runner may have reset it first.
			slog.WarnContext(ctx, "failed to reset webhook for retry", "webhook_id", rec.ID, "error", err)
			continue
		}
		ids = append(ids, rec.ID)
	}
	if len(ids) > 0 {
		slog.InfoContext(ctx, "reset failed webhooks for retry", "count", len(ids))
	}
	return ids, nil
}

type result struct {
	outcome   model.Outcome
	failed    bool
	exhausted bool
	err       bool
	leaseLost bool
}

func (r result) addTo(s *Summary) {
	switch {
	case r.leaseLost:
		s.LeaseLost++
	case r.err:
		s.Errors++
	case r.failed:
		s.Failed++
		if r.exhausted {
			s.Exhausted++
		}
	default:
		s.Processed++
		s.Outcomes[r.outcome]++
	}
}

func (p *Processor) handle(ctx context.Context, conns *connectionCache, rec *model.WebhookRecord, timeout time.Duration) result {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WebhookID:    logger.Ptr(rec.ID),
		ConnectionID: logger.Ptr(rec.ConnectionID),
		EventType:    logger.Ptr(string(rec.EventType)),
	})
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Records queue behind the worker limit; one that waited past its lease
	// may already be pending again or claimed by another run.
	if rec.LeaseExpired(p.now()) {
		slog.WarnContext(ctx, "webhook lease expired before dispatch, skipping", "lease_expires_at", rec.LeaseExpiresAt)
		return result{leaseLost: true}
	}

	conn, err := conns.get(ctx, rec.ConnectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return p.fail(ctx, rec, fmt.Errorf("connection %d not found", rec.ConnectionID))
		}
		slog.ErrorContext(ctx, "failed to load connection", "error", err)
		return result{err: true}
	}

	outcome, err := p.dispatchSafe(ctx, conn, rec)
	if err == nil {
		return result{outcome: outcome}
	}

	var herr *dispatch.HandlerError
	if errors.As(err, &herr) {
		return p.fail(ctx, rec, herr.Err)
	}
	if errors.Is(err, store.ErrLeaseLost) {
		slog.WarnContext(ctx, "webhook lease lost during dispatch", "error", err)
		return result{leaseLost: true}
	}

	// Not a handler failure: the record stays leased and the reclaimer
	// returns it to pending when the lease expires.
	slog.ErrorContext(ctx, "webhook could not be completed", "error", err)
	return result{err: true}
}

func (p *Processor) dispatchSafe(ctx context.Context, conn *model.Connection, rec *model.WebhookRecord) (outcome model.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in webhook dispatch", "panic", r)
			err = &dispatch.HandlerError{WebhookID: rec.ID, EventType: string(rec.EventType), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.router.Dispatch(ctx, conn, rec)
}

func (p *Processor) fail(ctx context.Context, rec *model.WebhookRecord, cause error) result {
	attempt := retry.NextAttemptNumber(rec)
	reason := logger.Truncate(cause.Error(), 1000)

	updated, err := p.webhooks.MarkFailed(ctx, rec.ID, rec.Lease(), reason, p.policy.NextAttemptAt(attempt, p.now()))
	if errors.Is(err, store.ErrLeaseLost) {
		slog.WarnContext(ctx, "webhook lease lost before failure was recorded", "cause", reason)
		return result{leaseLost: true}
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark webhook failed", "error", err, "cause", reason)
		return result{err: true}
	}

	if !updated.Exhausted() {
		slog.WarnContext(ctx, "webhook failed, will retry",
			"attempt", updated.RetryCount,
			"next_attempt_at", updated.NextAttemptAt,
			"error", reason)
		return result{failed: true}
	}

	slog.ErrorContext(ctx, "webhook exhausted retries", "attempts", updated.RetryCount, "error", reason)
	if p.dlq != nil {
		if err := p.dlq.SendDLQ(ctx, queue.DeadLetter{
			WebhookID:    rec.ID,
			ConnectionID: rec.ConnectionID,
			EventType:    string(rec.EventType),
			Attempts:     updated.RetryCount,
			Error:        reason,
		}); err != nil {
			slog.ErrorContext(ctx, "failed to send webhook to DLQ", "error", err)
		}
	}
	return result{failed: true, exhausted: true}
}

func withDefaults(o RunOptions) RunOptions {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.LeaseFor <= 0 {
		o.LeaseFor = defaultLeaseFor
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = defaultHandlerTimeout
	}
	if o.Owner == "" {
		o.Owner = "atsctl"
	}
	return o
}

// connectionCache loads each connection once per run.
type connectionCache struct {
	store store.ConnectionStore

	mu    sync.Mutex
	conns map[int64]*model.Connection
}

func newConnectionCache(s store.ConnectionStore) *connectionCache {
	return &connectionCache{store: s, conns: make(map[int64]*model.Connection)}
}

func (c *connectionCache) get(ctx context.Context, id int64) (*model.Connection, error) {
	c.mu.Lock()
	conn, ok := c.conns[id]
	c.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conns[id] = conn
	c.mu.Unlock()
	return conn, nil
}
