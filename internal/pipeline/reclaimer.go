package pipeline

import (
	"context"
	"log/slog"
	"time"

	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/internal/store"
)

type LeaseReclaimerConfig struct {
	Interval time.Duration
	// NoticeMinIdle and NoticeBatch apply to stale stream notices.
	NoticeMinIdle time.Duration
	NoticeBatch   int64
}

// LeaseReclaimer returns records whose lease expired (a worker died
// mid-batch) to pending, and clears notices stuck with dead consumers.
type LeaseReclaimer struct {
	webhooks store.WebhookStore
	notices  StaleNoticeClaimer
	cfg      LeaseReclaimerConfig
	now      func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewLeaseReclaimer creates a LeaseReclaimer. notices may be nil.
func NewLeaseReclaimer(webhooks store.WebhookStore, notices StaleNoticeClaimer, cfg LeaseReclaimerConfig) *LeaseReclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.NoticeMinIdle <= 0 {
		cfg.NoticeMinIdle = 5 * time.Minute
	}
	if cfg.NoticeBatch <= 0 {
		cfg.NoticeBatch = 100
	}
	return &LeaseReclaimer{
		webhooks:  webhooks,
		notices:   notices,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until Stop() is called or ctx ends.
func (r *LeaseReclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "atsbridge.pipeline.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started", "interval", r.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			r.ReclaimOnce(ctx)
		}
	}
}

// Stop signals the reclaimer to stop gracefully.
func (r *LeaseReclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// ReclaimOnce performs one reclaim cycle and returns how many leases it released.
func (r *LeaseReclaimer) ReclaimOnce(ctx context.Context) int64 {
	released, err := r.webhooks.ReleaseExpiredLeases(ctx, r.now())
	if err != nil {
		slog.ErrorContext(ctx, "releasing expired leases failed", "error", err)
	} else if released > 0 {
		slog.WarnContext(ctx, "released expired webhook leases", "count", released)
	}

	if r.notices != nil {
		stale, err := r.notices.ReclaimStale(ctx, r.cfg.NoticeMinIdle, r.cfg.NoticeBatch)
		if err != nil {
			slog.ErrorContext(ctx, "reclaiming stale notices failed", "error", err)
		}
		for _, msg := range stale {
			if err := r.notices.Ack(ctx, msg); err != nil {
				slog.WarnContext(ctx, "failed to ack stale notice", "error", err, "message_id", msg.ID)
			}
		}
		if len(stale) > 0 {
			slog.InfoContext(ctx, "cleared stale notices", "count", len(stale))
		}
	}

	return released
}
