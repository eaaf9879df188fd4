package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/internal/queue"
)

type WorkerConfig struct {
	Owner          string
	BatchSize      int
	Workers        int
	LeaseFor       time.Duration
	HandlerTimeout time.Duration
	// PollInterval bounds how long the worker idles without a notice.
	PollInterval time.Duration
}

// Worker drains the webhook store continuously. Stream notices wake it early;
// without them it polls.
type Worker struct {
	processor *Processor
	notices   NoticeConsumer
	cfg       WorkerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewWorker builds a Worker. notices may be nil, in which case the worker
// only polls.
func NewWorker(processor *Processor, notices NoticeConsumer, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Worker{
		processor: processor,
		notices:   notices,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WorkerID:  logger.Ptr(w.cfg.Owner),
		Component: "atsbridge.pipeline.worker",
	})
	slog.InfoContext(ctx, "worker started", "poll_interval", w.cfg.PollInterval, "workers", w.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
		}

		if err := w.drain(ctx); err != nil {
			slog.ErrorContext(ctx, "batch processing error", "error", err)
			w.sleep(ctx, time.Second)
			continue
		}

		if err := w.wait(ctx); err != nil {
			slog.ErrorContext(ctx, "waiting for notices failed", "error", err)
			w.sleep(ctx, time.Second)
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.stoppedCh
}

// drain runs batches until one comes back short.
func (w *Worker) drain(ctx context.Context) error {
	for {
		summary, err := w.processor.Run(ctx, RunOptions{
			Retry:          true,
			Limit:          w.cfg.BatchSize,
			Workers:        w.cfg.Workers,
			Owner:          w.cfg.Owner,
			LeaseFor:       w.cfg.LeaseFor,
			HandlerTimeout: w.cfg.HandlerTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("running batch: %w", err)
		}
		if summary.Claimed < w.cfg.BatchSize || w.stopping() || ctx.Err() != nil {
			return nil
		}
	}
}

// wait blocks until a notice arrives or the poll interval elapses, then acks
// whatever it read. Notices carry no work of their own.
func (w *Worker) wait(ctx context.Context) error {
	if w.notices == nil {
		w.sleep(ctx, w.cfg.PollInterval)
		return nil
	}

	messages, err := w.notices.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("reading notices: %w", err)
	}
	w.ack(ctx, messages)
	return nil
}

func (w *Worker) ack(ctx context.Context, messages []queue.Message) {
	for _, msg := range messages {
		if err := w.notices.Ack(ctx, msg); err != nil {
			// An unacked notice is reclaimed later; harmless.
			slog.WarnContext(ctx, "failed to ack notice", "error", err, "message_id", msg.ID)
		}
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}
