package pipeline

import (
	"context"
	"time"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/queue"
)

// Dispatcher applies one webhook and marks it processed.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *model.Connection, rec *model.WebhookRecord) (model.Outcome, error)
}

// DeadLetterSink receives webhooks that used every attempt.
type DeadLetterSink interface {
	SendDLQ(ctx context.Context, d queue.DeadLetter) error
}

// NoticeConsumer abstracts the wake-up stream for testability.
type NoticeConsumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
}

// StaleNoticeClaimer takes over notices abandoned by a dead consumer.
type StaleNoticeClaimer interface {
	ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
}
