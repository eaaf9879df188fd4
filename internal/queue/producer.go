package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Notify(ctx context.Context, n Notice) error
	SendDLQ(ctx context.Context, d DeadLetter) error
	Close() error
}

type redisProducer struct {
	client    *redis.Client
	stream    string
	dlqStream string
	logger    *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream, dlqStream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:    client,
		stream:    stream,
		dlqStream: dlqStream,
		logger:    logger,
	}
}

func (p *redisProducer) Notify(ctx context.Context, n Notice) error {
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: noticeValues(n),
	}).Err(); err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}

	p.logger.DebugContext(ctx, "webhook notice published", "webhook_id", n.WebhookID, "connection_id", n.ConnectionID, "event_type", n.EventType)
	return nil
}

func (p *redisProducer) SendDLQ(ctx context.Context, d DeadLetter) error {
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.dlqStream,
		Values: deadLetterValues(d),
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", p.dlqStream, err)
	}

	p.logger.ErrorContext(ctx, "webhook sent to DLQ",
		"webhook_id", d.WebhookID,
		"attempts", d.Attempts,
		"final_error", d.Error,
		"dlq_stream", p.dlqStream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
