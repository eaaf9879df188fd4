package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"jobboard.app/atsbridge/common/logger"
)

type ConsumerConfig struct {
	Stream    string        // Redis stream name
	Group     string        // Redis consumer group name
	Consumer  string        // Redis consumer name
	BatchSize int64         // Number of notices to read per call
	Block     time.Duration // How long to block/poll for new notices
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so notices published while no group existed are still seen.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "atsbridge.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads only notices never delivered to this group; stale
		// deliveries are picked up by ReclaimStale.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	return c.parse(ctx, streams), nil
}

func (c *RedisConsumer) parse(ctx context.Context, streams []redis.XStream) []Message {
	var messages []Message
	for _, stream := range streams {
		messages = append(messages, c.parseMessages(ctx, stream.Messages)...)
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read notices from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}
	return messages
}

func (c *RedisConsumer) parseMessages(ctx context.Context, raw []redis.XMessage) []Message {
	var messages []Message
	for _, msg := range raw {
		parsed, parseErr := ParseMessage(msg)
		if parseErr != nil {
			slog.ErrorContext(ctx, "failed to parse notice",
				"error", parseErr,
				"raw_message_id", msg.ID,
				"stream", c.cfg.Stream)
			_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
			continue
		}
		messages = append(messages, parsed)
	}
	return messages
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// ReclaimStale takes over notices delivered to a consumer that never acked
// them, e.g. a worker that crashed after XREADGROUP.
func (c *RedisConsumer) ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim: %w", err)
	}

	return c.parseMessages(ctx, claimed), nil
}
