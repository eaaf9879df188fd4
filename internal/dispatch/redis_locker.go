package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Compare-and-delete so a holder whose TTL lapsed cannot release a lock
// that has since been taken by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every worker process pointed at the
// same Redis. Locks expire after ttl if the holder dies.
type RedisLocker struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

type RedisLockerConfig struct {
	Prefix    string
	TTL       time.Duration
	RetryWait time.Duration
}

func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "atsbridge:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:    client,
		prefix:    cfg.Prefix,
		ttl:       cfg.TTL,
		retryWait: cfg.RetryWait,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.WarnContext(ctx, "failed to release entity lock", "key", key, "error", err)
			}
		})
	}, nil
}
