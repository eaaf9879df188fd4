package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/common/otel"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/bootstrap"
	"jobboard.app/atsbridge/internal/dispatch"
	"jobboard.app/atsbridge/internal/pipeline"
	"jobboard.app/atsbridge/internal/queue"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	owner := bootstrap.LeaseOwner(cfg.Pipeline.RedisConsumer)
	slog.InfoContext(ctx, "atsbridge worker starting",
		"env", cfg.Env,
		"owner", owner,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"workers", cfg.Pipeline.Workers)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	backend, err := bootstrap.OpenStores(ctx, cfg, false)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	redisClient, err := bootstrap.OpenRedis(ctx, cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer,
		BatchSize: int64(cfg.Pipeline.BatchSize),
		Block:     5 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, cfg.Pipeline.RedisDLQStream, slog.Default())
	locker := dispatch.NewRedisLocker(redisClient, dispatch.RedisLockerConfig{TTL: cfg.Pipeline.LockTTL})

	processor := bootstrap.NewProcessor(cfg, backend, locker, producer)

	w := pipeline.NewWorker(processor, consumer, pipeline.WorkerConfig{
		Owner:          owner,
		BatchSize:      cfg.Pipeline.BatchSize,
		Workers:        cfg.Pipeline.Workers,
		LeaseFor:       cfg.Pipeline.LeaseDuration,
		HandlerTimeout: cfg.Pipeline.HandlerTimeout,
		PollInterval:   cfg.Pipeline.PollInterval,
	})

	reclaimer := pipeline.NewLeaseReclaimer(backend.Stores.Webhooks(), consumer, pipeline.LeaseReclaimerConfig{
		Interval:      cfg.Pipeline.ReclaimEvery,
		NoticeMinIdle: cfg.Pipeline.LeaseDuration,
	})

	go func() {
		if err := w.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "worker exited", "error", err)
		}
	}()
	go reclaimer.Run(ctx)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	// In-flight webhooks finish under their handler timeout; leave room for it.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.HandlerTimeout+10*time.Second)
	defer cancel()

	reclaimer.Stop()

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-stopped:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
   __ _| |_ ___| |__  _ __(_) __| | __ _  ___
  / _' | __/ __| '_ \| '__| |/ _' |/ _' |/ _ \
 | (_| | |_\__ \ |_) | |  | | (_| | (_| |  __/
  \__,_|\__|___/_.__/|_|  |_|\__,_|\__, |\___|
                                    |___/  worker
`
