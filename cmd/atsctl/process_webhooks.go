package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobboard.app/atsbridge/internal/bootstrap"
	"jobboard.app/atsbridge/internal/dispatch"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/pipeline"
	"jobboard.app/atsbridge/internal/queue"
)

var processWebhooksCmd = &cobra.Command{
	Use:   "process-webhooks",
	Short: "Process one batch of stored webhooks.",
	Long: `Claims up to --limit pending webhooks and applies them. With --retry, failed
webhooks whose backoff has elapsed are reset and processed alongside pending ones;
with --failed, only those are processed. Exits 1 if any webhook failed.`,
	RunE: runProcessWebhooks,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	f := processWebhooksCmd.Flags()
	f.Int64("connection", 0, "only process webhooks for this connection id")
	f.String("event-type", "", "only process webhooks of this event type")
	f.Bool("failed", false, "only retry failed webhooks")
	f.Bool("retry", false, "also retry failed webhooks whose backoff has elapsed")
	f.Int("limit", 50, "maximum webhooks to claim")
	f.Int("workers", 1, "webhooks processed concurrently")
	bindFlags(processWebhooksCmd, false, "process", "connection", "event-type", "failed", "retry", "limit", "workers")
}

func runProcessWebhooks(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := processOptions()
	if err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	locker, dlq, closeRedis := redisExtras(ctx, a)
	defer closeRedis()

	processor := bootstrap.NewProcessor(a.cfg, a.backend, locker, dlq)

	opts.Owner = bootstrap.LeaseOwner("atsctl")
	opts.LeaseFor = a.cfg.Pipeline.LeaseDuration
	opts.HandlerTimeout = a.cfg.Pipeline.HandlerTimeout

	summary, err := processor.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("processing webhooks: %w", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if summary.AnyFailed() {
		return fmt.Errorf("%w: %d failed, %d errored", errItemsFailed, summary.Failed, summary.Errors)
	}
	return nil
}

func processOptions() (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{
		Retry:      viper.GetBool("process.retry"),
		OnlyFailed: viper.GetBool("process.failed"),
		Limit:      viper.GetInt("process.limit"),
		Workers:    viper.GetInt("process.workers"),
	}
	if opts.Limit <= 0 {
		return opts, fmt.Errorf("--limit must be positive")
	}
	if opts.Workers <= 0 {
		return opts, fmt.Errorf("--workers must be positive")
	}

	if connID := viper.GetInt64("process.connection"); connID != 0 {
		opts.ConnectionID = &connID
	}
	if raw := viper.GetString("process.event-type"); raw != "" {
		evt := model.EventType(raw)
		if !evt.Valid() {
			return opts, fmt.Errorf("unknown event type %q", raw)
		}
		opts.EventType = &evt
	}
	return opts, nil
}

// redisExtras connects the cross-process entity lock and the dead-letter
// stream when Redis is reachable. Without it the run still works, locking
// entities within this process only.
func redisExtras(ctx context.Context, a *app) (dispatch.Locker, pipeline.DeadLetterSink, func()) {
	if a.backend.DB == nil {
		return nil, nil, func() {}
	}

	client, err := bootstrap.OpenRedis(ctx, a.cfg.Pipeline.RedisURL)
	if err != nil {
		slog.WarnContext(ctx, "redis unavailable, entity locks are process-local and dead letters are not published", "error", err)
		return nil, nil, func() {}
	}

	producer := queue.NewRedisProducer(client, a.cfg.Pipeline.RedisStream, a.cfg.Pipeline.RedisDLQStream, slog.Default())
	locker := dispatch.NewRedisLocker(client, dispatch.RedisLockerConfig{TTL: a.cfg.Pipeline.LockTTL})
	// The producer owns the client.
	return locker, producer, func() { _ = producer.Close() }
}
