package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/common/otel"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/bootstrap"
	"jobboard.app/atsbridge/internal/http/middleware"
	httprouter "jobboard.app/atsbridge/internal/http/router"
	"jobboard.app/atsbridge/internal/pipeline"
	"jobboard.app/atsbridge/internal/queue"
	"jobboard.app/atsbridge/internal/service"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "atsbridge server starting", "env", cfg.Env, "store", cfg.Store)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	backend, err := bootstrap.OpenStores(ctx, cfg, false)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	var notifier queue.Producer
	var inline *pipeline.Worker
	if cfg.Store == config.StoreBackendMemory {
		// Nothing outside this process can see the memory store, so it
		// processes its own webhooks.
		inline = pipeline.NewWorker(bootstrap.NewProcessor(cfg, backend, nil, nil), nil, pipeline.WorkerConfig{
			Owner:          bootstrap.LeaseOwner("server"),
			BatchSize:      cfg.Pipeline.BatchSize,
			Workers:        cfg.Pipeline.Workers,
			LeaseFor:       cfg.Pipeline.LeaseDuration,
			HandlerTimeout: cfg.Pipeline.HandlerTimeout,
			PollInterval:   time.Second,
		})
		go func() {
			if err := inline.Run(ctx); err != nil {
				slog.ErrorContext(ctx, "inline worker exited", "error", err)
			}
		}()
	} else {
		redisClient, err := bootstrap.OpenRedis(ctx, cfg.Pipeline.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

		notifier = queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, cfg.Pipeline.RedisDLQStream, slog.Default())
		defer notifier.Close()
	}

	services := service.NewServices(backend.Stores, cfg.Providers, notifier, slog.Default())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if inline != nil {
		inline.Stop()
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
		AdminAPIKey:     cfg.AdminAPIKey,
	})

	return router
}

const banner = `
   __ _| |_ ___| |__  _ __(_) __| | __ _  ___
  / _' | __/ __| '_ \| '__| |/ _' |/ _' |/ _ \
 | (_| | |_\__ \ |_) | |  | | (_| | (_| |  __/
  \__,_|\__|___/_.__/|_|  |_|\__,_|\__, |\___|
                                    |___/  server
`
