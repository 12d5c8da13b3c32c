package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subflow/internal/api"
	"subflow/internal/config"
	"subflow/internal/queue"
	"subflow/internal/ratelimit"
	"subflow/internal/storage"
	"subflow/internal/store"
	"subflow/internal/telemetry"
	"subflow/internal/workspace"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "subflow-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	ws, err := workspace.New(cfg.Dirs.Uploads, cfg.Dirs.Outputs, cfg.Dirs.Work)
	if err != nil {
		logger.Fatalf("workspace setup failed: %v", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		logger.Fatalf("workspace bootstrap failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var jobStore interface {
		store.JobStore
		store.EventStore
	}
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres store setup failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Printf("POSTGRES_DSN not set, using in-memory job store")
		jobStore = store.NewMemoryJobStore()
	}

	opts := api.Options{
		Tracer: otel.Tracer("subflow/api"),
	}
	if cfg.Storage.Enabled {
		artifacts, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("object storage setup failed: %v", err)
		}
		opts.Artifacts = artifacts
		logger.Printf("object storage download fallback enabled bucket=%s", artifacts.Bucket())
	}
	if cfg.API.RateLimitPerMinute > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitPerMinute, time.Minute, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, queueClient, jobStore, jobStore, ws, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
