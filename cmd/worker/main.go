package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"subflow/internal/config"
	"subflow/internal/storage"
	"subflow/internal/store"
	"subflow/internal/telemetry"
	"subflow/internal/webhook"
	"subflow/internal/worker"
	"subflow/internal/workspace"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "subflow-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	ws, err := workspace.New(cfg.Dirs.Uploads, cfg.Dirs.Outputs, cfg.Dirs.Work)
	if err != nil {
		logger.Fatalf("workspace setup failed: %v", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		logger.Fatalf("workspace bootstrap failed: %v", err)
	}

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

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	var artifacts *storage.Client
	if cfg.Storage.Enabled {
		artifacts, err = storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("object storage setup failed: %v", err)
		}
		if err := artifacts.EnsureBucket(ctx); err != nil {
			logger.Fatalf("object storage bucket setup failed: %v", err)
		}
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Tools, ws, webhookClient, jobStore, jobStore, artifacts)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsAddr := os.Getenv("WORKER_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		logger.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
