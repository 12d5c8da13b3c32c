package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"subflow/internal/config"
	"subflow/internal/domain"
	"subflow/internal/event"
	"subflow/internal/pipeline"
	"subflow/internal/queue"
	"subflow/internal/storage"
	"subflow/internal/store"
	"subflow/internal/tool"
	"subflow/internal/workspace"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// artifactPublisher is the optional object-storage half of result publishing.
type artifactPublisher interface {
	PublishFile(ctx context.Context, localPath, name string) (string, error)
}

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     *pipeline.Processor
	webhookClient webhookSender
	jobStore      store.JobStore
	eventStore    store.EventStore
	artifacts     artifactPublisher
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	toolsCfg config.ToolsConfig,
	ws *workspace.Manager,
	webhookClient webhookSender,
	jobStore store.JobStore,
	eventStore store.EventStore,
	artifactClient *storage.Client,
) (*Server, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}

	var artifacts artifactPublisher
	if artifactClient != nil {
		artifacts = artifactClient
	}

	processor, err := pipeline.NewProcessor(logger, tool.ExecRunner{}, ws, pipeline.Config{
		FFmpegBin:    toolsCfg.FFmpegBin,
		WhisperBin:   toolsCfg.WhisperBin,
		WhisperModel: toolsCfg.WhisperModel,
		WhisperEnv:   toolsCfg.WhisperEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					logger.Printf("task failed type=%s err=%v", task.Type(), err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:     processor,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		eventStore:    eventStore,
		artifacts:     artifacts,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("subflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessVideo, s.handleProcessVideo)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessVideo(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.StageFailed

	payload, err := queue.ParseProcessVideoPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_video", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.stored_name", payload.StoredName),
		attribute.Bool("job.has_subscriber", payload.CallbackURL != ""),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("processing job_id=%s stored_name=%s", payload.JobID, payload.StoredName)

	job := domain.Job{
		ID:               payload.JobID,
		StoredName:       payload.StoredName,
		OriginalFilename: payload.OriginalFilename,
		SourcePath:       payload.SourcePath,
		CallbackURL:      payload.CallbackURL,
		Stage:            domain.StageQueued,
	}

	sink := s.sinkFor(job)
	observe := func(ctx context.Context, stage string, progress int) {
		if _, err := s.jobStore.UpdateStage(ctx, job.ID, stage, progress); err != nil {
			s.logger.Printf("stage update failed job_id=%s stage=%s err=%v", job.ID, stage, err)
		}
	}

	result, err := s.processor.Process(ctx, job, sink, observe)
	if err != nil {
		if _, markErr := s.jobStore.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			s.logger.Printf("mark failed failed job_id=%s err=%v", job.ID, markErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		// The subscriber already got the error event; the ingress response
		// went out long ago, so there is nobody left to re-raise this to.
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}

	if _, err := s.jobStore.MarkCompleted(ctx, job.ID, result.OutputName); err != nil {
		s.logger.Printf("mark completed failed job_id=%s err=%v", job.ID, err)
	}

	if s.artifacts != nil {
		objectKey, err := s.artifacts.PublishFile(ctx, result.OutputPath, result.OutputName)
		if err != nil {
			// Local download still works; object storage is best effort.
			s.logger.Printf("artifact publish failed job_id=%s err=%v", job.ID, err)
		} else {
			s.metrics.artifactsPublishedTotal.Inc()
			sink.Publish(event.Log(job.ID, "Published to object storage: "+objectKey))
		}
	}

	s.logger.Printf("completed job_id=%s output=%s", job.ID, result.OutputName)
	outcome = domain.StageCompleted
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// sinkFor binds the job's subscriber: events always land in the store for
// polling, and additionally push to the callback URL when one was supplied.
func (s *Server) sinkFor(job domain.Job) event.Sink {
	counted := event.SinkFunc(func(e event.Event) {
		s.metrics.eventsPublished.WithLabelValues(e.Kind).Inc()
	})
	return event.MultiSink{
		counted,
		storeSink{logger: s.logger, events: s.eventStore},
		webhookSink{logger: s.logger, client: s.webhookClient, callbackURL: job.CallbackURL},
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
