package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"subflow/internal/domain"
	"subflow/internal/queue"
	"subflow/internal/store"
	"subflow/internal/workspace"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

// maxUploadBytes caps one multipart upload. Videos are large; 2 GiB is the
// same ceiling the previous deployment enforced at the proxy.
const maxUploadBytes = 2 << 30

// downloadLinkTTL bounds presigned object-store links handed out by the
// download fallback.
const downloadLinkTTL = 15 * time.Minute

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	eventStore            store.EventStore
	ws                    *workspace.Manager
	artifacts             ArtifactStore
	metrics               *metrics
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	now                   func() time.Time
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueProcessVideo(ctx context.Context, payload queue.ProcessVideoPayload) (*asynq.TaskInfo, error)
}

// ArtifactStore is the object-storage side of result publishing, used by the
// download handler when a rendered video is no longer on local disk.
type ArtifactStore interface {
	OutputKey(name string) string
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Options carries the optional collaborators; every field may be zero.
type Options struct {
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	Tracer                trace.Tracer
	Artifacts             ArtifactStore
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, eventStore store.EventStore, ws *workspace.Manager, opts Options) *Server {
	header := strings.TrimSpace(opts.RateLimitUserIDHeader)
	if header == "" {
		header = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		eventStore:            eventStore,
		ws:                    ws,
		artifacts:             opts.Artifacts,
		metrics:               newMetrics(),
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: header,
		tracer:                opts.Tracer,
		now:                   time.Now,
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/jobs", s.handleUpload)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)
	s.mux.HandleFunc("GET /download/{name}", s.handleDownload)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload is the ingress handshake: persist the bytes, create the job,
// enqueue, and acknowledge immediately. The response promises only that
// processing started; success or failure arrives through the event channel.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no video file attached"})
		return
	}
	defer file.Close()

	callbackURL := strings.TrimSpace(r.FormValue("callback_url"))

	storedName := workspace.StoredName(header.Filename, s.now())
	sourcePath := filepath.Join(s.ws.UploadsDir, storedName)

	req := domain.CreateJobRequest{
		StoredName:       storedName,
		OriginalFilename: header.Filename,
		SourcePath:       sourcePath,
		CallbackURL:      callbackURL,
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	written, err := saveUpload(file, sourcePath)
	if err != nil {
		s.logger.Printf("persist upload failed name=%s err=%v", storedName, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
		return
	}
	s.metrics.uploadBytes.Add(float64(written))

	now := s.now().UTC()
	job := domain.Job{
		ID:               workspace.JobID(storedName),
		StoredName:       storedName,
		OriginalFilename: header.Filename,
		SourcePath:       sourcePath,
		CallbackURL:      callbackURL,
		Stage:            domain.StageQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		s.discardUpload(sourcePath)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	payload := queue.ProcessVideoPayload{
		JobID:            job.ID,
		StoredName:       job.StoredName,
		SourcePath:       job.SourcePath,
		OriginalFilename: job.OriginalFilename,
		CallbackURL:      job.CallbackURL,
		RequestedAt:      now,
	}
	taskInfo, err := s.queueClient.EnqueueProcessVideo(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		s.discardUpload(sourcePath)
		if _, markErr := s.jobStore.MarkFailed(r.Context(), job.ID, "failed to enqueue job"); markErr != nil {
			s.logger.Printf("mark failed failed job_id=%s err=%v", job.ID, markErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "processing started",
		"job_id":  job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok, err := s.jobStore.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", r.PathValue("id"), err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"stage":    job.Stage,
		"progress": job.Progress,
		"output":   job.OutputName,
		"error":    job.Error,
	})
}

// handleJobEvents is the pull half of the event channel: clients poll with
// the last sequence number they saw.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	after, err := parseAfter(r.URL.Query().Get("after"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, err := s.eventStore.ListEventsSince(r.Context(), jobID, after)
	if err != nil {
		s.logger.Printf("list events failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load events"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"events": events,
	})
}

// handleDownload serves rendered videos from the outputs directory, and only
// from there: the name must be a bare filename. When the file is no longer on
// local disk but object storage is configured, the handler redirects to a
// time-limited presigned link instead.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file name"})
		return
	}

	path := filepath.Join(s.ws.OutputsDir, name)
	if _, err := os.Stat(path); err == nil {
		http.ServeFile(w, r, path)
		return
	}

	if s.artifacts != nil {
		key := s.artifacts.OutputKey(name)
		exists, err := s.artifacts.ObjectExists(r.Context(), key)
		if err != nil {
			s.logger.Printf("object storage check failed key=%s err=%v", key, err)
		} else if exists {
			url, err := s.artifacts.PresignedGetURL(r.Context(), key, downloadLinkTTL)
			if err != nil {
				s.logger.Printf("presign failed key=%s err=%v", key, err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to link file"})
				return
			}
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
}

// discardUpload removes stored upload bytes that no job ended up referencing.
func (s *Server) discardUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("discard upload failed path=%s err=%v", path, err)
	}
}

func saveUpload(src io.Reader, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, src)
	if err != nil {
		return written, fmt.Errorf("write upload file: %w", err)
	}
	return written, out.Close()
}

func parseAfter(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, errors.New("after must be a non-negative integer")
	}
	return after, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
