package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subflow/internal/event"
	"subflow/internal/queue"
	"subflow/internal/store"
	"subflow/internal/workspace"

	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	payloads []queue.ProcessVideoPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueProcessVideo(_ context.Context, payload queue.ProcessVideoPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

type fakeArtifacts struct {
	objects map[string]bool
	baseURL string
}

func (f *fakeArtifacts) OutputKey(name string) string {
	return "outputs/" + name
}

func (f *fakeArtifacts) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	return f.objects[objectKey], nil
}

func (f *fakeArtifacts) PresignedGetURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return f.baseURL + "/" + objectKey + "?sig=abc", nil
}

func newTestServer(t *testing.T) (*Server, *fakeEnqueuer, *store.MemoryJobStore, *workspace.Manager) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"), root)
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	enqueuer := &fakeEnqueuer{}
	jobStore := store.NewMemoryJobStore()
	s := NewServer(log.New(io.Discard, "", 0), enqueuer, jobStore, jobStore, ws, Options{})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s, enqueuer, jobStore, ws
}

func multipartUpload(t *testing.T, filename, callbackURL string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("fake video bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if callbackURL != "" {
		if err := writer.WriteField("callback_url", callbackURL); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadAcknowledgesAndEnqueues(t *testing.T) {
	s, enqueuer, jobStore, ws := newTestServer(t)

	body, contentType := multipartUpload(t, "movie.mp4", "https://example.com/hook")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message string `json:"message"`
		JobID   string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "1700000000000-movie" {
		t.Fatalf("expected job id 1700000000000-movie, got %s", resp.JobID)
	}
	if resp.Message != "processing started" {
		t.Fatalf("unexpected ack message: %s", resp.Message)
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.CallbackURL != "https://example.com/hook" {
		t.Fatalf("expected callback url in payload, got %q", payload.CallbackURL)
	}

	// The bytes were persisted before the response went out.
	if _, err := os.Stat(filepath.Join(ws.UploadsDir, "1700000000000-movie.mp4")); err != nil {
		t.Fatalf("expected stored upload: %v", err)
	}

	job, ok, err := jobStore.Get(context.Background(), resp.JobID)
	if err != nil || !ok {
		t.Fatalf("expected stored job, ok=%v err=%v", ok, err)
	}
	if job.Stage != "queued" {
		t.Fatalf("expected queued stage, got %s", job.Stage)
	}
}

func TestUploadWithoutFileIsClientError(t *testing.T) {
	s, enqueuer, _, _ := newTestServer(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("callback_url", "https://example.com/hook")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(enqueuer.payloads) != 0 {
		t.Fatal("expected nothing enqueued for invalid upload")
	}
}

func TestUploadEnqueueFailureDiscardsStoredFile(t *testing.T) {
	s, enqueuer, jobStore, ws := newTestServer(t)
	enqueuer.err = errors.New("redis unavailable")

	body, contentType := multipartUpload(t, "movie.mp4", "")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	// No job will ever reference these bytes, so they must not linger.
	if _, err := os.Stat(filepath.Join(ws.UploadsDir, "1700000000000-movie.mp4")); !os.IsNotExist(err) {
		t.Fatal("expected stored upload to be removed after enqueue failure")
	}

	job, ok, err := jobStore.Get(context.Background(), "1700000000000-movie")
	if err != nil || !ok {
		t.Fatalf("expected job record to remain, ok=%v err=%v", ok, err)
	}
	if job.Stage != "failed" {
		t.Fatalf("expected job marked failed, got stage %s", job.Stage)
	}
}

func TestJobEventsPollIncrementally(t *testing.T) {
	s, _, jobStore, _ := newTestServer(t)

	for _, e := range []event.Event{
		event.Log("job-1", "Extracting audio..."),
		event.Progress("job-1", 10),
		event.Progress("job-1", 30),
	} {
		if _, err := jobStore.AppendEvent(context.Background(), e); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/events?after=1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Events []event.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(resp.Events))
	}
	if resp.Events[0].Progress != 10 || resp.Events[1].Progress != 30 {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
}

func TestDownloadServesOnlyBareNames(t *testing.T) {
	s, _, _, ws := newTestServer(t)

	outputName := "subtitled_1700000000000-movie.mp4"
	if err := os.WriteFile(filepath.Join(ws.OutputsDir, outputName), []byte("rendered"), 0o644); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/download/"+outputName, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing output, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rendered") {
		t.Fatal("expected file contents in response")
	}

	req = httptest.NewRequest(http.MethodGet, "/download/..%2Fuploads%2Fsecret.mp4", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatalf("expected traversal attempt to be rejected, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/download/missing.mp4", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", rec.Code)
	}
}

func TestDownloadFallsBackToObjectStorage(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	s.artifacts = &fakeArtifacts{
		objects: map[string]bool{"outputs/subtitled_1700000000000-movie.mp4": true},
		baseURL: "https://minio.local/subflow-artifacts",
	}

	// Pruned from local disk but published to object storage: redirect to a
	// presigned link instead of a 404.
	req := httptest.NewRequest(http.MethodGet, "/download/subtitled_1700000000000-movie.mp4", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 redirect, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	if location != "https://minio.local/subflow-artifacts/outputs/subtitled_1700000000000-movie.mp4?sig=abc" {
		t.Fatalf("unexpected redirect target: %s", location)
	}

	// Absent everywhere stays a 404.
	req = httptest.NewRequest(http.MethodGet, "/download/subtitled_unknown.mp4", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for object missing everywhere, got %d", rec.Code)
	}
}
