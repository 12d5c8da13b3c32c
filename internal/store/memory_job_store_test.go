package store

import (
	"context"
	"testing"
	"time"

	"subflow/internal/domain"
	"subflow/internal/event"
)

func seedJob(t *testing.T, s *MemoryJobStore) domain.Job {
	t.Helper()
	job := domain.Job{
		ID:         "1700000000000-movie",
		StoredName: "1700000000000-movie.mp4",
		SourcePath: "/data/uploads/1700000000000-movie.mp4",
		Stage:      domain.StageQueued,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestUpdateStageKeepsProgressMonotonic(t *testing.T) {
	s := NewMemoryJobStore()
	job := seedJob(t, s)

	updated, err := s.UpdateStage(context.Background(), job.ID, domain.StageTranscribing, 30)
	if err != nil {
		t.Fatalf("update stage: %v", err)
	}
	if updated.Progress != 30 {
		t.Fatalf("expected progress 30, got %d", updated.Progress)
	}

	// A lower progress value never rewinds the stored one.
	updated, err = s.UpdateStage(context.Background(), job.ID, domain.StageBurning, 10)
	if err != nil {
		t.Fatalf("update stage: %v", err)
	}
	if updated.Progress != 30 {
		t.Fatalf("expected progress to stay at 30, got %d", updated.Progress)
	}
	if updated.Stage != domain.StageBurning {
		t.Fatalf("expected stage burning, got %s", updated.Stage)
	}
}

func TestMarkCompletedAndFailed(t *testing.T) {
	s := NewMemoryJobStore()
	job := seedJob(t, s)

	done, err := s.MarkCompleted(context.Background(), job.ID, "subtitled_1700000000000-movie.mp4")
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if done.Stage != domain.StageCompleted || done.Progress != domain.ProgressCompleted {
		t.Fatalf("unexpected completed job: %+v", done)
	}
	if done.OutputName != "subtitled_1700000000000-movie.mp4" {
		t.Fatalf("unexpected output name: %s", done.OutputName)
	}

	if _, err := s.MarkFailed(context.Background(), "missing", "boom"); err != ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEventLogSequencesAndListsIncrementally(t *testing.T) {
	s := NewMemoryJobStore()

	for _, e := range []event.Event{
		event.Log("job-1", "starting"),
		event.Progress("job-1", 10),
		event.Progress("job-2", 10),
		event.Progress("job-1", 30),
	} {
		if _, err := s.AppendEvent(context.Background(), e); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	all, err := s.ListEventsSince(context.Background(), "job-1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events for job-1, got %d", len(all))
	}
	for i, e := range all {
		if e.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, e.Seq)
		}
	}

	tail, err := s.ListEventsSince(context.Background(), "job-1", 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(tail) != 1 || tail[0].Progress != 30 {
		t.Fatalf("expected only the progress=30 event, got %+v", tail)
	}
}
