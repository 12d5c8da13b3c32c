package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"subflow/internal/domain"
	"subflow/internal/event"
)

var ErrJobNotFound = errors.New("job not found")

// maxEventsPerJob bounds the in-memory event log per job so a chatty pipeline
// cannot grow without limit. Pollers that fall further behind than this lose
// the oldest events.
const maxEventsPerJob = 500

type MemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]domain.Job
	events map[string][]event.Event
	seq    map[string]int64
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]domain.Job),
		events: make(map[string][]event.Event),
		seq:    make(map[string]int64),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStage(_ context.Context, id, stage string, progress int) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Stage = stage
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) MarkCompleted(_ context.Context, id, outputName string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Stage = domain.StageCompleted
	job.Progress = domain.ProgressCompleted
	job.OutputName = outputName
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id, message string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Stage = domain.StageFailed
	job.Error = message
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) AppendEvent(_ context.Context, e event.Event) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[e.JobID]++
	e.Seq = s.seq[e.JobID]
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	events := append(s.events[e.JobID], e)
	if len(events) > maxEventsPerJob {
		trim := len(events) - maxEventsPerJob
		events = append([]event.Event(nil), events[trim:]...)
	}
	s.events[e.JobID] = events
	return e, nil
}

func (s *MemoryJobStore) ListEventsSince(_ context.Context, jobID string, after int64) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, e := range s.events[jobID] {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}
