package store

import (
	"context"

	"subflow/internal/domain"
	"subflow/internal/event"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStage(ctx context.Context, id, stage string, progress int) (domain.Job, error)
	MarkCompleted(ctx context.Context, id, outputName string) (domain.Job, error)
	MarkFailed(ctx context.Context, id, message string) (domain.Job, error)
}

// EventStore is the pull half of the event channel: the worker appends, the
// API serves incremental reads to polling subscribers.
type EventStore interface {
	AppendEvent(ctx context.Context, e event.Event) (event.Event, error)
	ListEventsSince(ctx context.Context, jobID string, after int64) ([]event.Event, error)
}
