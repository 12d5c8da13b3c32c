package worker

import (
	"context"
	"log"
	"time"

	"subflow/internal/event"
	"subflow/internal/store"
)

// sinkTimeout bounds each delivery so a stuck subscriber can never stall the
// pipeline goroutine indefinitely.
const sinkTimeout = 10 * time.Second

// storeSink persists events for the API's polling endpoint.
type storeSink struct {
	logger *log.Logger
	events store.EventStore
}

func (s storeSink) Publish(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if _, err := s.events.AppendEvent(ctx, e); err != nil {
		s.logger.Printf("event append failed job_id=%s kind=%s err=%v", e.JobID, e.Kind, err)
	}
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// webhookSink pushes events to the subscriber's callback URL. A missing URL
// or an unreachable subscriber is a silent no-op; delivery failures are
// logged and swallowed.
type webhookSink struct {
	logger      *log.Logger
	client      webhookSender
	callbackURL string
}

func (s webhookSink) Publish(e event.Event) {
	if s.callbackURL == "" || s.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := s.client.Send(ctx, s.callbackURL, webhookEventName(e.Kind), e); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s kind=%s err=%v", e.JobID, e.Kind, err)
	}
}

func webhookEventName(kind string) string {
	switch kind {
	case event.KindProgress:
		return "job.progress"
	case event.KindComplete:
		return "job.completed"
	case event.KindError:
		return "job.failed"
	default:
		return "job.log"
	}
}
