package event

import "time"

// Kind values for pipeline events.
const (
	KindLog      = "log"
	KindProgress = "progress"
	KindComplete = "complete"
	KindError    = "error"
)

// Event is one message pushed to a job's subscriber. Seq is assigned by the
// event store when the event is persisted for polling.
type Event struct {
	Seq         int64     `json:"seq,omitempty"`
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message,omitempty"`
	Progress    int       `json:"progress,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	OutputName  string    `json:"output_name,omitempty"`
	ObjectKey   string    `json:"object_key,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives events for one job. Implementations must never block the
// pipeline on a slow or absent subscriber and must not panic; a delivery
// failure is the sink's problem, not the job's.
type Sink interface {
	Publish(e Event)
}

// NopSink drops everything. Used when a job has no subscriber.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) {
	f(e)
}

// MultiSink fans out to every child sink in order.
type MultiSink []Sink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

func Log(jobID, message string) Event {
	return Event{JobID: jobID, Kind: KindLog, Message: message, Timestamp: time.Now().UTC()}
}

func Progress(jobID string, percent int) Event {
	return Event{JobID: jobID, Kind: KindProgress, Progress: percent, Timestamp: time.Now().UTC()}
}

func Complete(jobID, downloadURL, outputName, objectKey string) Event {
	return Event{
		JobID:       jobID,
		Kind:        KindComplete,
		DownloadURL: downloadURL,
		OutputName:  outputName,
		ObjectKey:   objectKey,
		Timestamp:   time.Now().UTC(),
	}
}

func Error(jobID, message string) Event {
	return Event{JobID: jobID, Kind: KindError, Message: message, Timestamp: time.Now().UTC()}
}
