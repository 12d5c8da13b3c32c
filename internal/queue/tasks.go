package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeProcessVideo = "video:process"

type ProcessVideoPayload struct {
	JobID            string    `json:"job_id"`
	StoredName       string    `json:"stored_name"`
	SourcePath       string    `json:"source_path"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	CallbackURL      string    `json:"callback_url,omitempty"`
	RequestedAt      time.Time `json:"requested_at"`
}

func NewProcessVideoTask(payload ProcessVideoPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessVideo, body), nil
}

func ParseProcessVideoPayload(task *asynq.Task) (ProcessVideoPayload, error) {
	var payload ProcessVideoPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessVideoPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
