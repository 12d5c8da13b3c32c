package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	StageQueued          = "queued"
	StageExtractingAudio = "extracting_audio"
	StageTranscribing    = "transcribing"
	StageBurning         = "burning"
	StageCompleted       = "completed"
	StageFailed          = "failed"
)

// Progress checkpoints emitted on the success path, in order.
const (
	ProgressExtracting   = 10
	ProgressTranscribing = 30
	ProgressBurning      = 60
	ProgressCompleted    = 100
)

// Job is one upload's end-to-end processing unit. Its ID is derived from the
// stored filename and keys every derived workspace path, so two jobs never
// share an intermediate or output file.
type Job struct {
	ID               string
	StoredName       string
	OriginalFilename string
	SourcePath       string
	CallbackURL      string
	Stage            string
	Progress         int
	OutputName       string
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Terminal reports whether the job can no longer change stage.
func (j Job) Terminal() bool {
	return j.Stage == StageCompleted || j.Stage == StageFailed
}

// ValidTransition enforces the strictly linear pipeline: no branching, no
// retries, and failed is reachable from any non-terminal stage.
func ValidTransition(from, to string) bool {
	if to == StageFailed {
		return from != StageCompleted && from != StageFailed
	}
	switch from {
	case StageQueued:
		return to == StageExtractingAudio
	case StageExtractingAudio:
		return to == StageTranscribing
	case StageTranscribing:
		return to == StageBurning
	case StageBurning:
		return to == StageCompleted
	default:
		return false
	}
}

type CreateJobRequest struct {
	StoredName       string
	OriginalFilename string
	SourcePath       string
	CallbackURL      string
}

func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.StoredName) == "" {
		return errors.New("stored_name is required")
	}
	if strings.TrimSpace(r.SourcePath) == "" {
		return errors.New("source_path is required")
	}
	if strings.ContainsAny(r.StoredName, `/\`) || strings.Contains(r.StoredName, "..") {
		return errors.New("stored_name must be a bare filename")
	}
	return nil
}
