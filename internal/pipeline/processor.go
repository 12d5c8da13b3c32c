package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"subflow/internal/domain"
	"subflow/internal/event"
	"subflow/internal/tool"
	"subflow/internal/workspace"
)

// DownloadPathPrefix is where the API serves rendered videos from.
const DownloadPathPrefix = "/download"

// StageObserver is notified on every stage transition, before the stage's
// work starts. The worker uses it to persist stage and progress.
type StageObserver func(ctx context.Context, stage string, progress int)

type Config struct {
	FFmpegBin    string
	WhisperBin   string
	WhisperModel string
	// WhisperEnv is injected into the transcriber invocation only, never into
	// the process-wide environment.
	WhisperEnv []string
}

// Outcome describes a finished job's artifacts.
type Outcome struct {
	OutputPath  string
	OutputName  string
	DownloadURL string
}

// Processor drives one job through extract -> transcribe -> burn. Exactly one
// Processor invocation owns a job's derived paths; jobs never share state
// beyond the fixed root directories.
type Processor struct {
	logger       *log.Logger
	runner       tool.Runner
	ws           *workspace.Manager
	ffmpegBin    string
	whisperBin   string
	whisperModel string
	whisperEnv   []string
}

func NewProcessor(logger *log.Logger, runner tool.Runner, ws *workspace.Manager, cfg Config) (*Processor, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}
	if runner == nil {
		runner = tool.ExecRunner{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ffmpegBin := strings.TrimSpace(cfg.FFmpegBin)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	whisperBin := strings.TrimSpace(cfg.WhisperBin)
	if whisperBin == "" {
		whisperBin = "whisper"
	}
	whisperModel := strings.TrimSpace(cfg.WhisperModel)
	if whisperModel == "" {
		whisperModel = "small"
	}

	return &Processor{
		logger:       logger,
		runner:       runner,
		ws:           ws,
		ffmpegBin:    ffmpegBin,
		whisperBin:   whisperBin,
		whisperModel: whisperModel,
		whisperEnv:   cfg.WhisperEnv,
	}, nil
}

// Process runs the full pipeline for one job. Events go to sink (which may be
// nil when no subscriber is attached); a failure at any stage stops the
// pipeline, emits exactly one error event with a mirrored log entry, and
// returns the error. Intermediates are cleaned up on every exit path.
func (p *Processor) Process(ctx context.Context, job domain.Job, sink event.Sink, observe StageObserver) (Outcome, error) {
	if sink == nil {
		sink = event.NopSink{}
	}
	if observe == nil {
		observe = func(context.Context, string, int) {}
	}

	paths := p.ws.JobPaths(job.ID)
	defer func() {
		if err := p.ws.Cleanup(paths); err != nil {
			p.logger.Printf("workspace cleanup failed job_id=%s err=%v", job.ID, err)
		}
	}()

	observe(ctx, domain.StageExtractingAudio, domain.ProgressExtracting)
	sink.Publish(event.Log(job.ID, "Extracting audio..."))
	sink.Publish(event.Progress(job.ID, domain.ProgressExtracting))
	if _, err := p.runner.Run(ctx, p.extractAudioCommand(job.SourcePath, paths.Audio)); err != nil {
		return Outcome{}, p.fail(job.ID, sink, fmt.Errorf("extract audio: %w", err))
	}

	observe(ctx, domain.StageTranscribing, domain.ProgressTranscribing)
	sink.Publish(event.Log(job.ID, "Transcribing speech..."))
	sink.Publish(event.Progress(job.ID, domain.ProgressTranscribing))
	if _, err := p.runner.Run(ctx, p.transcribeCommand(paths.Audio)); err != nil {
		return Outcome{}, p.fail(job.ID, sink, fmt.Errorf("transcribe: %w", err))
	}

	// The transcriber can exit zero without writing anything, e.g. when the
	// audio has no speech track it can decode.
	if _, err := os.Stat(paths.Subtitle); err != nil {
		return Outcome{}, p.fail(job.ID, sink, &MissingArtifactError{Path: paths.Subtitle})
	}

	observe(ctx, domain.StageBurning, domain.ProgressBurning)
	sink.Publish(event.Log(job.ID, "Burning subtitles..."))
	sink.Publish(event.Progress(job.ID, domain.ProgressBurning))
	if err := copyFile(paths.Subtitle, paths.TempSubtitle); err != nil {
		return Outcome{}, p.fail(job.ID, sink, fmt.Errorf("stage subtitle copy: %w", err))
	}

	sourceAbs, err := filepath.Abs(job.SourcePath)
	if err != nil {
		return Outcome{}, p.fail(job.ID, sink, fmt.Errorf("resolve source path: %w", err))
	}
	outputAbs, err := filepath.Abs(paths.Output)
	if err != nil {
		return Outcome{}, p.fail(job.ID, sink, fmt.Errorf("resolve output path: %w", err))
	}

	burn := p.burnCommand(sourceAbs, filepath.Base(paths.TempSubtitle), outputAbs)
	if _, err := p.runner.Run(ctx, burn); err != nil {
		return Outcome{}, p.fail(job.ID, sink, fmt.Errorf("burn subtitles: %w", err))
	}

	if err := os.Remove(paths.TempSubtitle); err != nil && !os.IsNotExist(err) {
		p.logger.Printf("remove temp subtitle failed job_id=%s err=%v", job.ID, err)
	}

	outcome := Outcome{
		OutputPath:  paths.Output,
		OutputName:  workspace.OutputName(job.ID),
		DownloadURL: DownloadPathPrefix + "/" + workspace.OutputName(job.ID),
	}

	observe(ctx, domain.StageCompleted, domain.ProgressCompleted)
	sink.Publish(event.Progress(job.ID, domain.ProgressCompleted))
	sink.Publish(event.Complete(job.ID, outcome.DownloadURL, outcome.OutputName, ""))
	return outcome, nil
}

// fail converts any pipeline error into one error event plus a mirrored log
// entry. The error is returned for the caller's bookkeeping but is never
// surfaced to the ingress layer, whose response went out long ago.
func (p *Processor) fail(jobID string, sink event.Sink, err error) error {
	p.logger.Printf("pipeline failed job_id=%s err=%v", jobID, err)
	sink.Publish(event.Log(jobID, "Error: "+err.Error()))
	sink.Publish(event.Error(jobID, err.Error()))
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
