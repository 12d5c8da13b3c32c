package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"subflow/internal/domain"
	"subflow/internal/event"

	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	stored_name TEXT NOT NULL,
	original_filename TEXT NOT NULL DEFAULT '',
	source_path TEXT NOT NULL,
	callback_url TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	output_name TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_events (
	job_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	progress INT NOT NULL DEFAULT 0,
	download_url TEXT NOT NULL DEFAULT '',
	output_name TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, seq)
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, stored_name, original_filename, source_path, callback_url, stage, progress, output_name, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID,
		job.StoredName,
		job.OriginalFilename,
		job.SourcePath,
		job.CallbackURL,
		job.Stage,
		job.Progress,
		job.OutputName,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, stored_name, original_filename, source_path, callback_url, stage, progress, output_name, error, created_at, updated_at
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.StoredName,
		&job.OriginalFilename,
		&job.SourcePath,
		&job.CallbackURL,
		&job.Stage,
		&job.Progress,
		&job.OutputName,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStage(ctx context.Context, id, stage string, progress int) (domain.Job, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET stage = $1, progress = GREATEST(progress, $2), updated_at = $3
		 WHERE id = $4`,
		stage,
		progress,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job stage: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id, outputName string) (domain.Job, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET stage = $1, progress = $2, output_name = $3, updated_at = $4
		 WHERE id = $5`,
		domain.StageCompleted,
		domain.ProgressCompleted,
		outputName,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("mark job completed: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) MarkFailed(ctx context.Context, id, message string) (domain.Job, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET stage = $1, error = $2, updated_at = $3
		 WHERE id = $4`,
		domain.StageFailed,
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("mark job failed: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresJobStore) AppendEvent(ctx context.Context, e event.Event) (event.Event, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO job_events (job_id, seq, kind, message, progress, download_url, output_name, object_key, created_at)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, $7, $8
		 FROM job_events WHERE job_id = $1
		 RETURNING seq`,
		e.JobID,
		e.Kind,
		e.Message,
		e.Progress,
		e.DownloadURL,
		e.OutputName,
		e.ObjectKey,
		e.Timestamp,
	)
	if err := row.Scan(&e.Seq); err != nil {
		return event.Event{}, fmt.Errorf("insert job event: %w", err)
	}
	return e, nil
}

func (s *PostgresJobStore) ListEventsSince(ctx context.Context, jobID string, after int64) ([]event.Event, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, kind, message, progress, download_url, output_name, object_key, created_at
		 FROM job_events
		 WHERE job_id = $1 AND seq > $2
		 ORDER BY seq`,
		jobID,
		after,
	)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		e := event.Event{JobID: jobID}
		if err := rows.Scan(
			&e.Seq,
			&e.Kind,
			&e.Message,
			&e.Progress,
			&e.DownloadURL,
			&e.OutputName,
			&e.ObjectKey,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return out, nil
}

func (s *PostgresJobStore) mustGet(ctx context.Context, id string) (domain.Job, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}
