package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

// PostgresStore keeps job history and logs in the research_jobs and
// research_logs tables.
type PostgresStore struct {
	DB *database.PostgresDB
}

func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const jobColumns = `id, topic, status, config, progress, report, result, error, created_at, updated_at`

func (p *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}
	if job.Status == "" {
		job.Status = StatusPending
	}

	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err = p.DB.Pool.QueryRow(ctx, query, job.ID, job.Topic, job.Status, configJSON).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job                      Job
		configJSON, progressJSON []byte
		resultJSON               []byte
	)
	err := row.Scan(&job.ID, &job.Topic, &job.Status, &configJSON, &progressJSON,
		&job.Report, &resultJSON, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		_ = json.Unmarshal(configJSON, &job.Config)
	}
	if len(progressJSON) > 0 {
		var progress research.Event
		if json.Unmarshal(progressJSON, &progress) == nil {
			job.Progress = &progress
		}
	}
	if len(resultJSON) > 0 {
		var result research.ResearchResult
		if json.Unmarshal(resultJSON, &result) == nil {
			job.Result = &result
		}
	}
	return &job, nil
}

func (p *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE id = $1`
	job, err := scanJob(p.DB.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (p *PostgresStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	// The list omits the full result to keep the payload small.
	query := `
		SELECT id, topic, status, config, progress, report, NULL::jsonb, error, created_at, updated_at
		FROM research_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := p.DB.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	tag, err := p.DB.Pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error {
	return p.exec(ctx,
		"UPDATE research_jobs SET status = $2, error = COALESCE(NULLIF($3, ''), error), updated_at = NOW() WHERE id = $1",
		id, status, errMsg)
}

func (p *PostgresStore) SaveProgress(ctx context.Context, id uuid.UUID, progress research.Event) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return p.exec(ctx, "UPDATE research_jobs SET progress = $2, updated_at = NOW() WHERE id = $1", id, progressJSON)
}

func (p *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, result *research.ResearchResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return p.exec(ctx,
		"UPDATE research_jobs SET status = $2, report = $3, result = $4, updated_at = NOW() WHERE id = $1",
		id, StatusCompleted, result.FinalReport, resultJSON)
}

func (p *PostgresStore) AppendLog(ctx context.Context, id uuid.UUID, entry LogEntry) error {
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	query := `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.DB.Pool.Exec(ctx, query, id, entry.Timestamp, entry.Level, entry.Message, []byte(metadata))
	return err
}

func (p *PostgresStore) GetLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := p.DB.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &metadata); err != nil {
			continue
		}
		l.Metadata = metadata
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (p *PostgresStore) MarkInterrupted(ctx context.Context) (int, error) {
	tag, err := p.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = $1, error = $2, updated_at = NOW() WHERE status IN ('pending', 'running')",
		StatusFailed, interruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
