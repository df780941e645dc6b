package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

type importJobRepository struct {
	db *sql.DB
}

func NewImportJobRepository(db *sql.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

// jobProgress is the JSONB progress column
type jobProgress struct {
	FailedStage     domain.ImportStatus `json:"failed_stage,omitempty"`
	Recoverable     bool                `json:"recoverable"`
	CancelRequested bool                `json:"cancel_requested"`
	NextCommitIndex int                 `json:"next_commit_index"`
	CommittedCount  int                 `json:"committed_count"`
	FailedCount     int                 `json:"failed_count"`
}

type jobColumns struct {
	file, records, errors, warnings, progress []byte
}

func encodeJob(job *domain.ImportJob) (*jobColumns, error) {
	var (
		cols jobColumns
		err  error
	)
	if cols.file, err = json.Marshal(job.File); err != nil {
		return nil, err
	}
	if cols.records, err = json.Marshal(nonNil(job.Records)); err != nil {
		return nil, err
	}
	if cols.errors, err = json.Marshal(nonNil(job.Errors)); err != nil {
		return nil, err
	}
	if cols.warnings, err = json.Marshal(nonNil(job.Warnings)); err != nil {
		return nil, err
	}
	cols.progress, err = json.Marshal(jobProgress{
		FailedStage:     job.FailedStage,
		Recoverable:     job.Recoverable,
		CancelRequested: job.CancelRequested,
		NextCommitIndex: job.NextCommitIndex,
		CommittedCount:  job.CommittedCount,
		FailedCount:     job.FailedCount,
	})
	if err != nil {
		return nil, err
	}
	return &cols, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *importJobRepository) Create(ctx context.Context, job *domain.ImportJob) error {
	cols, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode import job: %w", err)
	}

	query := `
		INSERT INTO import_jobs (id, status, file, records, errors, warnings, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.Status, cols.file, cols.records, cols.errors, cols.warnings, cols.progress,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("job_id", job.ID).Error("Failed to create import job")
		return err
	}
	return nil
}

func (r *importJobRepository) Update(ctx context.Context, job *domain.ImportJob) error {
	cols, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode import job: %w", err)
	}

	query := `
		UPDATE import_jobs
		SET status = $1, records = $2, errors = $3, warnings = $4, progress = $5,
			updated_at = $6, completed_at = $7
		WHERE id = $8
	`

	res, err := r.db.ExecContext(ctx, query,
		job.Status, cols.records, cols.errors, cols.warnings, cols.progress,
		job.UpdatedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("job_id", job.ID).Error("Failed to update import job")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const selectJob = `
	SELECT id, status, file, records, errors, warnings, progress, created_at, updated_at, completed_at
	FROM import_jobs
`

func scanJob(row interface{ Scan(...interface{}) error }) (*domain.ImportJob, error) {
	var (
		job      domain.ImportJob
		cols     jobColumns
		progress jobProgress
	)
	err := row.Scan(
		&job.ID,
		&job.Status,
		&cols.file,
		&cols.records,
		&cols.errors,
		&cols.warnings,
		&cols.progress,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		data []byte
		dest interface{}
	}{
		{cols.file, &job.File},
		{cols.records, &job.Records},
		{cols.errors, &job.Errors},
		{cols.warnings, &job.Warnings},
		{cols.progress, &progress},
	} {
		if err := json.Unmarshal(pair.data, pair.dest); err != nil {
			return nil, fmt.Errorf("decode import job %s: %w", job.ID, err)
		}
	}

	job.FailedStage = progress.FailedStage
	job.Recoverable = progress.Recoverable
	job.CancelRequested = progress.CancelRequested
	job.NextCommitIndex = progress.NextCommitIndex
	job.CommittedCount = progress.CommittedCount
	job.FailedCount = progress.FailedCount
	return &job, nil
}

func (r *importJobRepository) GetByID(ctx context.Context, id string) (*domain.ImportJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, selectJob+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("job_id", id).Error("Failed to get import job")
		return nil, err
	}
	return job, nil
}

func (r *importJobRepository) ListActive(ctx context.Context) ([]*domain.ImportJob, error) {
	rows, err := r.db.QueryContext(ctx, selectJob+` WHERE status NOT IN ($1, $2) ORDER BY created_at`,
		domain.ImportCompleted, domain.ImportFailed)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query active import jobs")
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *importJobRepository) SavePayload(ctx context.Context, id string, payload []byte) error {
	res, err := r.db.ExecContext(ctx, `UPDATE import_jobs SET payload = $1 WHERE id = $2`, payload, id)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("job_id", id).Error("Failed to save import payload")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *importJobRepository) GetPayload(ctx context.Context, id string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM import_jobs WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return payload, err
}
