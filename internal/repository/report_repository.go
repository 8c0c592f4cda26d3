package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

// ReportRepository handles persistence of report export jobs.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, type, format, group_id, parish_id, date_from, date_to, status, progress,
    file_path, error_message, created_by, created_at, updated_at, finished_at`

// Create persists a new job in QUEUED state.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	const query = `INSERT INTO report_jobs (id, type, format, group_id, parish_id, date_from, date_to, status, progress, file_path, error_message, created_by, created_at, updated_at, finished_at)
        VALUES (:id, :type, :format, :group_id, :parish_id, :date_from, :date_to, :status, :progress, :file_path, :error_message, :created_by, :created_at, :updated_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// FindByID returns a job by its ID.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM report_jobs WHERE id = $1`, reportColumns)
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByUser returns the most recent jobs created by a user.
func (r *ReportRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.ReportJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM report_jobs WHERE created_by = $1 ORDER BY created_at DESC LIMIT %d`, reportColumns, limit)
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, userID); err != nil {
		return nil, fmt.Errorf("list report jobs: %w", err)
	}
	return jobs, nil
}

// UpdateProgress stamps the status and completion percentage.
func (r *ReportRepository) UpdateProgress(ctx context.Context, id string, status models.ReportStatus, progress int) error {
	const query = `UPDATE report_jobs SET status = $2, progress = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, progress); err != nil {
		return fmt.Errorf("update report progress: %w", err)
	}
	return nil
}

// MarkFinished records a completed job and its output file.
func (r *ReportRepository) MarkFinished(ctx context.Context, id, filePath string, at time.Time) error {
	const query = `UPDATE report_jobs SET status = $2, progress = 100, file_path = $3, finished_at = $4, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFinished, filePath, at); err != nil {
		return fmt.Errorf("mark report finished: %w", err)
	}
	return nil
}

// MarkFailed records a failed job and its error.
func (r *ReportRepository) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	const query = `UPDATE report_jobs SET status = $2, error_message = $3, finished_at = $4, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFailed, message, at); err != nil {
		return fmt.Errorf("mark report failed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes finished or failed jobs past the retention cutoff
// and returns their file paths for storage cleanup.
func (r *ReportRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `DELETE FROM report_jobs
        WHERE status IN ('FINISHED', 'FAILED') AND created_at < $1
        RETURNING COALESCE(file_path, '')`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, cutoff); err != nil {
		return nil, fmt.Errorf("delete old report jobs: %w", err)
	}
	out := paths[:0]
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
