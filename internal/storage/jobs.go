package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
)

const jobColumns = `id, user_id, period, status, total_lines, processed_lines, failed_lines, report_id,
	error_message, error_details, estimated_completion, started_at, completed_at, created_at, updated_at`

// CreateJob stores a new report generation job.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *model.ReportGenerationJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, jobArgs(job)...)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*model.ReportGenerationJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getJobTx(ctx, s.db, id)
}

func getJobTx(ctx context.Context, q queryable, id string) (*model.ReportGenerationJob, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM report_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, oldest first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, filter service.JobFilter) ([]model.ReportGenerationJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + jobColumns + ` FROM report_jobs WHERE 1 = 1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.ReportGenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob overwrites every mutable field of a job.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *model.ReportGenerationJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	return updateJobTx(ctx, s.db, job)
}

func updateJobTx(ctx context.Context, q queryable, job *model.ReportGenerationJob) error {
	result, err := q.ExecContext(ctx, `
		UPDATE report_jobs
		SET status = ?, total_lines = ?, processed_lines = ?, failed_lines = ?, report_id = ?,
			error_message = ?, error_details = ?, estimated_completion = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?
	`, string(job.Status), job.TotalLines, job.ProcessedLines, job.FailedLines,
		stringOrNull(job.ReportID), job.ErrorMessage, job.ErrorDetails,
		nullTime(job.EstimatedCompletion), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("job", job.ID)
	}
	return nil
}

// UpdateProgress records progress counters for a running job.
func (s *SQLiteStorage) UpdateProgress(ctx context.Context, id string, processed, failed int, estimatedCompletion *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE report_jobs
			SET processed_lines = ?, failed_lines = ?, estimated_completion = ?, updated_at = ?
			WHERE id = ? AND status IN (?, ?)
		`, processed, failed, nullTime(estimatedCompletion), time.Now().UTC(), id,
			string(model.JobProcessing), string(model.JobCancellationRequested))
		if err != nil {
			return fmt.Errorf("failed to update job progress: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}

		job, err := getJobTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("job %s is %s: %w", id, job.Status, common.ErrJobFinished)
		}
		return fmt.Errorf("job %s is %s: %w", id, job.Status, common.ErrInvalidTransition)
	})
}

// IsCancellationRequested reports whether the job has been asked to stop.
func (s *SQLiteStorage) IsCancellationRequested(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM report_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("job", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read job status: %w", err)
	}
	switch model.JobStatus(status) {
	case model.JobCancellationRequested, model.JobCancelled:
		return true, nil
	default:
		return false, nil
	}
}

// TransitionJob applies fn to the job only if its current status is one of
// from. The read and the write happen in one transaction. On a status
// mismatch the current job is returned with common.ErrInvalidTransition.
func (s *SQLiteStorage) TransitionJob(ctx context.Context, id string, from []model.JobStatus, fn func(*model.ReportGenerationJob)) (*model.ReportGenerationJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: fn", ErrNilParameter)
	}

	var (
		updated *model.ReportGenerationJob
		current *model.ReportGenerationJob
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(ctx, tx, id)
		if err != nil {
			return err
		}
		current = job

		if !slices.Contains(from, job.Status) {
			return fmt.Errorf("job %s is %s, expected one of %v: %w", id, job.Status, from, common.ErrInvalidTransition)
		}

		next := *job
		fn(&next)
		next.ID = job.ID
		next.UpdatedAt = time.Now().UTC()
		if err := updateJobTx(ctx, tx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			return current, err
		}
		return nil, err
	}
	return updated, nil
}

func jobArgs(job *model.ReportGenerationJob) []any {
	return []any{
		job.ID,
		job.UserID,
		job.Period.String(),
		string(job.Status),
		job.TotalLines,
		job.ProcessedLines,
		job.FailedLines,
		stringOrNull(job.ReportID),
		job.ErrorMessage,
		job.ErrorDetails,
		nullTime(job.EstimatedCompletion),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.CreatedAt,
		job.UpdatedAt,
	}
}

func scanJob(row rowScanner) (model.ReportGenerationJob, error) {
	var (
		job                               model.ReportGenerationJob
		period, status                    string
		reportID                          sql.NullString
		estimated, startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.UserID, &period, &status, &job.TotalLines, &job.ProcessedLines,
		&job.FailedLines, &reportID, &job.ErrorMessage, &job.ErrorDetails, &estimated,
		&startedAt, &completedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return model.ReportGenerationJob{}, err
	}
	if job.Period, err = model.ParsePeriod(period); err != nil {
		return model.ReportGenerationJob{}, err
	}
	job.Status = model.JobStatus(status)
	job.ReportID = stringPtr(reportID)
	job.EstimatedCompletion = timePtr(estimated)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return job, nil
}
