package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/ports"
)

// Enqueue adds a queued report job covering the trailing days.
func (db *DB) Enqueue(ctx context.Context, days int) (string, error) {
	id := uuid.NewString()
	_, err := db.Pool.Exec(ctx, `INSERT INTO report_jobs (id, days) VALUES ($1, $2)`, id, days)
	if err != nil {
		return "", xerrors.Errorf("enqueue report job: %w", err)
	}
	return id, nil
}

// ClaimNext selects the oldest queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job domain.ReportJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil || !found {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id::text, days FROM report_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.Days)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE report_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
	`, job.ID); err != nil {
		return job, false, err
	}
	job.Status = domain.JobRunning
	return job, true, nil
}

// StartJob marks a specific queued job as running. It returns
// ports.ErrNotFound when the job does not exist or is no longer queued.
func (db *DB) StartJob(ctx context.Context, jobID string) (job domain.ReportJob, err error) {
	if _, perr := uuid.Parse(jobID); perr != nil {
		return job, ports.ErrNotFound
	}
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id::text, days FROM report_jobs
		WHERE id = $1 AND status = 'queued'
		FOR UPDATE SKIP LOCKED
	`, jobID).Scan(&job.ID, &job.Days)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, ports.ErrNotFound
	}
	if err != nil {
		return job, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE report_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
	`, jobID); err != nil {
		return job, err
	}
	job.Status = domain.JobRunning
	return job, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string, reportID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
		UPDATE report_jobs SET status = 'completed', report_id = $2, finished_at = now() WHERE id = $1
	`, jobID, reportID)
	return err
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.Pool.Exec(ctx, `
		UPDATE report_jobs SET status = 'failed', error = $2, finished_at = now() WHERE id = $1
	`, jobID, reason)
	return err
}

func (db *DB) Job(ctx context.Context, jobID string) (domain.ReportJob, error) {
	var (
		job      domain.ReportJob
		reportID *string
	)
	if _, err := uuid.Parse(jobID); err != nil {
		return job, ports.ErrNotFound
	}
	err := db.Pool.QueryRow(ctx, `
		SELECT id::text, days, status, report_id::text, error FROM report_jobs WHERE id = $1
	`, jobID).Scan(&job.ID, &job.Days, &job.Status, &reportID, &job.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, ports.ErrNotFound
	}
	if err != nil {
		return job, err
	}
	if reportID != nil {
		job.ReportID = *reportID
	}
	return job, nil
}
