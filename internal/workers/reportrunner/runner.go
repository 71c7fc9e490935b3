// Package reportrunner drains the report job queue and schedules periodic runs.
package reportrunner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/metrics"
	"ospoolreport/internal/ports"
)

type Runner struct {
	jobs     ports.JobRepository
	reporter ports.Reporter
	metrics  *metrics.Metrics
	log      slog.Logger
}

func New(jobs ports.JobRepository, reporter ports.Reporter, m *metrics.Metrics, log slog.Logger) *Runner {
	return &Runner{jobs: jobs, reporter: reporter, metrics: m, log: log.Named("reportrunner")}
}

// Run claims queued jobs every pollInterval and hands them to concurrency
// workers. It blocks until ctx is done and every worker has returned.
func (r *Runner) Run(ctx context.Context, concurrency int, pollInterval time.Duration) {
	if concurrency < 1 {
		return
	}
	jobsCh := make(chan domain.ReportJob, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for job := range jobsCh {
				if err := r.process(ctx, job); err != nil {
					r.log.Warn(ctx, "job did not complete", slog.F("worker", idx), slog.F("job_id", job.ID), slog.Error(err))
				}
			}
		}(i)
	}

	r.dispatch(ctx, jobsCh, pollInterval)
	close(jobsCh)
	wg.Wait()
}

func (r *Runner) dispatch(ctx context.Context, jobsCh chan<- domain.ReportJob, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				job, found, err := r.jobs.ClaimNext(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.log.Error(ctx, "job claim error", slog.Error(err))
					}
					break
				}
				if !found {
					break
				}
				select {
				case jobsCh <- job:
				case <-ctx.Done():
					r.abandon(ctx, job)
					return
				}
			}
		}
	}
}

// abandon fails a job claimed after shutdown began so it does not stay running.
func (r *Runner) abandon(ctx context.Context, job domain.ReportJob) {
	if err := r.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, "runner shut down before the job started"); err != nil {
		r.log.Error(ctx, "mark abandoned job failed", slog.F("job_id", job.ID), slog.Error(err))
	}
	r.metrics.JobFinished(domain.JobFailed)
}

// process generates the report for a running job and records the outcome.
// Outcome writes survive cancellation of ctx.
func (r *Runner) process(ctx context.Context, job domain.ReportJob) error {
	log := r.log.With(slog.F("job_id", job.ID), slog.F("days", job.Days))
	log.Info(ctx, "report job started")

	rep, err := r.reporter.Generate(ctx, job.Days)
	if err != nil {
		if merr := r.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error()); merr != nil {
			log.Error(ctx, "mark job failed", slog.Error(merr))
		}
		r.metrics.JobFinished(domain.JobFailed)
		return xerrors.Errorf("generate report: %w", err)
	}
	if err := r.jobs.MarkCompleted(context.WithoutCancel(ctx), job.ID, rep.ID); err != nil {
		r.metrics.JobFinished(domain.JobFailed)
		return xerrors.Errorf("mark job %s completed: %w", job.ID, err)
	}
	r.metrics.JobFinished(domain.JobCompleted)
	log.Info(ctx, "report job completed", slog.F("report_id", rep.ID))
	return nil
}

// ProcessInline runs a queued job synchronously with the same logic the
// workers use and returns its final state.
func (r *Runner) ProcessInline(ctx context.Context, jobID string) (domain.ReportJob, error) {
	job, err := r.jobs.StartJob(ctx, jobID)
	if err != nil {
		return domain.ReportJob{}, xerrors.Errorf("start job %s: %w", jobID, err)
	}
	if err := r.process(ctx, job); err != nil {
		return domain.ReportJob{}, err
	}
	return r.jobs.Job(ctx, jobID)
}
