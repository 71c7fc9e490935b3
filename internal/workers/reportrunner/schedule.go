package reportrunner

import (
	"context"

	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"ospoolreport/internal/ports"
)

// Scheduler enqueues a report job of a fixed length on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	jobs ports.JobRepository
	days int
	log  slog.Logger
}

// NewScheduler parses spec as a standard five-field cron expression.
func NewScheduler(spec string, days int, jobs ports.JobRepository, log slog.Logger) (*Scheduler, error) {
	if days <= 0 {
		return nil, xerrors.Errorf("scheduled report length must be positive, got %d", days)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, xerrors.Errorf("parse schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		cron: cron.New(),
		jobs: jobs,
		days: days,
		log:  log.Named("scheduler"),
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.enqueue(context.Background()) }))
	return s, nil
}

func (s *Scheduler) enqueue(ctx context.Context) {
	id, err := s.jobs.Enqueue(ctx, s.days)
	if err != nil {
		s.log.Error(ctx, "enqueue scheduled report", slog.Error(err))
		return
	}
	s.log.Info(ctx, "scheduled report enqueued", slog.F("job_id", id), slog.F("days", s.days))
}

// Run starts the schedule and stops it when ctx is done, waiting for a
// running enqueue to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.log.Info(ctx, "schedule started", slog.F("next", s.cron.Entries()[0].Next))
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
