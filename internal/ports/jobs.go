package ports

import (
	"context"

	"ospoolreport/internal/domain"
)

// JobRepository supports enqueuing, claiming and updating report jobs.
type JobRepository interface {
	Enqueue(ctx context.Context, days int) (jobID string, err error)
	ClaimNext(ctx context.Context) (job domain.ReportJob, found bool, err error)
	StartJob(ctx context.Context, jobID string) (domain.ReportJob, error)
	MarkCompleted(ctx context.Context, jobID string, reportID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	Job(ctx context.Context, jobID string) (domain.ReportJob, error)
}
