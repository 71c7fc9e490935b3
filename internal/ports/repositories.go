package ports

import (
	"context"

	"ospoolreport/internal/domain"
)

// Table is a keyed reference table with its own staleness threshold.
type Table[T any] interface {
	Get(key string) (T, bool)
	Len() int
	RefreshIfStale(ctx context.Context) error
}

// ReportRepository stores finished runs.
type ReportRepository interface {
	SaveReport(ctx context.Context, report domain.Report) error
	GetReport(ctx context.Context, id string) (domain.Report, error)
	LatestReport(ctx context.Context) (domain.Report, error)
}

var ErrNotFound = errString("not found")

type errString string

func (e errString) Error() string { return string(e) }
