package ports

import (
	"context"

	"ospoolreport/internal/domain"
)

// WindowQuerier issues the per-window queries against the event store.
type WindowQuerier interface {
	QuerySums(ctx context.Context, w domain.TimeWindow) (domain.Sums, error)
	QueryBuckets(ctx context.Context, w domain.TimeWindow) (domain.WindowBuckets, error)
}

// InstitutionLookup resolves raw identifiers to institutions. Keys are
// case-folded by the implementation where the table is case-insensitive.
type InstitutionLookup interface {
	InstitutionByID(id string) (domain.Institution, bool)
	InstitutionByResource(name string) (domain.Institution, bool)
	InstitutionByProject(name string) (domain.Institution, bool)
}

// ReferenceDirectory is an InstitutionLookup backed by refreshable tables.
// Lookups are read-only for the duration of a run; RefreshIfStale is called
// before a run starts.
type ReferenceDirectory interface {
	InstitutionLookup
	RefreshIfStale(ctx context.Context) error
}

// Mailer delivers a rendered report.
type Mailer interface {
	Send(ctx context.Context, msg domain.Message) error
}

// Publisher hands a finished report to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, report domain.Report) error
}

// Reporter runs a report generation end to end.
type Reporter interface {
	Generate(ctx context.Context, days int) (domain.Report, error)
}
