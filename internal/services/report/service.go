// Package report runs one report end to end: refresh the reference
// directory, aggregate the windows, then export, persist, publish and mail.
package report

import (
	"context"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/metrics"
	"ospoolreport/internal/ports"
	"ospoolreport/internal/services/aggregate"
	"ospoolreport/internal/services/render"
	"ospoolreport/internal/services/windows"
)

type MailOptions struct {
	From    string
	To      []string
	ReplyTo string
}

// Options wires the service. Repository, Publisher, Mailer and OutputDir are
// optional; a nil or empty value skips that step.
type Options struct {
	Directory  ports.ReferenceDirectory
	Query      ports.WindowQuerier
	Repository ports.ReportRepository
	Publisher  ports.Publisher
	Mailer     ports.Mailer
	Mail       MailOptions
	OutputDir  string
	Clock      clockwork.Clock
	Metrics    *metrics.Metrics
}

var _ ports.Reporter = (*Service)(nil)

type Service struct {
	opts   Options
	engine *aggregate.Engine
	clock  clockwork.Clock
	log    slog.Logger

	// mu serializes runs; reference tables refresh at run start.
	mu sync.Mutex
}

func New(opts Options, log slog.Logger) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		opts:   opts,
		engine: aggregate.New(opts.Query, opts.Directory, log.Named("aggregate")),
		clock:  clock,
		log:    log,
	}
}

// Generate builds the report for the trailing days. Nothing is exported,
// stored, published or mailed unless aggregation completes.
func (s *Service) Generate(ctx context.Context, days int) (domain.Report, error) {
	if days <= 0 {
		return domain.Report{}, xerrors.Errorf("days must be positive, got %d", days)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock.Now()
	r, err := s.generate(ctx, days)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.opts.Metrics.ObserveRun(outcome, s.clock.Since(start))
	return r, err
}

func (s *Service) generate(ctx context.Context, days int) (domain.Report, error) {
	if err := s.opts.Directory.RefreshIfStale(ctx); err != nil {
		return domain.Report{}, xerrors.Errorf("refresh reference directory: %w", err)
	}

	now := s.clock.Now()
	ws := windows.Generate(now, days)
	s.log.Info(ctx, "report run started", slog.F("days", days), slog.F("windows", len(ws)))

	res, err := s.engine.Run(ctx, ws)
	if err != nil {
		return domain.Report{}, xerrors.Errorf("aggregate: %w", err)
	}

	r := domain.Report{
		ID:           uuid.NewString(),
		GeneratedAt:  now,
		Days:         days,
		Months:       res.Months,
		Total:        res.Total,
		Institutions: res.Sets,
		Unmapped:     res.Unmapped,
		Undefined:    res.Undefined,
	}
	for category, recs := range r.Unmapped {
		s.opts.Metrics.SetUnmapped(category, len(recs))
	}

	html, err := render.HTML(r)
	if err != nil {
		return domain.Report{}, err
	}
	files := Exports(r)

	if s.opts.Repository != nil {
		if err := s.opts.Repository.SaveReport(ctx, r); err != nil {
			return domain.Report{}, xerrors.Errorf("save report: %w", err)
		}
	}

	// Files only appear for runs that were stored.
	if s.opts.OutputDir != "" {
		written := append(files, Export{Name: "last_" + render.Label(r.Days) + "_summary.html", Data: []byte(html)})
		paths, err := WriteExports(s.opts.OutputDir, written)
		if err != nil {
			s.log.Error(ctx, "write exports", slog.F("report_id", r.ID), slog.F("dir", s.opts.OutputDir), slog.Error(err))
		} else {
			s.log.Debug(ctx, "exports written", slog.F("paths", paths))
		}
	}

	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.Publish(ctx, r); err != nil {
			s.opts.Metrics.PublishFailed()
			s.log.Warn(ctx, "publish report", slog.F("report_id", r.ID), slog.Error(err))
		}
	}

	if s.opts.Mailer != nil && len(s.opts.Mail.To) > 0 {
		msg := domain.Message{
			From:    s.opts.Mail.From,
			To:      s.opts.Mail.To,
			ReplyTo: s.opts.Mail.ReplyTo,
			Subject: render.Subject(now, days),
			HTML:    html,
		}
		for _, f := range files {
			msg.Attachments = append(msg.Attachments, domain.Attachment{Name: f.Name, Data: f.Data})
		}
		if err := s.opts.Mailer.Send(ctx, msg); err != nil {
			s.log.Error(ctx, "mail report", slog.F("report_id", r.ID), slog.Error(err))
		}
	}

	s.log.Info(ctx, "report run finished",
		slog.F("report_id", r.ID),
		slog.F("users", r.Total.Users),
		slog.F("projects", r.Total.Projects),
		slog.F("institutions_any", r.Total.InstitutionsAny),
		slog.F("unmapped_resources", len(r.Unmapped[domain.UnmappedResources])),
		slog.F("unmapped_projects", len(r.Unmapped[domain.UnmappedProjects])),
		slog.F("elapsed", s.clock.Since(now)),
	)
	return r, nil
}
