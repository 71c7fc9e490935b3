// Package app assembles the report pipeline from configuration. Both the
// server and the one-shot command build it the same way.
package app

import (
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"ospoolreport/internal/adapters/elastic"
	"ospoolreport/internal/adapters/kafka"
	"ospoolreport/internal/adapters/mailer"
	"ospoolreport/internal/adapters/snapshot"
	"ospoolreport/internal/adapters/topology"
	"ospoolreport/internal/config"
	"ospoolreport/internal/metrics"
	"ospoolreport/internal/ports"
	"ospoolreport/internal/retry"
	"ospoolreport/internal/services/report"
)

// Logger builds the root logger writing human-readable lines to w.
func Logger(w io.Writer, level string) slog.Logger {
	log := slog.Make(sloghuman.Sink(w))
	switch strings.ToLower(level) {
	case "debug":
		return log.Leveled(slog.LevelDebug)
	case "warn", "warning":
		return log.Leveled(slog.LevelWarn)
	case "error":
		return log.Leveled(slog.LevelError)
	default:
		return log.Leveled(slog.LevelInfo)
	}
}

// Deps are the pieces owned by the caller.
type Deps struct {
	// Repository is optional; without it runs are not persisted.
	Repository ports.ReportRepository
	// Registerer is optional; without it no metrics are recorded.
	Registerer prometheus.Registerer
	// Fs backs the reference snapshots; defaults to the OS filesystem.
	Fs afero.Fs
}

type Pipeline struct {
	Service   *report.Service
	Directory *topology.Directory
	Metrics   *metrics.Metrics

	closers []func() error
}

// Close releases the pipeline's outbound connections.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func New(cfg config.Config, deps Deps, log slog.Logger) (*Pipeline, error) {
	p := &Pipeline{}
	if deps.Registerer != nil {
		p.Metrics = metrics.New(deps.Registerer)
	}
	fs := deps.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	p.Directory = topology.New(topology.Options{
		InstitutionsURL: cfg.InstitutionsURL,
		ProjectsURL:     cfg.ProjectsURL,
		ResourcesURL:    cfg.ResourcesURL,
		InstitutionsTTL: cfg.InstitutionsTTL,
		ProjectsTTL:     cfg.ProjectsTTL,
		ResourcesTTL:    cfg.ResourcesTTL,
		Retry:           retry.Default(),
		Table: topology.TableOptions{
			Snapshots: snapshot.New(fs, cfg.SnapshotDir),
			Metrics:   p.Metrics,
		},
	}, log.Named("topology"))

	esPassword, err := config.ReadSecret(cfg.ES.PasswordFile)
	if err != nil {
		return nil, xerrors.Errorf("read elasticsearch password: %w", err)
	}
	var caCert []byte
	if cfg.ES.CACert != "" {
		caCert, err = os.ReadFile(cfg.ES.CACert)
		if err != nil {
			return nil, xerrors.Errorf("read elasticsearch CA certificate: %w", err)
		}
	}
	querier, err := elastic.New(elastic.Options{
		Addresses:   cfg.ES.Addresses,
		Username:    cfg.ES.Username,
		Password:    esPassword,
		CACert:      caCert,
		RawIndex:    cfg.ES.RawIndex,
		TotalsIndex: cfg.ES.TotalsIndex,
		Timeout:     cfg.ES.Timeout,
		Pool: elastic.Pool{
			AccessPoints:      cfg.ES.AccessPoints,
			Collectors:        cfg.ES.Collectors,
			ExcludedResources: cfg.ES.ExcludedResources,
		},
		Retry:   retry.Default(),
		Metrics: p.Metrics,
	}, log.Named("elastic"))
	if err != nil {
		return nil, err
	}

	opts := report.Options{
		Directory:  p.Directory,
		Query:      querier,
		Repository: deps.Repository,
		Mail: report.MailOptions{
			From:    cfg.Mail.From,
			To:      cfg.Mail.To,
			ReplyTo: cfg.Mail.ReplyTo,
		},
		OutputDir: cfg.OutputDir,
		Metrics:   p.Metrics,
	}

	if len(cfg.Mail.To) > 0 {
		smtpPassword, err := config.ReadSecret(cfg.Mail.SMTPPasswordFile)
		if err != nil {
			return nil, xerrors.Errorf("read smtp password: %w", err)
		}
		opts.Mailer = mailer.New(mailer.Options{
			Server:   cfg.Mail.SMTPServer,
			Username: cfg.Mail.SMTPUsername,
			Password: smtpPassword,
		}, log)
	}

	// Opened last: nothing below can fail and leak it.
	if len(cfg.KafkaBrokers) > 0 {
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, retry.Default())
		p.closers = append(p.closers, pub.Close)
		opts.Publisher = pub
	}

	p.Service = report.New(opts, log.Named("report"))
	return p, nil
}
