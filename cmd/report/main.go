// Command report generates one usage report and exits. Runs are stored when
// DATABASE_URL is set, and mailed when recipients are configured or given
// with --to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"cdr.dev/slog/v3"

	pg "ospoolreport/internal/adapters/postgres"
	"ospoolreport/internal/app"
	"ospoolreport/internal/config"
	"ospoolreport/internal/services/render"
)

func main() {
	cfg, err := config.Load()
	log := app.Logger(os.Stderr, cfg.LogLevel)
	if err != nil && !errors.Is(err, config.ErrNoDatabase) {
		log.Fatal(context.Background(), "load config", slog.Error(err))
	}

	flags := pflag.NewFlagSet("report", pflag.ExitOnError)
	to := flags.StringArray("to", nil, "recipient address; repeat for several (overrides MAIL_TO)")
	days := flags.Int("days", cfg.ReportDays, "length of the reporting period in days")
	outputDir := flags.String("output-dir", cfg.OutputDir, "directory for the CSV and unmapped key exports; empty disables")
	_ = flags.Parse(os.Args[1:])

	if len(*to) > 0 {
		cfg.Mail.To = *to
	}
	cfg.OutputDir = *outputDir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := app.Deps{}
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal(ctx, "db connect", slog.Error(err))
		}
		defer db.Close()
		if _, err := db.Migrate(ctx); err != nil {
			log.Fatal(ctx, "db migrate", slog.Error(err))
		}
		deps.Repository = db
	}

	pipe, err := app.New(cfg, deps, log)
	if err != nil {
		log.Fatal(ctx, "build pipeline", slog.Error(err))
	}
	defer pipe.Close()

	rep, err := pipe.Service.Generate(ctx, *days)
	if err != nil {
		log.Error(ctx, "generate report", slog.Error(err))
		stop()
		os.Exit(1)
	}
	fmt.Println(render.Text(rep))
}
