package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"cdr.dev/slog/v3"

	httpadapter "ospoolreport/internal/adapters/http"
	pg "ospoolreport/internal/adapters/postgres"
	"ospoolreport/internal/app"
	"ospoolreport/internal/config"
	"ospoolreport/internal/ports"
	"ospoolreport/internal/workers/reportrunner"
)

const pollInterval = time.Second

func main() {
	cfg, err := config.Load()
	log := app.Logger(os.Stderr, cfg.LogLevel)
	if err != nil {
		log.Fatal(context.Background(), "load config", slog.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(ctx, "db connect", slog.Error(err))
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		log.Fatal(ctx, "db migrate", slog.Error(err))
	}
	log.Info(ctx, "migrations applied", slog.F("count", applied))

	var _ ports.ReportRepository = db
	var _ ports.JobRepository = db

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipe, err := app.New(cfg, app.Deps{Repository: db, Registerer: reg}, log)
	if err != nil {
		log.Fatal(ctx, "build pipeline", slog.Error(err))
	}
	defer func() {
		if err := pipe.Close(); err != nil {
			log.Warn(context.Background(), "close pipeline", slog.Error(err))
		}
	}()

	runner := reportrunner.New(db, pipe.Service, pipe.Metrics, log)
	srv := httpadapter.New(db, db, runner, reg, log)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "listening", slog.F("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if cfg.ReportWorkers > 0 {
		g.Go(func() error {
			log.Info(gctx, "report workers started", slog.F("count", cfg.ReportWorkers))
			runner.Run(gctx, cfg.ReportWorkers, pollInterval)
			return nil
		})
	}

	if cfg.ReportSchedule != "off" {
		sched, err := reportrunner.NewScheduler(cfg.ReportSchedule, cfg.ReportDays, db, log)
		if err != nil {
			log.Fatal(ctx, "report schedule", slog.Error(err))
		}
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error(ctx, "server error", slog.Error(err))
		os.Exit(1)
	}
	log.Info(context.Background(), "shut down")
}
