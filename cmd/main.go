package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coursewire/internal/config"
	"coursewire/internal/database"
	"coursewire/internal/digest"
	"coursewire/internal/feed"
	"coursewire/internal/indexcleanup"
	"coursewire/internal/ingest"
	"coursewire/internal/mailer"
	"coursewire/internal/scheduler"
)

const digestLockTTL = time.Hour

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	if cfg.Verbose {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		slog.SetDefault(log)
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	cleaner := indexcleanup.New(&indexcleanup.NoopIndex{Log: log}, nil, log)

	fetcher := feed.NewFetcher(log)
	reconciler := feed.NewReconciler(db, log)

	ingestEngine := ingest.New(db, fetcher, reconciler, cleaner, ingest.Config{
		MinInterval: time.Duration(cfg.FeedMinIntervalMinutes) * time.Minute,
		MaxPerRun:   cfg.IngestMaxFeedsPerRun,
	}, log)

	renderer, err := digest.NewTemplateRenderer()
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize renderer",
			"error", err)

		return
	}

	resolver := digest.NewResolver(db, cfg.BounceThreshold, log)
	smtpMailer := mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, log)

	digestEngine := digest.New(db, resolver, renderer, smtpMailer, digest.Config{
		From:           cfg.MailFrom,
		DoNotMailAfter: time.Duration(cfg.DoNotMailAfterHours) * time.Hour,
		LockTTL:        digestLockTTL,
	}, log)

	sched := scheduler.New(ctx, ingestEngine, digestEngine, scheduler.Config{
		IngestSpec:   cfg.IngestCronSpec,
		IngestBudget: time.Duration(cfg.IngestBudgetSeconds) * time.Second,
		DigestSpec:   cfg.DigestCronSpec,
		DigestBudget: time.Duration(cfg.DigestBudgetSeconds) * time.Second,
	}, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"ingestSpec", cfg.IngestCronSpec,
			"digestSpec", cfg.DigestCronSpec)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"ingestSpec", cfg.IngestCronSpec,
		"digestSpec", cfg.DigestCronSpec)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		if serveErr := metricsServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.ErrorContext(ctx, "Metrics server stopped",
				"error", serveErr,
				"metricsAddr", cfg.MetricsAddr)
		}
	}()
	log.InfoContext(ctx, "Metrics server is started",
		"metricsAddr", cfg.MetricsAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = metricsServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shut down metrics server",
			"error", err)
	}

	cleaner.Wait()

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())
}
