// Package scheduler triggers both batch engines on cron specs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"coursewire/internal/report"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0

	// A run gets its budget plus this much slack for the unit of work
	// in flight when the budget expires.
	budgetGrace = 5 * time.Minute
)

// Engine is one budgeted batch engine.
type Engine interface {
	Execute(ctx context.Context, budget time.Duration) (*report.Run, error)
}

type Config struct {
	IngestSpec   string
	IngestBudget time.Duration
	DigestSpec   string
	DigestBudget time.Duration
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	ingest Engine
	digest Engine
	cfg    Config
	log    *slog.Logger
}

func New(ctx context.Context, ingest Engine, digest Engine, cfg Config, log *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:    ctx,
		cron:   c,
		ingest: ingest,
		digest: digest,
		cfg:    cfg,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.IngestSpec, func() {
		s.runEngine("ingest", s.ingest, s.cfg.IngestBudget)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.cfg.DigestSpec, func() {
		s.runEngine("digest", s.digest, s.cfg.DigestBudget)
	}); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runEngine(name string, engine Engine, budget time.Duration) {
	ctx, cancel := context.WithTimeout(s.ctx, budget+budgetGrace)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err(),
			"engine", name)
		return
	default:
	}

	run, err := engine.Execute(ctx, budget)
	if err != nil {
		s.log.ErrorContext(ctx, "Engine run aborted",
			"error", err,
			"engine", name,
			"budgetSeconds", budget.Seconds())

		return
	}

	s.log.InfoContext(ctx, "Engine run completed",
		"engine", name,
		"processed", run.Processed,
		"sent", run.Sent,
		"failed", run.Failed,
		"elapsedSeconds", run.Elapsed.Seconds())
}
