// Package ingest drives budgeted feed refresh runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coursewire/internal/domain"
	"coursewire/internal/feed"
	"coursewire/internal/metrics"
	"coursewire/internal/report"
)

type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]feed.Entry, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, f *domain.Feed, entries []feed.Entry) (*feed.Result, error)
}

type Store interface {
	ListFeeds(ctx context.Context) ([]domain.Feed, error)
	MarkFeedAttempt(ctx context.Context, feedID int64, attemptedAt time.Time, lastError string) error
}

// Cleanup receives the removed-message ids accumulated across one run.
type Cleanup interface {
	Enqueue(messageIDs []int64)
}

type Config struct {
	MinInterval time.Duration
	MaxPerRun   int
}

// Engine is the ingestion scheduler: it walks all due feeds under a
// wall-clock budget, fetching and reconciling each in turn.
type Engine struct {
	store      Store
	fetcher    Fetcher
	reconciler Reconciler
	cleanup    Cleanup
	cfg        Config
	now        func() time.Time
	log        *slog.Logger
}

func New(
	store Store,
	fetcher Fetcher,
	reconciler Reconciler,
	cleanup Cleanup,
	cfg Config,
	log *slog.Logger,
) *Engine {
	return &Engine{
		store:      store,
		fetcher:    fetcher,
		reconciler: reconciler,
		cleanup:    cleanup,
		cfg:        cfg,
		now:        time.Now,
		log:        log,
	}
}

// Execute runs one ingestion pass. Feeds are processed oldest-updated
// first; once elapsed time exceeds the budget no new feed is started,
// but the feed in progress always finishes. Fetch failures are
// recorded on the feed and retried next scheduled run; only an
// unrecoverable store failure aborts the pass.
func (e *Engine) Execute(ctx context.Context, budget time.Duration) (*report.Run, error) {
	start := e.now()
	run := report.NewRun()

	feeds, err := e.store.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}

	var due []domain.Feed
	for _, f := range feeds {
		if f.Due(start, e.cfg.MinInterval) {
			due = append(due, f)
		}
	}

	if e.cfg.MaxPerRun > 0 && len(due) > e.cfg.MaxPerRun {
		due = due[:e.cfg.MaxPerRun]
	}

	var removed []int64

	for i := range due {
		if e.now().Sub(start) >= budget {
			e.log.InfoContext(ctx, "Ingestion budget exceeded, stopping run",
				"budgetSeconds", budget.Seconds(),
				"processed", run.Processed,
				"dueRemaining", len(due)-i)

			break
		}

		f := &due[i]

		result, feedErr := e.processFeed(ctx, f)
		if feedErr != nil {
			return nil, feedErr
		}

		run.Processed++

		if result != nil {
			run.Created += result.Created
			run.Updated += result.Updated
			run.Removed += len(result.RemovedIDs)
			removed = append(removed, result.RemovedIDs...)
		}
	}

	if len(removed) > 0 {
		e.cleanup.Enqueue(removed)
	}

	run.Elapsed = e.now().Sub(start)
	metrics.ObserveIngestRun(run, run.Elapsed)

	e.log.InfoContext(ctx, "Ingestion run finished",
		"processed", run.Processed,
		"created", run.Created,
		"updated", run.Updated,
		"removed", run.Removed,
		"elapsedSeconds", run.Elapsed.Seconds())

	return run, nil
}

// processFeed fetches and reconciles one feed. A *feed.FetchError is
// absorbed here; anything else is a store failure and fatal to the run.
func (e *Engine) processFeed(ctx context.Context, f *domain.Feed) (*feed.Result, error) {
	entries, err := e.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		var fetchErr *feed.FetchError
		if !errors.As(err, &fetchErr) {
			return nil, fmt.Errorf("fetch feed %d: %w", f.ID, err)
		}

		e.log.WarnContext(ctx, "Feed fetch failed",
			"error", err,
			"feedID", f.ID,
			"feedURL", f.URL)

		metrics.ObserveIngestFeed(true)

		// The due timer resets on failure too, so a broken feed does
		// not monopolize successive runs; the stored content hash is
		// untouched.
		if markErr := e.store.MarkFeedAttempt(ctx, f.ID, e.now().UTC(), err.Error()); markErr != nil {
			return nil, fmt.Errorf("mark feed attempt: %w", markErr)
		}

		return nil, nil
	}

	result, err := e.reconciler.Reconcile(ctx, f, entries)
	if err != nil {
		return nil, fmt.Errorf("reconcile feed %d: %w", f.ID, err)
	}

	metrics.ObserveIngestFeed(false)

	if e.log.Enabled(ctx, slog.LevelDebug) {
		e.log.DebugContext(ctx, "Feed reconciled",
			"feedID", f.ID,
			"unchanged", result.Unchanged,
			"created", result.Created,
			"updated", result.Updated,
			"removed", len(result.RemovedIDs),
			"conflicts", result.Conflicts)
	}

	return result, nil
}
