// Package indexcleanup removes hard-deleted and hidden messages from
// the external search index, best-effort and asynchronously.
package indexcleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Index is the external search index collaborator.
type Index interface {
	RemoveBatch(ctx context.Context, messageIDs []int64) error
}

// NoopIndex is the sink for deployments without a search index.
type NoopIndex struct {
	Log *slog.Logger
}

func (n *NoopIndex) RemoveBatch(ctx context.Context, messageIDs []int64) error {
	if n.Log != nil {
		n.Log.InfoContext(ctx, "No search index configured, dropping cleanup batch",
			"messageCount", len(messageIDs))
	}

	return nil
}

// Cleaner runs at most one cleanup job at a time and skips batches
// when the index has not completed a run recently, to avoid racing a
// concurrent full reindex.
type Cleaner struct {
	index        Index
	lastIndexRun func() time.Time
	staleAfter   time.Duration
	timeout      time.Duration

	mu  sync.Mutex
	wg  sync.WaitGroup
	log *slog.Logger
}

const (
	defaultStaleAfter = 24 * time.Hour
	defaultTimeout    = 5 * time.Minute
)

func New(index Index, lastIndexRun func() time.Time, log *slog.Logger) *Cleaner {
	return &Cleaner{
		index:        index,
		lastIndexRun: lastIndexRun,
		staleAfter:   defaultStaleAfter,
		timeout:      defaultTimeout,
		log:          log,
	}
}

// Enqueue hands a batch of removed message ids to the cleaner. The
// batch is processed on its own goroutine; failures are logged, never
// returned, and never retried.
func (c *Cleaner) Enqueue(messageIDs []int64) {
	if len(messageIDs) == 0 {
		return
	}

	batch := make([]int64, len(messageIDs))
	copy(batch, messageIDs)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(batch)
	}()
}

// Wait blocks until all enqueued batches finished. Used on shutdown.
func (c *Cleaner) Wait() {
	c.wg.Wait()
}

func (c *Cleaner) run(batch []int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if !c.mu.TryLock() {
		c.log.InfoContext(ctx, "Index cleanup already running, dropping batch",
			"messageCount", len(batch))

		return
	}
	defer c.mu.Unlock()

	if c.lastIndexRun != nil {
		last := c.lastIndexRun()
		if last.IsZero() || time.Since(last) > c.staleAfter {
			c.log.InfoContext(ctx, "Search index has no recent completed run, skipping cleanup",
				"lastIndexRun", last,
				"messageCount", len(batch))

			return
		}
	}

	if err := c.index.RemoveBatch(ctx, batch); err != nil {
		c.log.ErrorContext(ctx, "Failed to remove messages from search index",
			"error", err,
			"messageCount", len(batch))

		return
	}

	c.log.InfoContext(ctx, "Removed messages from search index",
		"messageCount", len(batch))
}
