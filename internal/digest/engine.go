package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coursewire/internal/domain"
	"coursewire/internal/metrics"
	"coursewire/internal/report"
)

const runLockName = "digest_run"

// Mailer is the outbound transport collaborator. Send reports false on
// failure and must never panic past the per-recipient boundary.
type Mailer interface {
	Send(ctx context.Context, to string, from string, subject string, text string, html string) bool
}

// Store composes everything the mailing engine touches.
type Store interface {
	CursorStore
	ResolverStore
	TransitionMailState(ctx context.Context, messageID int64, to domain.MailState) (bool, error)
	AcquireRunLock(ctx context.Context, name string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, name string, acquiredAt time.Time) error
}

type Config struct {
	From           string
	DoNotMailAfter time.Duration
	LockTTL        time.Duration
}

// Engine drives the digest cursor under a wall-clock budget, resolving
// recipients per container and sending one email per message and
// recipient group. Runs are single-flight via a named advisory lock.
type Engine struct {
	store    Store
	resolver *Resolver
	renderer Renderer
	mailer   Mailer
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
}

func New(
	store Store,
	resolver *Resolver,
	renderer Renderer,
	mailer Mailer,
	cfg Config,
	log *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver,
		renderer: renderer,
		mailer:   mailer,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

// Execute runs one mailing pass. It stops starting new messages once
// elapsed time exceeds the budget; resumability is implicit in
// mail_state, so the next invocation picks up exactly the messages
// this one did not finish. A message is marked mailed only after its
// full recipient batch has been attempted.
func (e *Engine) Execute(ctx context.Context, budget time.Duration) (*report.Run, error) {
	start := e.now()
	run := report.NewRun()

	locked, err := e.store.AcquireRunLock(ctx, runLockName, start, e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		run.Elapsed = e.now().Sub(start)
		metrics.ObserveDigestLockSkip()

		e.log.InfoContext(ctx, "Another digest run holds the lock, skipping",
			"lockName", runLockName,
			"elapsedSeconds", run.Elapsed.Seconds())

		return run, nil
	}
	defer func() {
		if releaseErr := e.store.ReleaseRunLock(ctx, runLockName, start); releaseErr != nil {
			e.log.ErrorContext(ctx, "Failed to release run lock",
				"error", releaseErr,
				"lockName", runLockName)
		}
	}()

	cursor, err := NewCursor(ctx, e.store, start)
	if err != nil {
		return nil, err
	}

	complete := true

	for {
		containerID, ok := cursor.NextContainer()
		if !ok {
			break
		}

		if e.now().Sub(start) >= budget {
			complete = false
			break
		}

		sub, containerDone, containerErr := e.processContainer(ctx, cursor, containerID, start, budget)
		run.Merge(sub)

		if containerErr != nil {
			return nil, containerErr
		}
		if !containerDone {
			complete = false
			break
		}
	}

	run.Elapsed = e.now().Sub(start)
	metrics.ObserveDigestRun(run, run.Elapsed)

	if complete {
		e.log.InfoContext(ctx, "Digest run finished, complete pass",
			"processed", run.Processed,
			"sent", run.Sent,
			"failed", run.Failed,
			"groupSkipped", run.GroupSkipped,
			"skippedTooOld", run.SkippedOld,
			"elapsedSeconds", run.Elapsed.Seconds())
	} else {
		e.log.InfoContext(ctx, "Digest budget exceeded, stopping mid-traversal",
			"budgetSeconds", budget.Seconds(),
			"processed", run.Processed,
			"sent", run.Sent,
			"containersRemaining", cursor.Remaining())
	}

	return run, nil
}

// processContainer emits all pending messages of one container. The
// returned flag is false when the budget ran out mid-container; an
// error return is a store failure and fatal to the run.
func (e *Engine) processContainer(
	ctx context.Context,
	cursor *Cursor,
	containerID int64,
	start time.Time,
	budget time.Duration,
) (*report.Run, bool, error) {
	sub := report.NewRun()

	phaseStart := e.now()
	container, candidates, err := e.resolver.Fetch(ctx, containerID)
	sub.Phases.Add(report.PhaseSubscribers, e.now().Sub(phaseStart))

	if err != nil {
		// Recipient resolution failure skips the container for this
		// pass only: its messages stay pending and the next run
		// retries them.
		e.log.ErrorContext(ctx, "Failed to resolve subscribers, skipping container",
			"error", err,
			"containerID", containerID)

		return sub, true, nil
	}

	phaseStart = e.now()
	recipients := e.resolver.Filter(container, candidates)
	sub.Phases.Add(report.PhaseFilter, e.now().Sub(phaseStart))

	messages, err := cursor.Messages(ctx, containerID)
	if err != nil {
		return sub, false, fmt.Errorf("load pending messages for container %d: %w", containerID, err)
	}

	for i := range messages {
		msg := &messages[i]

		if e.now().Sub(start) >= budget {
			return sub, false, nil
		}

		if start.Sub(msg.PublishedAt) > e.cfg.DoNotMailAfter {
			changed, stateErr := e.store.TransitionMailState(ctx, msg.ID, domain.MailSkippedOld)
			if stateErr != nil {
				return sub, false, fmt.Errorf("skip old message %d: %w", msg.ID, stateErr)
			}
			if changed {
				sub.SkippedOld++
				e.log.WarnContext(ctx, "Message too old to mail, skipping permanently",
					"messageID", msg.ID,
					"containerID", containerID,
					"publishedAt", msg.PublishedAt)
			}

			continue
		}

		msgReport := e.emitMessage(ctx, msg, recipients)
		sub.Merge(msgReport)

		changed, stateErr := e.store.TransitionMailState(ctx, msg.ID, domain.MailMailed)
		if stateErr != nil {
			return sub, false, fmt.Errorf("mark message %d mailed: %w", msg.ID, stateErr)
		}
		if changed {
			sub.Processed++
		} else {
			e.log.WarnContext(ctx, "Message was no longer pending when marking mailed",
				"messageID", msg.ID,
				"containerID", containerID)
		}
	}

	return sub, true, nil
}

// emitMessage renders once per recipient group and sends to every
// member. A failed send counts and moves on; it is never retried.
func (e *Engine) emitMessage(
	ctx context.Context,
	msg *domain.Message,
	recipients []domain.Recipient,
) *report.Run {
	sub := report.NewRun()

	keys, groups, groupSkipped := e.resolver.Groups(msg, recipients)
	sub.GroupSkipped += groupSkipped

	phaseStart := e.now()
	defer func() {
		sub.Phases.Add(report.PhaseRenderSend, e.now().Sub(phaseStart))
	}()

	for _, key := range keys {
		subject, text, html, err := e.renderer.Render(msg, key)
		if err != nil {
			e.log.ErrorContext(ctx, "Failed to render digest, batch counted as failed",
				"error", err,
				"messageID", msg.ID,
				"lang", key.Lang,
				"recipientCount", len(groups[key]))

			sub.Failed += len(groups[key])
			continue
		}

		if key.MailFormat == "plain" {
			html = ""
		}

		for _, rcpt := range groups[key] {
			if e.mailer.Send(ctx, rcpt.Email, e.cfg.From, subject, text, html) {
				sub.Sent++
			} else {
				sub.Failed++
			}
		}
	}

	return sub
}
