package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"coursewire/internal/domain"
)

// Store is the slice of the message store reconciliation needs.
type Store interface {
	FeedMessages(ctx context.Context, feedID int64) ([]domain.Message, error)
	HasLocalMessageWithExternalID(ctx context.Context, containerID int64, externalID string) (bool, error)
	CreateMessage(ctx context.Context, m *domain.Message) (int64, error)
	UpdateFeedMessage(ctx context.Context, messageID int64, title string, body string,
		publishedAt time.Time, entryHash string, modifiedAt time.Time) error
	HideMessages(ctx context.Context, messageIDs []int64, modifiedAt time.Time) error
	StoreFeedHash(ctx context.Context, feedID int64, contentHash string, fetchedAt time.Time) error
	MarkFeedAttempt(ctx context.Context, feedID int64, attemptedAt time.Time, lastError string) error
}

// ReconcileConflict marks a feed entry whose external id collides with
// a locally authored message. The entry is logged and skipped; the
// local message is never touched by reconciliation.
type ReconcileConflict struct {
	FeedID     int64
	ExternalID string
}

func (e *ReconcileConflict) Error() string {
	return fmt.Sprintf("feed %d entry %q collides with a locally authored message",
		e.FeedID, e.ExternalID)
}

// Result summarizes one reconciliation of one feed.
type Result struct {
	Unchanged  bool
	Created    int
	Updated    int
	Conflicts  int
	RemovedIDs []int64
}

type Reconciler struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

func NewReconciler(store Store, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		now:   time.Now,
		log:   log,
	}
}

// Reconcile merges the fetched entries into the message store for one
// feed. The match key space is "feed-owned messages of this feed keyed
// by external id"; locally authored messages are invisible to it.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	f *domain.Feed,
	entries []Entry,
) (*Result, error) {
	now := r.now().UTC()

	contentHash := SequenceHash(entries)
	if contentHash == f.ContentHash {
		// No-op fast path: the remote document has not changed, only
		// the due timer moves.
		if err := r.store.MarkFeedAttempt(ctx, f.ID, now, ""); err != nil {
			return nil, fmt.Errorf("mark feed attempt: %w", err)
		}

		return &Result{Unchanged: true}, nil
	}

	existing, err := r.store.FeedMessages(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("load feed messages: %w", err)
	}

	// Keyed index scoped to this feed, rebuilt from the store on every
	// reconciliation rather than cached across runs.
	index := make(map[string]*domain.Message, len(existing))
	for i := range existing {
		index[existing[i].ExternalID] = &existing[i]
	}

	result := &Result{}

	for _, entry := range entries {
		collides, localErr := r.store.HasLocalMessageWithExternalID(ctx, f.ContainerID, entry.ExternalID)
		if localErr != nil {
			return nil, fmt.Errorf("check local collision: %w", localErr)
		}
		if collides {
			conflict := &ReconcileConflict{FeedID: f.ID, ExternalID: entry.ExternalID}
			r.log.WarnContext(ctx, "Skipping conflicting feed entry",
				"error", conflict,
				"feedID", f.ID,
				"externalID", entry.ExternalID)

			result.Conflicts++
			continue
		}

		entryHash := EntryHash(entry)

		if msg, ok := index[entry.ExternalID]; ok {
			delete(index, entry.ExternalID)

			if msg.EntryHash == entryHash && msg.Visible {
				continue
			}

			if err = r.store.UpdateFeedMessage(ctx, msg.ID,
				entry.Title, entry.Body, entry.PublishedAt, entryHash, now); err != nil {
				return nil, fmt.Errorf("update message %d: %w", msg.ID, err)
			}

			result.Updated++
			continue
		}

		if _, err = r.store.CreateMessage(ctx, &domain.Message{
			ContainerID:  f.ContainerID,
			Kind:         domain.KindNews,
			Title:        entry.Title,
			Body:         entry.Body,
			BodyFormat:   "html",
			PublishedAt:  entry.PublishedAt,
			Visible:      true,
			FeedID:       f.ID,
			ExternalID:   entry.ExternalID,
			EntryHash:    entryHash,
			TimeModified: now,
			MailState:    domain.MailPending,
		}); err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}

		result.Created++
	}

	// Whatever is left in the index vanished from the feed. Hide it
	// instead of deleting so delivery history and index linkage stay
	// coherent; collect ids for async index cleanup, but only once:
	// already-hidden messages do not re-enter the batch.
	for _, msg := range index {
		if !msg.Visible {
			continue
		}

		result.RemovedIDs = append(result.RemovedIDs, msg.ID)
	}

	if len(result.RemovedIDs) > 0 {
		if err = r.store.HideMessages(ctx, result.RemovedIDs, now); err != nil {
			return nil, fmt.Errorf("hide removed messages: %w", err)
		}
	}

	if err = r.store.StoreFeedHash(ctx, f.ID, contentHash, now); err != nil {
		return nil, fmt.Errorf("store feed hash: %w", err)
	}

	return result, nil
}

// EntryHash fingerprints the fields reconciliation overwrites, so an
// unchanged entry causes zero message mutations.
func EntryHash(e Entry) string {
	h := sha256.New()

	h.Write([]byte(e.Title))
	h.Write([]byte{0})
	h.Write([]byte(e.Body))
	h.Write([]byte{0})
	h.Write([]byte(e.Link))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(e.PublishedAt.Unix(), 10)))

	return hex.EncodeToString(h.Sum(nil))
}

// SequenceHash fingerprints the whole normalized entry sequence. It is
// a content hash of the document, not an HTTP etag.
func SequenceHash(entries []Entry) string {
	h := sha256.New()

	for _, e := range entries {
		h.Write([]byte(strings.TrimSpace(e.ExternalID)))
		h.Write([]byte{0})
		h.Write([]byte(EntryHash(e)))
		h.Write([]byte{'\n'})
	}

	return hex.EncodeToString(h.Sum(nil))
}
