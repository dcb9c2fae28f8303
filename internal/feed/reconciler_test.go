package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"coursewire/internal/domain"
)

type fakeStore struct {
	messages    map[int64]*domain.Message
	localIDs    map[string]bool
	feedHash    string
	nextID      int64
	createCalls int
	updateCalls int
	hideCalls   int
	attempts    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[int64]*domain.Message),
		localIDs: make(map[string]bool),
		nextID:   1,
	}
}

func (s *fakeStore) FeedMessages(_ context.Context, feedID int64) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range s.messages {
		if m.FeedID == feedID {
			out = append(out, *m)
		}
	}

	return out, nil
}

func (s *fakeStore) HasLocalMessageWithExternalID(
	_ context.Context,
	_ int64,
	externalID string,
) (bool, error) {
	return s.localIDs[externalID], nil
}

func (s *fakeStore) CreateMessage(_ context.Context, m *domain.Message) (int64, error) {
	s.createCalls++

	copied := *m
	copied.ID = s.nextID
	s.nextID++
	s.messages[copied.ID] = &copied

	return copied.ID, nil
}

func (s *fakeStore) UpdateFeedMessage(
	_ context.Context,
	messageID int64,
	title string,
	body string,
	publishedAt time.Time,
	entryHash string,
	_ time.Time,
) error {
	s.updateCalls++

	m := s.messages[messageID]
	m.Title = title
	m.Body = body
	m.PublishedAt = publishedAt
	m.EntryHash = entryHash
	m.Visible = true

	return nil
}

func (s *fakeStore) HideMessages(_ context.Context, messageIDs []int64, _ time.Time) error {
	s.hideCalls++

	for _, id := range messageIDs {
		s.messages[id].Visible = false
	}

	return nil
}

func (s *fakeStore) StoreFeedHash(_ context.Context, _ int64, contentHash string, _ time.Time) error {
	s.feedHash = contentHash

	return nil
}

func (s *fakeStore) MarkFeedAttempt(_ context.Context, _ int64, _ time.Time, lastError string) error {
	s.attempts = append(s.attempts, lastError)

	return nil
}

func testFeed(hash string) *domain.Feed {
	return &domain.Feed{
		ID:          7,
		ContainerID: 3,
		URL:         "https://example.org/feed.xml",
		ContentHash: hash,
	}
}

func testEntries(ids ...string) []Entry {
	published := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{
			ExternalID:  id,
			Title:       "Title " + id,
			Body:        "<p>Body " + id + "</p>",
			Link:        "https://example.org/" + id,
			PublishedAt: published,
		})
	}

	return entries
}

func TestReconcileCreatesMessages(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, slog.Default())

	result, err := r.Reconcile(context.Background(), testFeed(""), testEntries("e1", "e2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Created != 2 {
		t.Fatalf("expected 2 created, got %d", result.Created)
	}

	if store.feedHash == "" {
		t.Fatalf("expected content hash to be stored")
	}

	for _, m := range store.messages {
		if !m.Visible || m.FeedID != 7 || m.MailState != domain.MailPending {
			t.Fatalf("unexpected created message: %+v", m)
		}
	}
}

func TestReconcileFastPathUnchanged(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, slog.Default())

	entries := testEntries("e1", "e2")

	if _, err := r.Reconcile(context.Background(), testFeed(""), entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	createsAfterFirst := store.createCalls

	result, err := r.Reconcile(context.Background(), testFeed(store.feedHash), entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Unchanged {
		t.Fatalf("expected fast path for unchanged feed")
	}

	if store.createCalls != createsAfterFirst || store.updateCalls != 0 || store.hideCalls != 0 {
		t.Fatalf("expected zero mutations on fast path, got creates=%d updates=%d hides=%d",
			store.createCalls-createsAfterFirst, store.updateCalls, store.hideCalls)
	}

	if len(store.attempts) != 1 || store.attempts[0] != "" {
		t.Fatalf("expected one clean attempt record, got %v", store.attempts)
	}
}

func TestReconcileRemovalAndAddition(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, slog.Default())
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, testFeed(""), testEntries("e1", "e2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	firstHash := store.feedHash

	result, err := r.Reconcile(ctx, testFeed(firstHash), testEntries("e2", "e3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Created != 1 {
		t.Fatalf("expected 1 created (e3), got %d", result.Created)
	}

	if result.Updated != 0 {
		t.Fatalf("expected e2 untouched, got %d updates", result.Updated)
	}

	if len(result.RemovedIDs) != 1 {
		t.Fatalf("expected 1 removed id (e1), got %v", result.RemovedIDs)
	}

	removed := store.messages[result.RemovedIDs[0]]
	if removed.ExternalID != "e1" || removed.Visible {
		t.Fatalf("expected e1 hidden, got %+v", removed)
	}

	if store.feedHash == firstHash {
		t.Fatalf("expected content hash to change")
	}
}

func TestReconcileRemovedOnlyOnce(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, slog.Default())
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, testFeed(""), testEntries("e1", "e2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := r.Reconcile(ctx, testFeed(store.feedHash), testEntries("e2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.RemovedIDs) != 1 {
		t.Fatalf("expected e1 removed once, got %v", first.RemovedIDs)
	}

	// Force a different sequence hash so the diff runs again while e1
	// is already hidden.
	second, err := r.Reconcile(ctx, testFeed(store.feedHash), testEntries("e2", "e4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(second.RemovedIDs) != 0 {
		t.Fatalf("expected hidden message to stay out of the cleanup batch, got %v", second.RemovedIDs)
	}
}

func TestReconcileUpdatesChangedEntryInPlace(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, slog.Default())
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, testFeed(""), testEntries("e1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var originalID int64
	for id := range store.messages {
		originalID = id
	}

	changed := testEntries("e1")
	changed[0].Title = "Edited title"

	result, err := r.Reconcile(ctx, testFeed(store.feedHash), changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Updated != 1 || result.Created != 0 {
		t.Fatalf("expected in-place update, got %+v", result)
	}

	m := store.messages[originalID]
	if m == nil || m.Title != "Edited title" {
		t.Fatalf("expected local id preserved with new title, got %+v", store.messages)
	}
}

func TestReconcileResurrectsReturnedEntry(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, slog.Default())
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, testFeed(""), testEntries("e1", "e2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Reconcile(ctx, testFeed(store.feedHash), testEntries("e2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := r.Reconcile(ctx, testFeed(store.feedHash), testEntries("e1", "e2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Updated != 1 {
		t.Fatalf("expected hidden e1 to be updated back to visible, got %+v", result)
	}

	for _, m := range store.messages {
		if m.ExternalID == "e1" && !m.Visible {
			t.Fatalf("expected e1 visible again")
		}
	}
}

func TestReconcileSkipsLocalCollision(t *testing.T) {
	store := newFakeStore()
	store.localIDs["e1"] = true

	r := NewReconciler(store, slog.Default())

	result, err := r.Reconcile(context.Background(), testFeed(""), testEntries("e1", "e2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Conflicts != 1 {
		t.Fatalf("expected 1 conflict, got %d", result.Conflicts)
	}

	if result.Created != 1 {
		t.Fatalf("expected only e2 created, got %d", result.Created)
	}
}

func TestSequenceHashIgnoresNothing(t *testing.T) {
	a := SequenceHash(testEntries("e1", "e2"))
	b := SequenceHash(testEntries("e1", "e2"))
	if a != b {
		t.Fatalf("expected deterministic hash, got %q vs %q", a, b)
	}

	changed := testEntries("e1", "e2")
	changed[1].Body = "<p>edited</p>"
	if SequenceHash(changed) == a {
		t.Fatalf("expected hash to change when a body changes")
	}

	if SequenceHash(testEntries("e2", "e1")) == a {
		t.Fatalf("expected hash to be order-sensitive")
	}
}
