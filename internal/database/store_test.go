package database

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coursewire/internal/domain"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.sqlite"), slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func TestTransitionMailStateOnlyFromPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	containerID, err := db.CreateContainer(ctx, "Course", true)
	require.NoError(t, err)

	msgID, err := db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		PublishedAt: time.Now(),
		Visible:     true,
	})
	require.NoError(t, err)

	changed, err := db.TransitionMailState(ctx, msgID, domain.MailMailed)
	require.NoError(t, err)
	require.True(t, changed)

	// A second transition finds the message no longer pending.
	changed, err = db.TransitionMailState(ctx, msgID, domain.MailSkippedOld)
	require.NoError(t, err)
	require.False(t, changed)

	msg, err := db.GetMessage(ctx, msgID)
	require.NoError(t, err)
	require.Equal(t, domain.MailMailed, msg.MailState)
}

func TestPendingMessagesOrderAndVisibility(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	containerID, err := db.CreateContainer(ctx, "Course", true)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)

	newer, err := db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		Title:       "newer",
		PublishedAt: now.Add(-time.Hour),
		Visible:     true,
	})
	require.NoError(t, err)

	older, err := db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		Title:       "older",
		PublishedAt: now.Add(-2 * time.Hour),
		Visible:     true,
	})
	require.NoError(t, err)

	_, err = db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		Title:       "future",
		PublishedAt: now.Add(time.Hour),
		Visible:     true,
	})
	require.NoError(t, err)

	hidden, err := db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		Title:       "hidden",
		PublishedAt: now.Add(-time.Hour),
		Visible:     true,
	})
	require.NoError(t, err)
	require.NoError(t, db.HideMessages(ctx, []int64{hidden}, now))

	messages, err := db.PendingMessages(ctx, containerID, now)
	require.NoError(t, err)

	require.Len(t, messages, 2, "future and hidden messages are excluded")
	require.Equal(t, older, messages[0].ID, "publish order, oldest first")
	require.Equal(t, newer, messages[1].ID)
}

func TestContainersWithPendingOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now()

	var containerIDs []int64
	for _, name := range []string{"C1", "C2", "C3"} {
		id, err := db.CreateContainer(ctx, name, true)
		require.NoError(t, err)
		containerIDs = append(containerIDs, id)
	}

	// Seed in reverse order; listing must still come back by id.
	for i := len(containerIDs) - 1; i >= 0; i-- {
		_, err := db.CreateMessage(ctx, &domain.Message{
			ContainerID: containerIDs[i],
			PublishedAt: now.Add(-time.Hour),
			Visible:     true,
		})
		require.NoError(t, err)
	}

	got, err := db.ContainersWithPending(ctx, now)
	require.NoError(t, err)
	require.Equal(t, containerIDs, got)
}

func TestRunLockSingleHolder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	locked, err := db.AcquireRunLock(ctx, "digest_run", now, time.Hour)
	require.NoError(t, err)
	require.True(t, locked)

	locked, err = db.AcquireRunLock(ctx, "digest_run", now, time.Hour)
	require.NoError(t, err)
	require.False(t, locked, "second holder must lose")

	// A different name is an independent lock.
	locked, err = db.AcquireRunLock(ctx, "ingest_run", now, time.Hour)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, db.ReleaseRunLock(ctx, "digest_run", now))

	locked, err = db.AcquireRunLock(ctx, "digest_run", now, time.Hour)
	require.NoError(t, err)
	require.True(t, locked)
}

func TestRunLockStaleReleaseKeepsNewHolder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	staleAcquiredAt := now.Add(-2 * time.Hour)

	locked, err := db.AcquireRunLock(ctx, "digest_run", staleAcquiredAt, time.Hour)
	require.NoError(t, err)
	require.True(t, locked)

	// The stale row expired and a newer run reaps it on acquire.
	locked, err = db.AcquireRunLock(ctx, "digest_run", now, time.Hour)
	require.NoError(t, err)
	require.True(t, locked)

	// The outlived holder releases late; it must only match its own
	// row, not the new holder's.
	require.NoError(t, db.ReleaseRunLock(ctx, "digest_run", staleAcquiredAt))

	locked, err = db.AcquireRunLock(ctx, "digest_run", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	require.False(t, locked, "new holder's lock must survive a stale release")
}

func TestRunLockExpiryReaped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	locked, err := db.AcquireRunLock(ctx, "digest_run", now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	require.True(t, locked)

	// The stale holder crashed; its expired row must not block.
	locked, err = db.AcquireRunLock(ctx, "digest_run", now, time.Hour)
	require.NoError(t, err)
	require.True(t, locked)
}

func TestFeedAttemptAndHash(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	containerID, err := db.CreateContainer(ctx, "Course", true)
	require.NoError(t, err)

	feedID, err := db.AddFeed(ctx, containerID, "https://example.org/feed.xml")
	require.NoError(t, err)

	attemptAt := time.Now().Truncate(time.Second)

	require.NoError(t, db.MarkFeedAttempt(ctx, feedID, attemptAt, "connection refused"))

	feeds, err := db.ListFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	require.Equal(t, "connection refused", feeds[0].LastError)
	require.Empty(t, feeds[0].ContentHash, "failure must not touch the hash")

	require.NoError(t, db.StoreFeedHash(ctx, feedID, "abc123", attemptAt.Add(time.Minute)))

	feeds, err = db.ListFeeds(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", feeds[0].ContentHash)
	require.Empty(t, feeds[0].LastError, "success clears the error text")
}

func TestFeedMessagesExcludeLocal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	containerID, err := db.CreateContainer(ctx, "Course", true)
	require.NoError(t, err)

	_, err = db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		Title:       "local",
		PublishedAt: time.Now(),
		Visible:     true,
	})
	require.NoError(t, err)

	owned, err := db.CreateMessage(ctx, &domain.Message{
		ContainerID: containerID,
		Title:       "owned",
		PublishedAt: time.Now(),
		Visible:     true,
		FeedID:      5,
		ExternalID:  "e1",
	})
	require.NoError(t, err)

	messages, err := db.FeedMessages(ctx, 5)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, owned, messages[0].ID)

	collides, err := db.HasLocalMessageWithExternalID(ctx, containerID, "e1")
	require.NoError(t, err)
	require.False(t, collides)
}
