package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursewire/internal/domain"
)

func (d *Database) AddFeed(ctx context.Context, containerID int64, feedURL string) (int64, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return 0, errors.New("feed URL is empty")
	}

	query := "insert into feeds (container_id, url) values (?, ?)"

	res, err := d.db.ExecContext(ctx, query, containerID, feedURL)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}

	return res.LastInsertId()
}

// RemoveFeed drops the feed row only. Messages it owned become orphaned
// feed-owned messages: no further updates, not deleted.
func (d *Database) RemoveFeed(ctx context.Context, feedID int64) error {
	query := "delete from feeds where id = ?"

	_, err := d.db.ExecContext(ctx, query, feedID)

	return err
}

// ListFeeds returns all feeds oldest-updated first so starved feeds get
// priority within a budgeted run.
func (d *Database) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	query := `select id, container_id, url, content_hash, updated_at, last_error
	from feeds
	order by updated_at asc, id asc`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "ListFeeds")

	var feeds []domain.Feed
	for rows.Next() {
		var (
			f         domain.Feed
			updatedAt int64
		)
		if err = rows.Scan(&f.ID, &f.ContainerID, &f.URL, &f.ContentHash, &updatedAt, &f.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.URL = strings.TrimSpace(f.URL)
		f.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		feeds = append(feeds, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return feeds, nil
}

// MarkFeedAttempt records a fetch attempt. Both success and failure
// reset the due timer; only StoreFeedHash replaces the content hash.
func (d *Database) MarkFeedAttempt(
	ctx context.Context,
	feedID int64,
	attemptedAt time.Time,
	lastError string,
) error {
	query := "update feeds set updated_at = ?, last_error = ? where id = ?"

	_, err := d.db.ExecContext(ctx, query, attemptedAt.Unix(), lastError, feedID)

	return err
}

// StoreFeedHash records a successful fetch: new content fingerprint,
// fresh timestamp, cleared error text.
func (d *Database) StoreFeedHash(
	ctx context.Context,
	feedID int64,
	contentHash string,
	fetchedAt time.Time,
) error {
	query := "update feeds set content_hash = ?, updated_at = ?, last_error = '' where id = ?"

	_, err := d.db.ExecContext(ctx, query, contentHash, fetchedAt.Unix(), feedID)

	return err
}
