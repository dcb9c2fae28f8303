package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"coursewire/internal/domain"
)

const messageColumns = `id, container_id, kind, title, body, body_format, published_at,
	visible, repeat_on_roll, feed_id, external_id, entry_hash, time_modified,
	author_id, hide_author, event_start, event_end, location, all_day, mail_state`

func scanMessage(rows *sql.Rows) (domain.Message, error) {
	var (
		m            domain.Message
		publishedAt  int64
		timeModified int64
		authorID     sql.NullInt64
		eventStart   sql.NullInt64
		eventEnd     sql.NullInt64
	)

	err := rows.Scan(
		&m.ID, &m.ContainerID, &m.Kind, &m.Title, &m.Body, &m.BodyFormat, &publishedAt,
		&m.Visible, &m.RepeatOnRoll, &m.FeedID, &m.ExternalID, &m.EntryHash, &timeModified,
		&authorID, &m.HideAuthor, &eventStart, &eventEnd, &m.Location, &m.AllDay, &m.MailState,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to scan row: %w", err)
	}

	m.PublishedAt = time.Unix(publishedAt, 0).UTC()
	m.TimeModified = time.Unix(timeModified, 0).UTC()

	if authorID.Valid {
		m.AuthorID = &authorID.Int64
	}
	if eventStart.Valid {
		t := time.Unix(eventStart.Int64, 0).UTC()
		m.EventStart = &t
	}
	if eventEnd.Valid {
		t := time.Unix(eventEnd.Int64, 0).UTC()
		m.EventEnd = &t
	}

	return m, nil
}

func (d *Database) queryMessages(
	ctx context.Context,
	operation string,
	query string,
	args ...any,
) ([]domain.Message, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, operation)

	var messages []domain.Message
	for rows.Next() {
		m, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		messages = append(messages, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return messages, nil
}

func (d *Database) CreateMessage(ctx context.Context, m *domain.Message) (int64, error) {
	query := `insert into messages (container_id, kind, title, body, body_format,
	published_at, visible, repeat_on_roll, feed_id, external_id, entry_hash,
	time_modified, author_id, hide_author, event_start, event_end, location,
	all_day, mail_state)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	kind := m.Kind
	if kind == "" {
		kind = domain.KindNews
	}

	mailState := m.MailState
	if mailState == "" {
		mailState = domain.MailPending
	}

	var authorID sql.NullInt64
	if m.AuthorID != nil {
		authorID = sql.NullInt64{Int64: *m.AuthorID, Valid: true}
	}

	var eventStart, eventEnd sql.NullInt64
	if m.EventStart != nil {
		eventStart = sql.NullInt64{Int64: m.EventStart.Unix(), Valid: true}
	}
	if m.EventEnd != nil {
		eventEnd = sql.NullInt64{Int64: m.EventEnd.Unix(), Valid: true}
	}

	res, err := d.db.ExecContext(ctx, query,
		m.ContainerID, kind, strings.TrimSpace(m.Title), m.Body, m.BodyFormat,
		m.PublishedAt.Unix(), m.Visible, m.RepeatOnRoll, m.FeedID, m.ExternalID,
		m.EntryHash, m.TimeModified.Unix(), authorID, m.HideAuthor,
		eventStart, eventEnd, m.Location, m.AllDay, mailState,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, groupID := range m.GroupIDs {
		if err = d.AddMessageGroup(ctx, id, groupID); err != nil {
			return 0, err
		}
	}

	return id, nil
}

func (d *Database) GetMessage(ctx context.Context, messageID int64) (*domain.Message, error) {
	query := "select " + messageColumns + " from messages where id = ?"

	messages, err := d.queryMessages(ctx, "GetMessage", query, messageID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %d not found", messageID)
	}

	m := messages[0]
	if m.GroupIDs, err = d.messageGroups(ctx, m.ID); err != nil {
		return nil, err
	}

	return &m, nil
}

// FeedMessages returns every message owned by the feed, visible or not.
// This is the match key space for reconciliation; locally authored
// messages (feed_id = 0) never appear here.
func (d *Database) FeedMessages(ctx context.Context, feedID int64) ([]domain.Message, error) {
	query := "select " + messageColumns + ` from messages
	where feed_id = ?
	order by id asc`

	return d.queryMessages(ctx, "FeedMessages", query, feedID)
}

func (d *Database) HasLocalMessageWithExternalID(
	ctx context.Context,
	containerID int64,
	externalID string,
) (bool, error) {
	query := `select count(*) from messages
	where container_id = ? and feed_id = 0 and external_id = ?`

	var count int64
	if err := d.db.QueryRowContext(ctx, query, containerID, externalID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to execute query: %w", err)
	}

	return count > 0, nil
}

// UpdateFeedMessage overwrites the feed-owned content fields in place.
// The local id and mail_state survive so delivery history and index
// linkage are preserved across feed edits.
func (d *Database) UpdateFeedMessage(
	ctx context.Context,
	messageID int64,
	title string,
	body string,
	publishedAt time.Time,
	entryHash string,
	modifiedAt time.Time,
) error {
	query := `update messages
	set title = ?, body = ?, published_at = ?, entry_hash = ?, time_modified = ?, visible = 1
	where id = ?`

	_, err := d.db.ExecContext(ctx, query,
		strings.TrimSpace(title), body, publishedAt.Unix(), entryHash, modifiedAt.Unix(), messageID)

	return err
}

func (d *Database) HideMessages(ctx context.Context, messageIDs []int64, modifiedAt time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?, ", len(messageIDs)-1) + "?"
	query := "update messages set visible = 0, time_modified = ? where id in (" + placeholders + ")"

	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, modifiedAt.Unix())
	for _, id := range messageIDs {
		args = append(args, id)
	}

	_, err := d.db.ExecContext(ctx, query, args...)

	return err
}

// ContainersWithPending lists container ids holding at least one
// visible, published, not-yet-mailed message, in stable id order.
func (d *Database) ContainersWithPending(ctx context.Context, now time.Time) ([]int64, error) {
	query := `select distinct container_id from messages
	where mail_state = ? and visible = 1 and published_at <= ?
	order by container_id asc`

	rows, err := d.db.QueryContext(ctx, query, domain.MailPending, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "ContainersWithPending")

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return ids, nil
}

// PendingMessages returns the container's outstanding messages in
// publish order, restriction groups loaded.
func (d *Database) PendingMessages(
	ctx context.Context,
	containerID int64,
	now time.Time,
) ([]domain.Message, error) {
	query := "select " + messageColumns + ` from messages
	where container_id = ? and mail_state = ? and visible = 1 and published_at <= ?
	order by published_at asc, id asc`

	messages, err := d.queryMessages(ctx, "PendingMessages", query,
		containerID, domain.MailPending, now.Unix())
	if err != nil {
		return nil, err
	}

	for i := range messages {
		if messages[i].GroupIDs, err = d.messageGroups(ctx, messages[i].ID); err != nil {
			return nil, err
		}
	}

	return messages, nil
}

// TransitionMailState moves a message out of pending. It reports false
// when the message was not pending anymore, which makes the
// check-then-act visible to callers instead of silently re-mailing.
func (d *Database) TransitionMailState(
	ctx context.Context,
	messageID int64,
	to domain.MailState,
) (bool, error) {
	query := "update messages set mail_state = ? where id = ? and mail_state = ?"

	res, err := d.db.ExecContext(ctx, query, to, messageID, domain.MailPending)
	if err != nil {
		return false, fmt.Errorf("failed to execute query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (d *Database) AddMessageGroup(ctx context.Context, messageID int64, groupID int64) error {
	query := "insert or ignore into message_groups (message_id, group_id) values (?, ?)"

	_, err := d.db.ExecContext(ctx, query, messageID, groupID)

	return err
}

func (d *Database) messageGroups(ctx context.Context, messageID int64) ([]int64, error) {
	query := "select group_id from message_groups where message_id = ? order by group_id asc"

	rows, err := d.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "messageGroups")

	var groupIDs []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		groupIDs = append(groupIDs, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return groupIDs, nil
}
