package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"coursewire/internal/domain"
)

func (d *Database) CreateContainer(ctx context.Context, name string, defaultSubscribed bool) (int64, error) {
	query := "insert into containers (name, default_subscribed) values (?, ?)"

	res, err := d.db.ExecContext(ctx, query, strings.TrimSpace(name), defaultSubscribed)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) GetContainer(ctx context.Context, containerID int64) (*domain.Container, error) {
	query := "select id, name, default_subscribed from containers where id = ?"

	var c domain.Container
	err := d.db.QueryRowContext(ctx, query, containerID).Scan(&c.ID, &c.Name, &c.DefaultSubscribed)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	return &c, nil
}

func (d *Database) CreateUser(ctx context.Context, r *domain.Recipient) (int64, error) {
	query := `insert into users (email, lang, timezone, mail_format, tier,
	email_disabled, deleted, auth_method, bounce_count)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		strings.TrimSpace(r.Email), r.Lang, r.Timezone, r.MailFormat, r.Tier,
		r.EmailDisabled, r.Deleted, r.AuthMethod, r.BounceCount)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}

	return res.LastInsertId()
}

func (d *Database) AddMember(ctx context.Context, userID int64, containerID int64) error {
	query := "insert or ignore into members (user_id, container_id) values (?, ?)"

	_, err := d.db.ExecContext(ctx, query, userID, containerID)

	return err
}

func (d *Database) AddUserGroup(ctx context.Context, userID int64, groupID int64) error {
	query := "insert or ignore into user_groups (user_id, group_id) values (?, ?)"

	_, err := d.db.ExecContext(ctx, query, userID, groupID)

	return err
}

func (d *Database) SetSubscription(
	ctx context.Context,
	userID int64,
	containerID int64,
	subscribed bool,
) error {
	query := `insert into subscriptions (user_id, container_id, subscribed)
	values (?, ?, ?)
	on conflict (user_id, container_id) do update
	set subscribed = excluded.subscribed`

	_, err := d.db.ExecContext(ctx, query, userID, containerID, subscribed)

	return err
}

// Candidates returns the container's members with subscription rows
// joined in and group memberships loaded.
func (d *Database) Candidates(ctx context.Context, containerID int64) ([]domain.Candidate, error) {
	query := `select u.id, u.email, u.lang, u.timezone, u.mail_format, u.tier,
	u.email_disabled, u.deleted, u.auth_method, u.bounce_count, s.subscribed
	from members as m
	join users as u on u.id = m.user_id
	left join subscriptions as s
	on s.user_id = m.user_id and s.container_id = m.container_id
	where m.container_id = ?
	order by u.id asc`

	rows, err := d.db.QueryContext(ctx, query, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "Candidates")

	var candidates []domain.Candidate
	for rows.Next() {
		var (
			c          domain.Candidate
			subscribed sql.NullBool
		)
		if err = rows.Scan(
			&c.UserID, &c.Email, &c.Lang, &c.Timezone, &c.MailFormat, &c.Tier,
			&c.EmailDisabled, &c.Deleted, &c.AuthMethod, &c.BounceCount, &subscribed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		c.Email = strings.TrimSpace(c.Email)

		if subscribed.Valid {
			c.Subscribed = &subscribed.Bool
		}

		candidates = append(candidates, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	for i := range candidates {
		if candidates[i].GroupIDs, err = d.userGroups(ctx, candidates[i].UserID); err != nil {
			return nil, err
		}
	}

	return candidates, nil
}

func (d *Database) userGroups(ctx context.Context, userID int64) ([]int64, error) {
	query := "select group_id from user_groups where user_id = ? order by group_id asc"

	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "userGroups")

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
