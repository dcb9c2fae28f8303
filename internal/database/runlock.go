package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// AcquireRunLock takes the named advisory lock for one engine run.
// It reports false when another run holds the lock, so overlapping
// scheduled invocations degrade to a no-op instead of racing the
// mail-state check-then-act. Expired rows from crashed holders are
// reaped first.
func (d *Database) AcquireRunLock(
	ctx context.Context,
	name string,
	now time.Time,
	ttl time.Duration,
) (bool, error) {
	reap := "delete from run_locks where name = ? and expires_at <= ?"
	if _, err := d.db.ExecContext(ctx, reap, name, now.Unix()); err != nil {
		return false, fmt.Errorf("failed to reap expired lock: %w", err)
	}

	query := "insert into run_locks (name, acquired_at, expires_at) values (?, ?, ?)"

	_, err := d.db.ExecContext(ctx, query, name, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return false, nil
		}

		return false, fmt.Errorf("failed to execute query: %w", err)
	}

	return true, nil
}

// ReleaseRunLock drops the named lock, but only the row this holder
// acquired. A holder that outlived its TTL and was reaped must not
// release the lock a newer run took in the meantime.
func (d *Database) ReleaseRunLock(ctx context.Context, name string, acquiredAt time.Time) error {
	query := "delete from run_locks where name = ? and acquired_at = ?"

	_, err := d.db.ExecContext(ctx, query, name, acquiredAt.Unix())

	return err
}
