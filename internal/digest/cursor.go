package digest

import (
	"context"
	"fmt"
	"time"

	"coursewire/internal/domain"
)

type CursorStore interface {
	ContainersWithPending(ctx context.Context, now time.Time) ([]int64, error)
	PendingMessages(ctx context.Context, containerID int64, now time.Time) ([]domain.Message, error)
}

// Cursor is the resumable traversal over "containers with unsent
// messages, then messages within a container". Its position is
// process-local: durable resumability comes from mail_state, so a
// fresh cursor in the next run naturally starts where the interrupted
// one stopped.
type Cursor struct {
	store      CursorStore
	now        time.Time
	containers []int64
	pos        int
}

func NewCursor(ctx context.Context, store CursorStore, now time.Time) (*Cursor, error) {
	containers, err := store.ContainersWithPending(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list containers with pending messages: %w", err)
	}

	return &Cursor{
		store:      store,
		now:        now,
		containers: containers,
	}, nil
}

// NextContainer advances to the next container in stable id order.
func (c *Cursor) NextContainer() (int64, bool) {
	if c.pos >= len(c.containers) {
		return 0, false
	}

	id := c.containers[c.pos]
	c.pos++

	return id, true
}

// Messages returns the container's outstanding messages in publish
// order as of the cursor's snapshot time.
func (c *Cursor) Messages(ctx context.Context, containerID int64) ([]domain.Message, error) {
	return c.store.PendingMessages(ctx, containerID, c.now)
}

// Remaining reports how many containers have not been visited yet.
func (c *Cursor) Remaining() int {
	return len(c.containers) - c.pos
}
