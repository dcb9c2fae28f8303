package digest

import (
	"context"
	"testing"
	"time"

	"coursewire/internal/domain"
)

type stubCursorStore struct {
	containers []int64
	messages   map[int64][]domain.Message
}

func (s *stubCursorStore) ContainersWithPending(_ context.Context, _ time.Time) ([]int64, error) {
	return s.containers, nil
}

func (s *stubCursorStore) PendingMessages(
	_ context.Context,
	containerID int64,
	_ time.Time,
) ([]domain.Message, error) {
	return s.messages[containerID], nil
}

func TestCursorWalksContainersInOrder(t *testing.T) {
	store := &stubCursorStore{
		containers: []int64{1, 4, 9},
		messages: map[int64][]domain.Message{
			4: {{ID: 40}, {ID: 41}},
		},
	}

	cursor, err := NewCursor(context.Background(), store, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var visited []int64
	for {
		id, ok := cursor.NextContainer()
		if !ok {
			break
		}

		visited = append(visited, id)
	}

	if len(visited) != 3 || visited[0] != 1 || visited[1] != 4 || visited[2] != 9 {
		t.Fatalf("expected stable order 1,4,9, got %v", visited)
	}

	if cursor.Remaining() != 0 {
		t.Fatalf("expected no containers remaining, got %d", cursor.Remaining())
	}

	messages, err := cursor.Messages(context.Background(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages for container 4, got %d", len(messages))
	}
}

func TestCursorRemainingMidTraversal(t *testing.T) {
	store := &stubCursorStore{containers: []int64{1, 2, 3}}

	cursor, err := NewCursor(context.Background(), store, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := cursor.NextContainer(); !ok {
		t.Fatalf("expected first container")
	}

	if cursor.Remaining() != 2 {
		t.Fatalf("expected 2 remaining, got %d", cursor.Remaining())
	}
}
