package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/pmsched/internal/model"
)

// CreateEvent inserts a new task event record.
func (s *SQLStore) CreateEvent(ctx context.Context, e model.TaskEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_events (id, task_id, task_code, kind, actor, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TaskID, e.TaskCode, string(e.Kind), e.Actor, e.Message, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating event for task %s: %w", e.TaskID, err)
	}
	return nil
}

// GetEventsForTask retrieves the events of a task, oldest first.
func (s *SQLStore) GetEventsForTask(ctx context.Context, taskID string) ([]model.TaskEvent, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(`
		SELECT id, task_id, task_code, kind, actor, message, created_at
		FROM task_events WHERE task_id = ?
		ORDER BY created_at ASC, id ASC`), taskID)
	if err != nil {
		return nil, fmt.Errorf("querying events for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var events []model.TaskEvent
	for rows.Next() {
		var (
			e    model.TaskEvent
			kind string
		)
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.TaskCode, &kind, &e.Actor, &e.Message, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.Kind = model.EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}
