package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/schedule"
	"github.com/nhle/pmsched/internal/store"
)

// ReconcileOverdue materializes the overdue status of every pending task
// whose target day has passed and returns how many rows it rewrote. Rows
// already rewritten by a list call are not counted again. It is safe to
// run concurrently with itself and with list calls.
func (s *Service) ReconcileOverdue(ctx context.Context) (int, error) {
	const op = "reconcile overdue"
	now := s.clock()
	yesterday := schedule.DateOf(now.AddDate(0, 0, -1))
	dueTo := store.TargetKey(yesterday.Year, int(yesterday.Month), &yesterday.Day)

	tasks, err := s.store.GetTasks(ctx, store.TaskFilter{
		Statuses: []model.TaskStatus{model.StatusPending},
		DueTo:    &dueTo,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var stale []model.ScheduledTask
	for _, t := range tasks {
		if schedule.Stale(t, now) {
			stale = append(stale, t)
		}
	}
	rewritten, err := s.markOverdue(ctx, stale)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	marked := len(rewritten)

	s.log.Info().Int("candidates", len(tasks)).Int("marked", marked).Msg("overdue reconciliation finished")
	return marked, nil
}

// ListChain returns the recurrence chain containing taskID, oldest first.
func (s *Service) ListChain(ctx context.Context, taskID string) ([]model.TaskView, error) {
	const op = "list chain"
	t, err := s.load(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{t.ID: true}
	chain := []model.ScheduledTask{*t}

	for cur := t; cur.ParentTaskID != nil && !seen[*cur.ParentTaskID]; {
		parent, err := s.store.GetTaskByID(ctx, *cur.ParentTaskID)
		if errors.Is(err, store.ErrNotFound) {
			// A deleted predecessor ends the walk; the link is not enforced.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		seen[parent.ID] = true
		chain = append([]model.ScheduledTask{*parent}, chain...)
		cur = parent
	}

	for cur := t; ; {
		children, err := s.store.GetChildren(ctx, cur.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(children) == 0 || seen[children[0].ID] {
			break
		}
		child := children[0]
		seen[child.ID] = true
		chain = append(chain, child)
		cur = &child
	}

	now := s.clock()
	views := make([]model.TaskView, len(chain))
	for i, c := range chain {
		views[i] = schedule.View(c, now)
	}
	return views, nil
}

// ListEvents returns the event log of a task, oldest first.
func (s *Service) ListEvents(ctx context.Context, taskID string) ([]model.TaskEvent, error) {
	const op = "list events"
	if _, err := s.load(ctx, op, taskID); err != nil {
		return nil, err
	}
	evs, err := s.store.GetEventsForTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return evs, nil
}
