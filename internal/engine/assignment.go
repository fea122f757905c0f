package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/schedule"
	"github.com/nhle/pmsched/internal/store"
)

// Page bounds a list query. A zero Limit returns everything.
type Page struct {
	Limit  int
	Offset int
}

var openStatuses = []model.TaskStatus{model.StatusPending, model.StatusOverdue}

// ListMine returns the open tasks assigned to engineerID.
func (s *Service) ListMine(ctx context.Context, engineerID string, page Page) ([]model.TaskView, error) {
	if strings.TrimSpace(engineerID) == "" {
		return nil, validation("list mine", "", errors.New("engineer id is required"))
	}
	return s.list(ctx, "list mine", store.TaskFilter{
		EngineerID: &engineerID,
		Statuses:   openStatuses,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
}

// ListAvailable returns the open pool tasks any engineer may accept.
func (s *Service) ListAvailable(ctx context.Context, page Page) ([]model.TaskView, error) {
	return s.list(ctx, "list available", store.TaskFilter{
		PoolOnly: true,
		Statuses: openStatuses,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
}

// ListPending returns every open task, assigned or not.
func (s *Service) ListPending(ctx context.Context, page Page) ([]model.TaskView, error) {
	return s.list(ctx, "list pending", store.TaskFilter{
		Statuses: openStatuses,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
}

// list evaluates every task at the current instant and persists the
// overdue ones whose stored status lags behind.
func (s *Service) list(ctx context.Context, op string, filter store.TaskFilter) ([]model.TaskView, error) {
	tasks, err := s.store.GetTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock()
	views := make([]model.TaskView, 0, len(tasks))
	var stale []model.ScheduledTask
	for _, t := range tasks {
		v := schedule.View(t, now)
		if schedule.Stale(t, now) && v.EffectiveStatus == model.StatusOverdue {
			stale = append(stale, t)
		}
		views = append(views, v)
	}

	s.persistOverdue(ctx, stale)
	return views, nil
}

// Accept claims a pool task for engineerID. Exactly one of any number of
// concurrent accepts on the same task succeeds; the rest get Conflict.
func (s *Service) Accept(ctx context.Context, taskID, engineerID string) (*model.TaskView, error) {
	const op = "accept"
	if strings.TrimSpace(engineerID) == "" {
		return nil, validation(op, taskID, errors.New("engineer id is required"))
	}

	err := s.store.ClaimTask(ctx, taskID, engineerID, s.now())
	if errors.Is(err, store.ErrNotApplied) {
		return nil, s.classifyClaim(ctx, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t, err := s.load(ctx, op, taskID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("task_id", t.ID).
		Str("task_code", t.TaskCode).
		Str("engineer_id", engineerID).
		Msg("task accepted")
	s.emit(ctx, *t, model.EventTaskAccepted, engineerID, "accepted by "+engineerID)

	v := s.view(*t)
	return &v, nil
}

// classifyClaim explains why a claim matched no row.
func (s *Service) classifyClaim(ctx context.Context, taskID string) error {
	const op = "accept"
	t, err := s.load(ctx, op, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return invalidOp(op, taskID, "task is %s", t.Status)
	}
	return conflict(op, taskID, "already claimed")
}
