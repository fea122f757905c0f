package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/schedule"
)

// errHorizon ends a recurrence chain whose next occurrence falls outside
// the schedulable year range.
var errHorizon = errors.New("next occurrence beyond scheduling horizon")

// GenerateNext creates the successor of a completed recurring task. It
// runs at most once per task: when the successor already exists, the
// task does not recur, or the next occurrence is past the scheduling
// horizon, it returns (nil, nil). A task that is not completed yields
// InvalidOperation.
func (s *Service) GenerateNext(ctx context.Context, taskID string) (*model.TaskView, error) {
	const op = "generate next"
	next, err := s.store.GenerateSuccessor(ctx, taskID, successorOf, s.prefix, s.now())
	if errors.Is(err, errHorizon) {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("recurrence chain ended")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if next == nil {
		t, err := s.load(ctx, op, taskID)
		if err != nil {
			return nil, err
		}
		if t.Status != model.StatusCompleted {
			return nil, invalidOp(op, taskID, "task is %s, not completed", t.Status)
		}
		if !t.Recurring() {
			s.log.Debug().Str("task_id", taskID).Msg("task does not recur")
		} else {
			s.log.Debug().Str("task_id", taskID).Msg("successor already generated")
		}
		return nil, nil
	}

	s.log.Info().
		Str("task_id", next.ID).
		Str("task_code", next.TaskCode).
		Str("parent_task_id", taskID).
		Msg("successor generated")
	s.emit(ctx, *next, model.EventTaskGenerated, "", "generated from task "+taskID)

	v := s.view(*next)
	return &v, nil
}

// successorOf builds the next occurrence of parent. The store fills in
// identity, code, status and the parent link.
func successorOf(parent model.ScheduledTask) (model.ScheduledTask, error) {
	occ, err := schedule.NextOccurrence(parent)
	if err != nil {
		return model.ScheduledTask{}, err
	}
	if err := schedule.ValidateOccurrence(occ.Year, occ.Month, occ.Day); err != nil {
		return model.ScheduledTask{}, fmt.Errorf("%w: %v", errHorizon, err)
	}

	next := model.ScheduledTask{
		Title:                 parent.Title,
		Description:           parent.Description,
		LocationID:            parent.LocationID,
		DepartmentID:          parent.DepartmentID,
		SystemID:              parent.SystemID,
		MachineID:             parent.MachineID,
		MaintainAllComponents: parent.MaintainAllComponents,
		SelectedComponents:    append([]string{}, parent.SelectedComponents...),
		ScheduledYear:         occ.Year,
		ScheduledMonth:        occ.Month,
		ScheduledDay:          occ.Day,
		CreatedBy:             parent.CreatedBy,
	}
	if parent.EngineerID != nil {
		id := *parent.EngineerID
		next.EngineerID = &id
	}
	if parent.RepetitionInterval != nil {
		iv := *parent.RepetitionInterval
		next.RepetitionInterval = &iv
	}
	return next, nil
}
