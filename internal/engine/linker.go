package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/pmsched/internal/model"
)

// CreateRequestFromTask prepares the maintenance request an assigned
// engineer files for a task. The task itself is not changed.
func (s *Service) CreateRequestFromTask(ctx context.Context, taskID, engineerID string) (*model.RequestDraft, error) {
	const op = "create request"
	if strings.TrimSpace(engineerID) == "" {
		return nil, validation(op, taskID, errors.New("engineer id is required"))
	}

	t, err := s.load(ctx, op, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, invalidOp(op, taskID, "task is %s", t.Status)
	}
	if !t.AssignedTo(engineerID) {
		if t.Pool() {
			return nil, invalidOp(op, taskID, "task must be accepted first")
		}
		return nil, invalidOp(op, taskID, "task is assigned to another engineer")
	}

	return &model.RequestDraft{
		ScheduledTaskID:       t.ID,
		TaskCode:              t.TaskCode,
		RequestType:           model.RequestTypePreventive,
		Title:                 fmt.Sprintf("[%s] %s", t.TaskCode, t.Title),
		Description:           t.Description,
		EngineerID:            engineerID,
		LocationID:            t.LocationID,
		DepartmentID:          t.DepartmentID,
		SystemID:              t.SystemID,
		MachineID:             t.MachineID,
		MaintainAllComponents: t.MaintainAllComponents,
		SelectedComponents:    append([]string{}, t.SelectedComponents...),
	}, nil
}

// CompletionResult is the outcome of a completed request: the resolved
// task and its successor, if one was generated by this call.
type CompletionResult struct {
	Task      model.TaskView  `json:"task"`
	Successor *model.TaskView `json:"successor,omitempty"`
}

// OnRequestCompleted completes the task a request was filed for and
// generates its successor. Retrying with the same request id is safe and
// recovers a generation that failed after completion.
func (s *Service) OnRequestCompleted(ctx context.Context, requestID, taskID string) (*CompletionResult, error) {
	done, err := s.Complete(ctx, taskID, requestID)
	if err != nil {
		return nil, err
	}

	next, err := s.GenerateNext(ctx, taskID)
	if err != nil {
		s.log.Error().Err(err).
			Str("task_id", taskID).
			Str("request_id", requestID).
			Msg("generating successor after completion")
		return nil, err
	}
	return &CompletionResult{Task: *done, Successor: next}, nil
}
