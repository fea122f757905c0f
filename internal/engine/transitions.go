package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/refdata"
	"github.com/nhle/pmsched/internal/schedule"
	"github.com/nhle/pmsched/internal/store"
	"github.com/nhle/pmsched/internal/taskcode"
)

// CreateInput holds the fields of a new task. A nil EngineerID puts the
// task in the shared pool.
type CreateInput struct {
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	EngineerID            *string         `json:"engineer_id"`
	LocationID            string          `json:"location_id"`
	DepartmentID          string          `json:"department_id"`
	SystemID              string          `json:"system_id"`
	MachineID             string          `json:"machine_id"`
	MaintainAllComponents bool            `json:"maintain_all_components"`
	SelectedComponents    []string        `json:"selected_components"`
	ScheduledYear         int             `json:"scheduled_year"`
	ScheduledMonth        int             `json:"scheduled_month"`
	ScheduledDay          *int            `json:"scheduled_day"`
	RepetitionInterval    *model.Interval `json:"repetition_interval"`
}

// TaskPatch lists the editable fields of an open task. Nil fields are
// left unchanged; the Clear flags unset the optional ones.
type TaskPatch struct {
	Title                 *string         `json:"title"`
	Description           *string         `json:"description"`
	EngineerID            *string         `json:"engineer_id"`
	ClearEngineer         bool            `json:"clear_engineer"`
	LocationID            *string         `json:"location_id"`
	DepartmentID          *string         `json:"department_id"`
	SystemID              *string         `json:"system_id"`
	MachineID             *string         `json:"machine_id"`
	MaintainAllComponents *bool           `json:"maintain_all_components"`
	SelectedComponents    *[]string       `json:"selected_components"`
	ScheduledYear         *int            `json:"scheduled_year"`
	ScheduledMonth        *int            `json:"scheduled_month"`
	ScheduledDay          *int            `json:"scheduled_day"`
	ClearDay              bool            `json:"clear_day"`
	RepetitionInterval    *model.Interval `json:"repetition_interval"`
	ClearRepetition       bool            `json:"clear_repetition"`
	// Version, when set, must match the stored version.
	Version *int `json:"version"`
}

// GetByID returns a task with its due state.
func (s *Service) GetByID(ctx context.Context, taskID string) (*model.TaskView, error) {
	t, err := s.load(ctx, "get", taskID)
	if err != nil {
		return nil, err
	}
	v := s.view(*t)
	return &v, nil
}

// GetByCode returns the task with the given task code.
func (s *Service) GetByCode(ctx context.Context, code string) (*model.TaskView, error) {
	const op = "get by code"
	parsed, err := taskcode.Parse(code)
	if err != nil {
		return nil, validation(op, "", err)
	}
	t, err := s.store.GetTaskByCode(ctx, parsed.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(op, "", "no task with code %s", parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v := s.view(*t)
	return &v, nil
}

// Create validates and stores a new pending task.
func (s *Service) Create(ctx context.Context, in CreateInput, createdBy string) (*model.TaskView, error) {
	const op = "create"
	if strings.TrimSpace(createdBy) == "" {
		return nil, validation(op, "", errors.New("creator is required"))
	}

	t := model.ScheduledTask{
		Title:                 strings.TrimSpace(in.Title),
		Description:           in.Description,
		EngineerID:            normalizeID(in.EngineerID),
		LocationID:            in.LocationID,
		DepartmentID:          in.DepartmentID,
		SystemID:              in.SystemID,
		MachineID:             in.MachineID,
		MaintainAllComponents: in.MaintainAllComponents,
		SelectedComponents:    in.SelectedComponents,
		ScheduledYear:         in.ScheduledYear,
		ScheduledMonth:        in.ScheduledMonth,
		ScheduledDay:          in.ScheduledDay,
		Status:                model.StatusPending,
		RepetitionInterval:    in.RepetitionInterval,
		CreatedBy:             createdBy,
		CreatedAt:             s.now(),
	}
	if err := validateTask(op, "", &t); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, op, "", refsOf(t)); err != nil {
		return nil, err
	}

	created, err := s.store.CreateTask(ctx, t, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info().
		Str("task_id", created.ID).
		Str("task_code", created.TaskCode).
		Bool("pool", created.Pool()).
		Msg("task created")
	s.emit(ctx, *created, model.EventTaskCreated, createdBy, "created "+created.TaskCode)

	v := s.view(*created)
	return &v, nil
}

// Update applies patch to an open task. The stored status is reset to
// the freshly evaluated one.
func (s *Service) Update(ctx context.Context, taskID string, patch TaskPatch, actor string) (*model.TaskView, error) {
	const op = "update"
	cur, err := s.load(ctx, op, taskID)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, invalidOp(op, taskID, "task is %s", cur.Status)
	}
	if patch.Version != nil && *patch.Version != cur.Version {
		return nil, conflict(op, taskID, "version %d is stale, current is %d", *patch.Version, cur.Version)
	}

	next := *cur
	changed := applyPatch(&next, patch)
	if err := validateTask(op, taskID, &next); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, op, taskID, changed); err != nil {
		return nil, err
	}
	next.Status = schedule.Evaluate(next, s.clock()).Status

	updated, err := s.store.UpdateTask(ctx, next, s.now())
	if errors.Is(err, store.ErrNotApplied) {
		after, lerr := s.load(ctx, op, taskID)
		if lerr != nil {
			return nil, lerr
		}
		if after.Status.Terminal() {
			return nil, invalidOp(op, taskID, "task is %s", after.Status)
		}
		return nil, conflict(op, taskID, "modified concurrently")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info().
		Str("task_id", updated.ID).
		Int("version", updated.Version).
		Msg("task updated")
	s.emit(ctx, *updated, model.EventTaskUpdated, actor, "updated")

	// Rescheduling into the past is a pending to overdue transition.
	if updated.Status == model.StatusPending && s.view(*updated).EffectiveStatus == model.StatusOverdue {
		if len(s.persistOverdue(ctx, []model.ScheduledTask{*updated})) == 1 {
			updated.Status = model.StatusOverdue
		}
	}

	v := s.view(*updated)
	return &v, nil
}

// Complete resolves an open task with the request that fulfilled it.
// Repeating the call with the same request id returns the completed task.
func (s *Service) Complete(ctx context.Context, taskID, requestID string) (*model.TaskView, error) {
	const op = "complete"
	if strings.TrimSpace(requestID) == "" {
		return nil, validation(op, taskID, errors.New("request id is required"))
	}

	err := s.store.CompleteTask(ctx, taskID, requestID, s.now())
	if errors.Is(err, store.ErrNotApplied) {
		t, lerr := s.load(ctx, op, taskID)
		if lerr != nil {
			return nil, lerr
		}
		switch {
		case t.Status == model.StatusCompleted && t.CompletedRequestID != nil && *t.CompletedRequestID == requestID:
			v := s.view(*t)
			return &v, nil
		case t.Status == model.StatusCompleted:
			return nil, invalidOp(op, taskID, "already completed by another request")
		case t.Status.Terminal():
			return nil, invalidOp(op, taskID, "task is %s", t.Status)
		}
		return nil, conflict(op, taskID, "modified concurrently")
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
		Str("request_id", requestID).
		Msg("task completed")
	s.emit(ctx, *t, model.EventTaskCompleted, "", "completed by request "+requestID)

	v := s.view(*t)
	return &v, nil
}

// Cancel moves an open task to cancelled. A cancelled task never
// generates a successor.
func (s *Service) Cancel(ctx context.Context, taskID, actor string) (*model.TaskView, error) {
	const op = "cancel"
	err := s.store.CancelTask(ctx, taskID, s.now())
	if errors.Is(err, store.ErrNotApplied) {
		t, lerr := s.load(ctx, op, taskID)
		if lerr != nil {
			return nil, lerr
		}
		return nil, invalidOp(op, taskID, "task is %s", t.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t, err := s.load(ctx, op, taskID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("task_id", t.ID).Str("task_code", t.TaskCode).Msg("task cancelled")
	s.emit(ctx, *t, model.EventTaskCancelled, actor, "cancelled")

	v := s.view(*t)
	return &v, nil
}

// applyPatch merges p into t and returns the references it touched.
func applyPatch(t *model.ScheduledTask, p TaskPatch) []ref {
	var changed []ref
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	switch {
	case p.ClearEngineer:
		t.EngineerID = nil
	case p.EngineerID != nil:
		t.EngineerID = normalizeID(p.EngineerID)
		if t.EngineerID != nil {
			changed = append(changed, ref{refdata.KindEngineer, *t.EngineerID})
		}
	}
	if p.LocationID != nil {
		t.LocationID = *p.LocationID
		changed = append(changed, ref{refdata.KindLocation, t.LocationID})
	}
	if p.DepartmentID != nil {
		t.DepartmentID = *p.DepartmentID
		changed = append(changed, ref{refdata.KindDepartment, t.DepartmentID})
	}
	if p.SystemID != nil {
		t.SystemID = *p.SystemID
		changed = append(changed, ref{refdata.KindSystem, t.SystemID})
	}
	if p.MachineID != nil {
		t.MachineID = *p.MachineID
		changed = append(changed, ref{refdata.KindMachine, t.MachineID})
	}
	if p.MaintainAllComponents != nil {
		t.MaintainAllComponents = *p.MaintainAllComponents
	}
	if p.SelectedComponents != nil {
		t.SelectedComponents = append([]string(nil), (*p.SelectedComponents)...)
	}
	if p.ScheduledYear != nil {
		t.ScheduledYear = *p.ScheduledYear
	}
	if p.ScheduledMonth != nil {
		t.ScheduledMonth = *p.ScheduledMonth
	}
	switch {
	case p.ClearDay:
		t.ScheduledDay = nil
	case p.ScheduledDay != nil:
		d := *p.ScheduledDay
		t.ScheduledDay = &d
	}
	switch {
	case p.ClearRepetition:
		t.RepetitionInterval = nil
	case p.RepetitionInterval != nil:
		iv := *p.RepetitionInterval
		t.RepetitionInterval = &iv
	}
	return changed
}

// validateTask checks the required fields, the schedule and the component
// scope rule, normalizing the component selection in place.
func validateTask(op, taskID string, t *model.ScheduledTask) error {
	if t.Title == "" {
		return validation(op, taskID, errors.New("title is required"))
	}
	for _, f := range []struct{ name, v string }{
		{"location_id", t.LocationID},
		{"department_id", t.DepartmentID},
		{"system_id", t.SystemID},
		{"machine_id", t.MachineID},
	} {
		if strings.TrimSpace(f.v) == "" {
			return validation(op, taskID, fmt.Errorf("%s is required", f.name))
		}
	}
	if err := schedule.ValidateOccurrence(t.ScheduledYear, t.ScheduledMonth, t.ScheduledDay); err != nil {
		return validation(op, taskID, err)
	}
	if t.RepetitionInterval != nil && !t.RepetitionInterval.Valid() {
		return validation(op, taskID, fmt.Errorf("unknown repetition interval %q", *t.RepetitionInterval))
	}

	if t.MaintainAllComponents {
		t.SelectedComponents = []string{}
		return nil
	}
	t.SelectedComponents = cleanComponents(t.SelectedComponents)
	if len(t.SelectedComponents) == 0 {
		return invalidOp(op, taskID, "select at least one component or maintain all components")
	}
	return nil
}

// cleanComponents trims names and drops blanks and duplicates, keeping order.
func cleanComponents(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}

type ref struct {
	kind refdata.Kind
	id   string
}

func refsOf(t model.ScheduledTask) []ref {
	refs := []ref{
		{refdata.KindLocation, t.LocationID},
		{refdata.KindDepartment, t.DepartmentID},
		{refdata.KindSystem, t.SystemID},
		{refdata.KindMachine, t.MachineID},
	}
	if t.EngineerID != nil {
		refs = append(refs, ref{refdata.KindEngineer, *t.EngineerID})
	}
	return refs
}

// checkRefs resolves every reference against the reference-data service.
func (s *Service) checkRefs(ctx context.Context, op, taskID string, refs []ref) error {
	for _, r := range refs {
		ok, err := s.refs.Exists(ctx, r.kind, r.id)
		if err != nil {
			return fmt.Errorf("%s: resolving %s %s: %w", op, r.kind, r.id, err)
		}
		if !ok {
			return notFound(op, taskID, "%s %s does not exist", r.kind, r.id)
		}
	}
	return nil
}
