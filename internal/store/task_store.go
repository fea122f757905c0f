package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/taskcode"
)

// taskColumns is the select list matching scanTask.
const taskColumns = `id, task_code, title, description, engineer_id,
	location_id, department_id, system_id, machine_id,
	maintain_all_components, selected_components,
	scheduled_year, scheduled_month, scheduled_day,
	status, completed_request_id, completed_at,
	repetition_interval, last_generated_at, parent_task_id,
	created_by, version, created_at, updated_at`

// openStatuses is the SQL list of non-terminal statuses.
const openStatuses = "('pending', 'overdue')"

// TargetKey encodes a schedule as YYYYMMDD for ordering and range
// filters. A missing day sorts as the first of the month.
func TargetKey(year, month int, day *int) int {
	d := 1
	if day != nil {
		d = *day
	}
	return year*10000 + month*100 + d
}

// CreateTask inserts a new task, minting its task code in the same
// transaction. Generates a UUID if ID is empty.
func (s *SQLStore) CreateTask(
	ctx context.Context,
	task model.ScheduledTask,
	codePrefix string,
) (*model.ScheduledTask, error) {
	if strings.TrimSpace(task.Title) == "" {
		return nil, fmt.Errorf("task title must not be empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTask(ctx, tx, &task, codePrefix); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task %s: %w", task.ID, err)
	}
	return &task, nil
}

// insertTask fills defaults on task, mints its code and inserts it.
func insertTask(ctx context.Context, tx *sqlx.Tx, task *model.ScheduledTask, codePrefix string) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.CreatedAt
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	task.Version = 1
	if task.SelectedComponents == nil {
		task.SelectedComponents = []string{}
	}

	code, err := mintTaskCode(ctx, tx, codePrefix, task.ScheduledYear)
	if err != nil {
		return err
	}
	task.TaskCode = code

	selected, err := json.Marshal(task.SelectedComponents)
	if err != nil {
		return fmt.Errorf("marshaling selected_components for task %s: %w", task.ID, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO scheduled_tasks (
			id, task_code, title, description, engineer_id,
			location_id, department_id, system_id, machine_id,
			maintain_all_components, selected_components,
			scheduled_year, scheduled_month, scheduled_day, target_key,
			status, completed_request_id, completed_at,
			repetition_interval, last_generated_at, parent_task_id,
			created_by, version, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?
		)`),
		task.ID, task.TaskCode, task.Title, task.Description, nullString(task.EngineerID),
		task.LocationID, task.DepartmentID, task.SystemID, task.MachineID,
		boolToInt(task.MaintainAllComponents), string(selected),
		task.ScheduledYear, task.ScheduledMonth, nullInt(task.ScheduledDay),
		TargetKey(task.ScheduledYear, task.ScheduledMonth, task.ScheduledDay),
		string(task.Status), nullString(task.CompletedRequestID), nullTime(task.CompletedAt),
		nullInterval(task.RepetitionInterval), nullTime(task.LastGeneratedAt), nullString(task.ParentTaskID),
		task.CreatedBy, task.Version, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// mintTaskCode increments the per-prefix, per-year counter and formats
// the resulting code. It runs inside the inserting transaction so a
// rolled-back insert never consumes a number.
func mintTaskCode(ctx context.Context, tx *sqlx.Tx, prefix string, year int) (string, error) {
	var seq int
	err := tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO task_code_counters (prefix, year, last_seq) VALUES (?, ?, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET last_seq = task_code_counters.last_seq + 1
		RETURNING last_seq`),
		prefix, year,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("minting task code for %s/%d: %w", prefix, year, err)
	}
	return taskcode.Format(prefix, year, seq), nil
}

// GetTaskByID retrieves a single task by its ID.
func (s *SQLStore) GetTaskByID(ctx context.Context, id string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowxContext(ctx,
		s.db.Rebind("SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = ?"), id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return &task, nil
}

// GetTaskByCode retrieves a single task by its task code.
func (s *SQLStore) GetTaskByCode(ctx context.Context, code string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowxContext(ctx,
		s.db.Rebind("SELECT "+taskColumns+" FROM scheduled_tasks WHERE task_code = ?"), code)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting task %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", code, err)
	}
	return &task, nil
}

// GetTasks retrieves tasks matching the filter, ordered by target date
// ascending with task code as tie-breaker.
func (s *SQLStore) GetTasks(ctx context.Context, filter TaskFilter) ([]model.ScheduledTask, error) {
	var conditions []string
	var args []interface{}

	if filter.EngineerID != nil {
		conditions = append(conditions, "engineer_id = ?")
		args = append(args, *filter.EngineerID)
	}
	if filter.PoolOnly {
		conditions = append(conditions, "engineer_id IS NULL")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			if !st.Valid() {
				return nil, fmt.Errorf("filtering tasks: unknown status %q", st)
			}
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.DueFrom != nil {
		conditions = append(conditions, "target_key >= ?")
		args = append(args, *filter.DueFrom)
	}
	if filter.DueTo != nil {
		conditions = append(conditions, "target_key <= ?")
		args = append(args, *filter.DueTo)
	}

	query := "SELECT " + taskColumns + " FROM scheduled_tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY target_key ASC, task_code ASC"

	// SQLite only accepts OFFSET after a LIMIT.
	limit := filter.Limit
	if limit <= 0 && filter.Offset > 0 {
		limit = math.MaxInt32
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return s.queryTasks(ctx, s.db.Rebind(query), args...)
}

// GetChildren returns the tasks generated from parentID.
func (s *SQLStore) GetChildren(ctx context.Context, parentID string) ([]model.ScheduledTask, error) {
	return s.queryTasks(ctx, s.db.Rebind(
		"SELECT "+taskColumns+" FROM scheduled_tasks WHERE parent_task_id = ? ORDER BY target_key ASC, task_code ASC",
	), parentID)
}

func (s *SQLStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]model.ScheduledTask, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask rewrites the editable fields of an open task. The write only
// applies while the row is still at task.Version and not terminal;
// otherwise ErrNotApplied is returned. A pending task.Status clears a
// stored overdue; overdue is only ever written through MarkOverdue.
func (s *SQLStore) UpdateTask(
	ctx context.Context,
	task model.ScheduledTask,
	now time.Time,
) (*model.ScheduledTask, error) {
	if strings.TrimSpace(task.Title) == "" {
		return nil, fmt.Errorf("task title must not be empty")
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("cannot write terminal status %q through update", task.Status)
	}
	if task.SelectedComponents == nil {
		task.SelectedComponents = []string{}
	}
	selected, err := json.Marshal(task.SelectedComponents)
	if err != nil {
		return nil, fmt.Errorf("marshaling selected_components for task %s: %w", task.ID, err)
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE scheduled_tasks SET
			title = ?, description = ?, engineer_id = ?,
			location_id = ?, department_id = ?, system_id = ?, machine_id = ?,
			maintain_all_components = ?, selected_components = ?,
			scheduled_year = ?, scheduled_month = ?, scheduled_day = ?, target_key = ?,
			status = CASE WHEN ? = 'pending' THEN 'pending' ELSE status END,
			repetition_interval = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status IN `+openStatuses),
		task.Title, task.Description, nullString(task.EngineerID),
		task.LocationID, task.DepartmentID, task.SystemID, task.MachineID,
		boolToInt(task.MaintainAllComponents), string(selected),
		task.ScheduledYear, task.ScheduledMonth, nullInt(task.ScheduledDay),
		TargetKey(task.ScheduledYear, task.ScheduledMonth, task.ScheduledDay),
		string(task.Status), nullInterval(task.RepetitionInterval),
		now.UTC(),
		task.ID, task.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	if err := requireApplied(result, "updating task "+task.ID); err != nil {
		return nil, err
	}
	return s.GetTaskByID(ctx, task.ID)
}

// ClaimTask assigns an open pool task to engineerID. The write only
// applies while engineer_id is still NULL.
func (s *SQLStore) ClaimTask(ctx context.Context, id, engineerID string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE scheduled_tasks
		SET engineer_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND engineer_id IS NULL AND status IN `+openStatuses),
		engineerID, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("claiming task %s: %w", id, err)
	}
	return requireApplied(result, "claiming task "+id)
}

// CompleteTask resolves an open task with requestID.
func (s *SQLStore) CompleteTask(ctx context.Context, id, requestID string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE scheduled_tasks
		SET status = 'completed', completed_request_id = ?, completed_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND status IN `+openStatuses),
		requestID, now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("completing task %s: %w", id, err)
	}
	return requireApplied(result, "completing task "+id)
}

// CancelTask moves an open task to cancelled.
func (s *SQLStore) CancelTask(ctx context.Context, id string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE scheduled_tasks
		SET status = 'cancelled', version = version + 1, updated_at = ?
		WHERE id = ? AND status IN `+openStatuses),
		now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("cancelling task %s: %w", id, err)
	}
	return requireApplied(result, "cancelling task "+id)
}

// MarkOverdue materializes the derived overdue status for the given
// pending tasks and returns the ids it actually rewrote. Rows already
// overdue or no longer open are skipped. The version is left untouched:
// this is a cache refresh, not an edit.
func (s *SQLStore) MarkOverdue(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		UPDATE scheduled_tasks SET status = 'overdue', updated_at = ?
		WHERE status = 'pending' AND id IN (?)
		RETURNING id`,
		now.UTC(), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building overdue update: %w", err)
	}
	var marked []string
	if err := s.db.SelectContext(ctx, &marked, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("marking %d tasks overdue: %w", len(ids), err)
	}
	return marked, nil
}

// GenerateSuccessor stamps the parent's generation guard and inserts the
// successor in one transaction. A parent that is not completed, not
// recurring, or already stamped yields (nil, nil).
func (s *SQLStore) GenerateSuccessor(
	ctx context.Context,
	parentID string,
	fn SuccessorFunc,
	codePrefix string,
	now time.Time,
) (*model.ScheduledTask, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE scheduled_tasks
		SET last_generated_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = 'completed'
			AND repetition_interval IS NOT NULL AND last_generated_at IS NULL`),
		now.UTC(), now.UTC(), parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("stamping generation on task %s: %w", parentID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("stamping generation on task %s: %w", parentID, err)
	}
	if n == 0 {
		return nil, nil
	}

	parent, err := scanTask(tx.QueryRowxContext(ctx,
		tx.Rebind("SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = ?"), parentID))
	if err != nil {
		return nil, fmt.Errorf("reloading task %s: %w", parentID, err)
	}

	next, err := fn(parent)
	if err != nil {
		return nil, fmt.Errorf("building successor of task %s: %w", parentID, err)
	}
	next.ID = ""
	next.TaskCode = ""
	next.ParentTaskID = &parent.ID
	next.LastGeneratedAt = nil
	next.CompletedAt = nil
	next.CompletedRequestID = nil
	next.Status = model.StatusPending
	next.CreatedAt = now

	if err := insertTask(ctx, tx, &next, codePrefix); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing successor of task %s: %w", parentID, err)
	}
	return &next, nil
}

// requireApplied maps a zero-row conditional write to ErrNotApplied.
func requireApplied(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: reading rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotApplied)
	}
	return nil
}

// scanTask scans a task row selected with taskColumns.
func scanTask(row interface{ Scan(dest ...interface{}) error }) (model.ScheduledTask, error) {
	var (
		task        model.ScheduledTask
		maintainAll int
		selected    string
		status      string
		interval    *string
	)

	err := row.Scan(
		&task.ID, &task.TaskCode, &task.Title, &task.Description, &task.EngineerID,
		&task.LocationID, &task.DepartmentID, &task.SystemID, &task.MachineID,
		&maintainAll, &selected,
		&task.ScheduledYear, &task.ScheduledMonth, &task.ScheduledDay,
		&status, &task.CompletedRequestID, &task.CompletedAt,
		&interval, &task.LastGeneratedAt, &task.ParentTaskID,
		&task.CreatedBy, &task.Version, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ScheduledTask{}, err
		}
		return model.ScheduledTask{}, fmt.Errorf("scanning task row: %w", err)
	}

	task.MaintainAllComponents = maintainAll != 0
	task.Status = model.TaskStatus(status)
	if interval != nil {
		iv := model.Interval(*interval)
		task.RepetitionInterval = &iv
	}

	task.SelectedComponents = []string{}
	if selected != "" {
		if err := json.Unmarshal([]byte(selected), &task.SelectedComponents); err != nil {
			return model.ScheduledTask{}, fmt.Errorf("unmarshaling selected_components: %w", err)
		}
	}

	return task, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInterval(i *model.Interval) interface{} {
	if i == nil {
		return nil
	}
	return string(*i)
}
