package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/pmsched/internal/model"
)

var (
	// ErrNotFound is returned when a row addressed by id or code does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotApplied is returned when a conditional write matched no row:
	// the row is missing or its guarded fields no longer hold the
	// expected values. Callers re-read to classify.
	ErrNotApplied = errors.New("conditional write not applied")
)

// TaskFilter controls filtering and pagination for task queries.
// Results are always ordered by target date, then task code.
type TaskFilter struct {
	EngineerID *string            // exact assignee
	PoolOnly   bool               // engineer_id IS NULL
	Statuses   []model.TaskStatus // any of these stored statuses; empty means all
	DueFrom    *int               // target key lower bound (YYYYMMDD, inclusive)
	DueTo      *int               // target key upper bound (YYYYMMDD, inclusive)
	Limit      int
	Offset     int
}

// SuccessorFunc builds the next occurrence from a resolved parent. It runs
// inside the generating transaction and must not touch the store.
type SuccessorFunc func(parent model.ScheduledTask) (model.ScheduledTask, error)

// Store defines the persistence interface of the scheduling engine.
// Every state transition is a single conditional write.
type Store interface {
	// === Scheduled tasks ===

	CreateTask(ctx context.Context, task model.ScheduledTask, codePrefix string) (*model.ScheduledTask, error)
	GetTaskByID(ctx context.Context, id string) (*model.ScheduledTask, error)
	GetTaskByCode(ctx context.Context, code string) (*model.ScheduledTask, error)
	GetTasks(ctx context.Context, filter TaskFilter) ([]model.ScheduledTask, error)
	GetChildren(ctx context.Context, parentID string) ([]model.ScheduledTask, error)

	// UpdateTask rewrites the editable fields of task when the stored row
	// is still open and still at task.Version.
	UpdateTask(ctx context.Context, task model.ScheduledTask, now time.Time) (*model.ScheduledTask, error)

	// === Transitions ===

	ClaimTask(ctx context.Context, id, engineerID string, now time.Time) error
	CompleteTask(ctx context.Context, id, requestID string, now time.Time) error
	CancelTask(ctx context.Context, id string, now time.Time) error
	MarkOverdue(ctx context.Context, ids []string, now time.Time) ([]string, error)

	// GenerateSuccessor stamps last_generated_at on a completed recurring
	// parent and inserts the successor built by fn, atomically. It returns
	// (nil, nil) when the parent was already stamped or is not eligible.
	GenerateSuccessor(ctx context.Context, parentID string, fn SuccessorFunc, codePrefix string, now time.Time) (*model.ScheduledTask, error)

	// === Events ===

	CreateEvent(ctx context.Context, e model.TaskEvent) error
	GetEventsForTask(ctx context.Context, taskID string) ([]model.TaskEvent, error)

	Ping(ctx context.Context) error
	Close() error
}
