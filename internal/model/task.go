package model

import "time"

// TaskStatus is the stored lifecycle state of a scheduled task.
type TaskStatus string

// Task status constants. Completed and cancelled are terminal.
const (
	StatusPending   TaskStatus = "pending"
	StatusOverdue   TaskStatus = "overdue"
	StatusCompleted TaskStatus = "completed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further mutation is permitted in this state.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOverdue, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Interval is the repetition rule of a recurring task.
type Interval string

const (
	IntervalWeekly       Interval = "weekly"
	IntervalMonthly      Interval = "monthly"
	IntervalQuarterly    Interval = "quarterly"
	IntervalSemiAnnually Interval = "semi_annually"
)

// Valid reports whether i is a supported repetition interval.
func (i Interval) Valid() bool {
	switch i {
	case IntervalWeekly, IntervalMonthly, IntervalQuarterly, IntervalSemiAnnually:
		return true
	}
	return false
}

// ScheduledTask is one occurrence of a preventive-maintenance task.
type ScheduledTask struct {
	// ID is the internal unique identifier.
	ID string `json:"id"`

	// TaskCode is the human-readable code (e.g. PM-2024-00017).
	// It is minted once at insert and never changes.
	TaskCode string `json:"task_code"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// EngineerID is the assignee; nil means the task sits in the shared pool.
	EngineerID *string `json:"engineer_id,omitempty"`

	// Reference-data identities owned by the external reference service.
	LocationID   string `json:"location_id"`
	DepartmentID string `json:"department_id"`
	SystemID     string `json:"system_id"`
	MachineID    string `json:"machine_id"`

	// MaintainAllComponents and SelectedComponents describe the work scope.
	// When MaintainAllComponents is false the selection must be non-empty.
	MaintainAllComponents bool     `json:"maintain_all_components"`
	SelectedComponents    []string `json:"selected_components"`

	ScheduledYear  int  `json:"scheduled_year"`
	ScheduledMonth int  `json:"scheduled_month"`
	ScheduledDay   *int `json:"scheduled_day,omitempty"`

	// Status is the last stored value; overdue is derived on read.
	Status TaskStatus `json:"status"`

	CompletedRequestID *string    `json:"completed_request_id,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	RepetitionInterval *Interval  `json:"repetition_interval,omitempty"`
	LastGeneratedAt    *time.Time `json:"last_generated_at,omitempty"`
	ParentTaskID       *string    `json:"parent_task_id,omitempty"`

	CreatedBy string `json:"created_by"`

	// Version increments on every write and backs optimistic edits.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pool reports whether the task has no assignee.
func (t ScheduledTask) Pool() bool {
	return t.EngineerID == nil
}

// AssignedTo reports whether engineerID is the task's assignee.
func (t ScheduledTask) AssignedTo(engineerID string) bool {
	return t.EngineerID != nil && *t.EngineerID == engineerID
}

// Recurring reports whether the task carries a repetition rule.
func (t ScheduledTask) Recurring() bool {
	return t.RepetitionInterval != nil
}

// TaskView is a task together with its derived due state.
type TaskView struct {
	ScheduledTask

	// EffectiveStatus is Status reinterpreted against the current day.
	EffectiveStatus TaskStatus `json:"effective_status"`

	// DaysRemaining is target date minus today; negative when overdue.
	DaysRemaining int `json:"days_remaining"`
}

// RequestDraft is a maintenance request pre-filled from a scheduled task,
// handed to the external request service for persistence.
type RequestDraft struct {
	ScheduledTaskID       string   `json:"scheduled_task_id"`
	TaskCode              string   `json:"task_code"`
	RequestType           string   `json:"request_type"`
	Title                 string   `json:"title"`
	Description           string   `json:"description"`
	EngineerID            string   `json:"engineer_id"`
	LocationID            string   `json:"location_id"`
	DepartmentID          string   `json:"department_id"`
	SystemID              string   `json:"system_id"`
	MachineID             string   `json:"machine_id"`
	MaintainAllComponents bool     `json:"maintain_all_components"`
	SelectedComponents    []string `json:"selected_components"`
}

// RequestTypePreventive marks drafts produced from scheduled tasks.
const RequestTypePreventive = "preventive"
