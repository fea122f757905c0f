package model

import "time"

// EventKind names a logical engine event.
type EventKind string

const (
	EventTaskCreated   EventKind = "task_created"
	EventTaskUpdated   EventKind = "task_updated"
	EventTaskAccepted  EventKind = "task_accepted"
	EventTaskOverdue   EventKind = "task_overdue"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskCancelled EventKind = "task_cancelled"
	EventTaskGenerated EventKind = "task_generated"
)

// TaskEvent is a logical event about a scheduled task. Delivery to
// people (mail, chat, push) is handled outside the engine.
type TaskEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// TaskID links the event to the task it describes.
	TaskID string `json:"task_id"`

	// TaskCode is copied for consumers that only show codes.
	TaskCode string `json:"task_code"`

	Kind EventKind `json:"kind"`

	// Actor is the user that caused the event, empty for system actions.
	Actor string `json:"actor,omitempty"`

	// Message is the human-readable summary.
	Message string `json:"message"`

	CreatedAt time.Time `json:"created_at"`
}
