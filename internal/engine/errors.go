package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine outcome that callers are expected to handle.
type Kind int

const (
	// KindNotFound: a task or reference-data id does not resolve.
	KindNotFound Kind = iota + 1
	// KindConflict: the task was claimed or modified by someone else.
	KindConflict
	// KindInvalidOperation: the transition is not allowed in the
	// task's current state, or the component scope is empty.
	KindInvalidOperation
	// KindValidation: malformed input such as an impossible day of month.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindValidation:
		return "validation_error"
	}
	return "unknown"
}

// Error is a typed engine outcome.
type Error struct {
	Kind   Kind
	Op     string // engine operation, e.g. "accept"
	TaskID string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.TaskID != "" {
		return fmt.Sprintf("%s task %s: %s (%s)", e.Op, e.TaskID, msg, e.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the engine error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err (or any error in its chain) is a NotFound outcome.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err (or any error in its chain) is a Conflict outcome.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsInvalidOperation reports whether err (or any error in its chain) is an InvalidOperation outcome.
func IsInvalidOperation(err error) bool { return KindOf(err) == KindInvalidOperation }

// IsValidation reports whether err (or any error in its chain) is a ValidationError outcome.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func newError(kind Kind, op, taskID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, TaskID: taskID, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op, taskID, format string, args ...any) error {
	return newError(KindNotFound, op, taskID, format, args...)
}

func conflict(op, taskID, format string, args ...any) error {
	return newError(KindConflict, op, taskID, format, args...)
}

func invalidOp(op, taskID, format string, args ...any) error {
	return newError(KindInvalidOperation, op, taskID, format, args...)
}

func validation(op, taskID string, err error) error {
	return &Error{Kind: KindValidation, Op: op, TaskID: taskID, Msg: "invalid input", Err: err}
}
