// Package schedule holds the calendar rules of preventive tasks: target
// dates, the derived due state, and next-occurrence arithmetic. Nothing
// here touches storage.
package schedule

import (
	"time"

	"github.com/nhle/pmsched/internal/model"
)

// Date is a calendar day without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return d.In(time.UTC).Format("2006-01-02")
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// TargetDate returns the due day of a task. A missing day means the
// first of the month.
func TargetDate(t model.ScheduledTask) Date {
	day := 1
	if t.ScheduledDay != nil {
		day = *t.ScheduledDay
	}
	return Date{Year: t.ScheduledYear, Month: time.Month(t.ScheduledMonth), Day: day}
}

// DaysBetween returns to minus from in whole calendar days.
func DaysBetween(from, to Date) int {
	// Noon UTC keeps the subtraction clear of DST transitions.
	a := time.Date(from.Year, from.Month, from.Day, 12, 0, 0, 0, time.UTC)
	b := time.Date(to.Year, to.Month, to.Day, 12, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// DueState is the read-time interpretation of a task's schedule.
type DueState struct {
	Status        model.TaskStatus
	DaysRemaining int
}

// Evaluate derives the effective status of t at now. The calendar day
// is taken in now's location. Terminal statuses are returned as stored;
// any open task (pending, or overdue already materialized) is overdue
// iff its target day lies before today.
func Evaluate(t model.ScheduledTask, now time.Time) DueState {
	today := DateOf(now)
	days := DaysBetween(today, TargetDate(t))

	if t.Status.Terminal() {
		return DueState{Status: t.Status, DaysRemaining: days}
	}
	if days < 0 {
		return DueState{Status: model.StatusOverdue, DaysRemaining: days}
	}
	return DueState{Status: model.StatusPending, DaysRemaining: days}
}

// View wraps t with its due state at now.
func View(t model.ScheduledTask, now time.Time) model.TaskView {
	st := Evaluate(t, now)
	return model.TaskView{
		ScheduledTask:   t,
		EffectiveStatus: st.Status,
		DaysRemaining:   st.DaysRemaining,
	}
}

// Stale reports whether the stored status of t differs from the derived one
// and should be rewritten.
func Stale(t model.ScheduledTask, now time.Time) bool {
	return !t.Status.Terminal() && Evaluate(t, now).Status != t.Status
}
