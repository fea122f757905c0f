package schedule

import (
	"fmt"
	"time"

	"github.com/nhle/pmsched/internal/model"
)

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths advances d by n calendar months, clamping the day to the
// last valid day of the resulting month (Jan 31 + 1 -> Feb 28/29).
func AddMonths(d Date, n int) Date {
	total := int(d.Month) - 1 + n
	y := d.Year + total/12
	m := total % 12
	if m < 0 {
		m += 12
		y--
	}
	month := time.Month(m + 1)
	day := d.Day
	if last := DaysIn(y, month); day > last {
		day = last
	}
	return Date{Year: y, Month: month, Day: day}
}

// Next returns the target date following d under interval.
func Next(d Date, interval model.Interval) (Date, error) {
	switch interval {
	case model.IntervalWeekly:
		return DateOf(d.In(time.UTC).AddDate(0, 0, 7)), nil
	case model.IntervalMonthly:
		return AddMonths(d, 1), nil
	case model.IntervalQuarterly:
		return AddMonths(d, 3), nil
	case model.IntervalSemiAnnually:
		return AddMonths(d, 6), nil
	}
	return Date{}, fmt.Errorf("unknown repetition interval %q", interval)
}

// Occurrence is the stored schedule triple of a task.
type Occurrence struct {
	Year  int
	Month int
	Day   *int
}

// NextOccurrence computes the schedule of the successor of t. Month-based
// intervals keep a missing day missing; weekly needs a concrete day and
// counts from the first of the month.
func NextOccurrence(t model.ScheduledTask) (Occurrence, error) {
	if t.RepetitionInterval == nil {
		return Occurrence{}, fmt.Errorf("task %s has no repetition interval", t.ID)
	}
	interval := *t.RepetitionInterval

	next, err := Next(TargetDate(t), interval)
	if err != nil {
		return Occurrence{}, err
	}

	occ := Occurrence{Year: next.Year, Month: int(next.Month)}
	if t.ScheduledDay != nil || interval == model.IntervalWeekly {
		day := next.Day
		occ.Day = &day
	}
	return occ, nil
}
