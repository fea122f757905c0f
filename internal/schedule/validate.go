package schedule

import (
	"fmt"
	"time"
)

// Year bounds accepted for a scheduled occurrence.
const (
	MinYear = 2000
	MaxYear = 2200
)

// ValidateOccurrence checks that year, month and the optional day form a
// real calendar day.
func ValidateOccurrence(year, month int, day *int) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("scheduled year %d out of range %d-%d", year, MinYear, MaxYear)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("scheduled month %d out of range 1-12", month)
	}
	if day == nil {
		return nil
	}
	last := DaysIn(year, time.Month(month))
	if *day < 1 || *day > last {
		return fmt.Errorf("scheduled day %d invalid for %04d-%02d (1-%d)", *day, year, month, last)
	}
	return nil
}
