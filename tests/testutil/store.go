package testutil

import (
	"testing"
	"time"

	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Clock is a settable time source for tests.
type Clock struct {
	T time.Time
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock {
	return &Clock{T: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Task returns a valid pool task scheduled for year/month/day.
func Task(year, month, day int) model.ScheduledTask {
	return model.ScheduledTask{
		Title:              "Quarterly chiller inspection",
		Description:        "Check refrigerant pressure and belts",
		LocationID:         "loc-1",
		DepartmentID:       "dep-1",
		SystemID:           "sys-1",
		MachineID:          "mach-1",
		SelectedComponents: []string{"compressor", "belts"},
		ScheduledYear:      year,
		ScheduledMonth:     month,
		ScheduledDay:       Ptr(day),
		CreatedBy:          "admin-1",
	}
}
