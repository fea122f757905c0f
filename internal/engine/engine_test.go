package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/pmsched/internal/engine"
	"github.com/nhle/pmsched/internal/events"
	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/refdata"
	"github.com/nhle/pmsched/internal/store"
	"github.com/nhle/pmsched/tests/testutil"
)

var start = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *engine.Service
	store *store.SQLStore
	clock *testutil.Clock
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	clock := testutil.NewClock(start)
	base := []engine.Option{
		engine.WithClock(clock.Now),
		engine.WithLocation(time.UTC),
		engine.WithPublisher(events.NewStorePublisher(st)),
	}
	return &fixture{
		svc:   engine.New(st, append(base, opts...)...),
		store: st,
		clock: clock,
	}
}

func input(year, month, day int) engine.CreateInput {
	t := testutil.Task(year, month, day)
	return engine.CreateInput{
		Title:              t.Title,
		Description:        t.Description,
		LocationID:         t.LocationID,
		DepartmentID:       t.DepartmentID,
		SystemID:           t.SystemID,
		MachineID:          t.MachineID,
		SelectedComponents: t.SelectedComponents,
		ScheduledYear:      year,
		ScheduledMonth:     month,
		ScheduledDay:       testutil.Ptr(day),
	}
}

func (f *fixture) create(t *testing.T, in engine.CreateInput) *model.TaskView {
	t.Helper()
	v, err := f.svc.Create(context.Background(), in, "admin-1")
	require.NoError(t, err)
	return v
}

func TestAcceptConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 3, 20))

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      []string
		conflicts int
		others    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(eng string) {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, task.ID, eng)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, eng)
			case engine.IsConflict(err):
				conflicts++
			default:
				others = append(others, err)
			}
		}(fmt.Sprintf("eng-%02d", i))
	}
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, wins, 1)
	assert.Equal(t, n-1, conflicts)

	got, err := f.svc.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EngineerID)
	assert.Equal(t, wins[0], *got.EngineerID)
}

func TestAcceptClassifiesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, "missing", "eng-1")
	assert.True(t, engine.IsNotFound(err), "got %v", err)

	direct := input(2024, 4, 1)
	direct.EngineerID = testutil.Ptr("eng-1")
	assigned := f.create(t, direct)
	_, err = f.svc.Accept(ctx, assigned.ID, "eng-1")
	assert.True(t, engine.IsConflict(err), "same engineer: got %v", err)
	_, err = f.svc.Accept(ctx, assigned.ID, "eng-2")
	assert.True(t, engine.IsConflict(err), "other engineer: got %v", err)

	cancelled := f.create(t, input(2024, 4, 2))
	_, err = f.svc.Cancel(ctx, cancelled.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, cancelled.ID, "eng-1")
	assert.True(t, engine.IsInvalidOperation(err), "got %v", err)

	_, err = f.svc.Accept(ctx, cancelled.ID, "  ")
	assert.True(t, engine.IsValidation(err), "got %v", err)
}

func TestListsPartitionAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.create(t, input(2024, 5, 1))
	early := f.create(t, input(2024, 3, 1))
	direct := input(2024, 4, 1)
	direct.EngineerID = testutil.Ptr("eng-1")
	mine := f.create(t, direct)
	claimed := f.create(t, input(2024, 6, 1))
	_, err := f.svc.Accept(ctx, claimed.ID, "eng-1")
	require.NoError(t, err)

	available, err := f.svc.ListAvailable(ctx, engine.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID, late.ID}, ids(available))

	own, err := f.svc.ListMine(ctx, "eng-1", engine.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID, claimed.ID}, ids(own))

	pending, err := f.svc.ListPending(ctx, engine.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID, mine.ID, late.ID, claimed.ID}, ids(pending))

	paged, err := f.svc.ListPending(ctx, engine.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID, late.ID}, ids(paged))

	_, err = f.svc.ListMine(ctx, "", engine.Page{})
	assert.True(t, engine.IsValidation(err))
}

func TestListDerivesAndPersistsOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := f.create(t, input(2024, 3, 14))
	today := f.create(t, input(2024, 3, 15))
	assert.Equal(t, model.StatusOverdue, yesterday.EffectiveStatus)
	assert.Equal(t, model.StatusPending, yesterday.Status)

	views, err := f.svc.ListAvailable(ctx, engine.Page{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, yesterday.ID, views[0].ID)
	assert.Equal(t, model.StatusOverdue, views[0].EffectiveStatus)
	assert.Equal(t, -1, views[0].DaysRemaining)
	assert.Equal(t, today.ID, views[1].ID)
	assert.Equal(t, model.StatusPending, views[1].EffectiveStatus)
	assert.Equal(t, 0, views[1].DaysRemaining)

	stored, err := f.store.GetTaskByID(ctx, yesterday.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverdue, stored.Status)
	assert.Equal(t, 1, stored.Version, "overdue refresh is not an edit")

	// Still listed and still acceptable once overdue.
	_, err = f.svc.Accept(ctx, yesterday.ID, "eng-1")
	require.NoError(t, err)
}

func TestDaysRemainingFollowsClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 3, 20))
	assert.Equal(t, 5, task.DaysRemaining)

	f.clock.Advance(6 * 24 * time.Hour)
	got, err := f.svc.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, got.DaysRemaining)
	assert.Equal(t, model.StatusOverdue, got.EffectiveStatus)
}

func TestCompleteIsIdempotentPerRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 3, 20))

	done, err := f.svc.Complete(ctx, task.ID, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	again, err := f.svc.Complete(ctx, task.ID, "req-1")
	require.NoError(t, err)
	assert.Equal(t, done.Version, again.Version)

	_, err = f.svc.Complete(ctx, task.ID, "req-2")
	assert.True(t, engine.IsInvalidOperation(err), "got %v", err)

	_, err = f.svc.Complete(ctx, task.ID, "")
	assert.True(t, engine.IsValidation(err))

	_, err = f.svc.Complete(ctx, "missing", "req-1")
	assert.True(t, engine.IsNotFound(err))

	cancelled := f.create(t, input(2024, 3, 21))
	_, err = f.svc.Cancel(ctx, cancelled.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, cancelled.ID, "req-3")
	assert.True(t, engine.IsInvalidOperation(err))
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(2024, 3, 20)
	in.RepetitionInterval = testutil.Ptr(model.IntervalMonthly)
	task := f.create(t, in)

	got, err := f.svc.Cancel(ctx, task.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	_, err = f.svc.Cancel(ctx, task.ID, "admin-1")
	assert.True(t, engine.IsInvalidOperation(err))

	_, err = f.svc.GenerateNext(ctx, task.ID)
	assert.True(t, engine.IsInvalidOperation(err))

	children, err := f.store.GetChildren(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	_, err = f.svc.Cancel(ctx, "missing", "admin-1")
	assert.True(t, engine.IsNotFound(err))
}

func TestOnRequestCompletedGeneratesOneSuccessor(t *testing.T) {
	tests := []struct {
		name     string
		year     int
		interval model.Interval
		wantY    int
		wantM    int
		wantD    int
	}{
		{"monthly leap year clamps", 2024, model.IntervalMonthly, 2024, 2, 29},
		{"monthly common year clamps", 2023, model.IntervalMonthly, 2023, 2, 28},
		{"quarterly clamps", 2023, model.IntervalQuarterly, 2023, 4, 30},
		{"semi-annual", 2023, model.IntervalSemiAnnually, 2023, 7, 31},
		{"weekly crosses month", 2024, model.IntervalWeekly, 2024, 2, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			in := input(tt.year, 1, 31)
			in.EngineerID = testutil.Ptr("eng-1")
			in.RepetitionInterval = testutil.Ptr(tt.interval)
			task := f.create(t, in)

			res, err := f.svc.OnRequestCompleted(ctx, "req-1", task.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusCompleted, res.Task.Status)
			require.NotNil(t, res.Successor)

			next := res.Successor
			assert.Equal(t, tt.wantY, next.ScheduledYear)
			assert.Equal(t, tt.wantM, next.ScheduledMonth)
			require.NotNil(t, next.ScheduledDay)
			assert.Equal(t, tt.wantD, *next.ScheduledDay)
			assert.Equal(t, model.StatusPending, next.Status)
			require.NotNil(t, next.ParentTaskID)
			assert.Equal(t, task.ID, *next.ParentTaskID)
			assert.NotEqual(t, task.TaskCode, next.TaskCode)
			require.NotNil(t, next.EngineerID)
			assert.Equal(t, "eng-1", *next.EngineerID)
			assert.Equal(t, tt.interval, *next.RepetitionInterval)
			assert.Equal(t, "admin-1", next.CreatedBy)
			assert.Nil(t, next.LastGeneratedAt)

			retry, err := f.svc.OnRequestCompleted(ctx, "req-1", task.ID)
			require.NoError(t, err)
			assert.Nil(t, retry.Successor)

			children, err := f.store.GetChildren(ctx, task.ID)
			require.NoError(t, err)
			assert.Len(t, children, 1)
		})
	}
}

func TestGenerateNextDaylessOccurrences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	monthly := input(2024, 11, 1)
	monthly.ScheduledDay = nil
	monthly.RepetitionInterval = testutil.Ptr(model.IntervalQuarterly)
	m := f.create(t, monthly)
	res, err := f.svc.OnRequestCompleted(ctx, "req-m", m.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Successor)
	assert.Equal(t, 2025, res.Successor.ScheduledYear)
	assert.Equal(t, 2, res.Successor.ScheduledMonth)
	assert.Nil(t, res.Successor.ScheduledDay)
	assert.True(t, res.Successor.Pool())

	weekly := input(2024, 4, 1)
	weekly.ScheduledDay = nil
	weekly.RepetitionInterval = testutil.Ptr(model.IntervalWeekly)
	w := f.create(t, weekly)
	res, err = f.svc.OnRequestCompleted(ctx, "req-w", w.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Successor)
	require.NotNil(t, res.Successor.ScheduledDay)
	assert.Equal(t, 8, *res.Successor.ScheduledDay)
}

func TestGenerateNextNonRecurring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 3, 20))

	res, err := f.svc.OnRequestCompleted(ctx, "req-1", task.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Successor)

	_, err = f.svc.GenerateNext(ctx, "missing")
	assert.True(t, engine.IsNotFound(err))

	open := f.create(t, input(2024, 3, 21))
	_, err = f.svc.GenerateNext(ctx, open.ID)
	assert.True(t, engine.IsInvalidOperation(err))
}

func TestUpdate(t *testing.T) {
	t.Run("completed task rejects edits", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		task := f.create(t, input(2024, 3, 20))
		_, err := f.svc.Complete(ctx, task.ID, "req-1")
		require.NoError(t, err)

		_, err = f.svc.Update(ctx, task.ID, engine.TaskPatch{ScheduledDay: testutil.Ptr(25)}, "admin-1")
		assert.True(t, engine.IsInvalidOperation(err), "got %v", err)
	})

	t.Run("reschedule resets overdue to pending", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		task := f.create(t, input(2024, 3, 1))
		_, err := f.svc.ListPending(ctx, engine.Page{})
		require.NoError(t, err)

		got, err := f.svc.Update(ctx, task.ID, engine.TaskPatch{
			ScheduledMonth: testutil.Ptr(4),
			Title:          testutil.Ptr("  Chiller inspection "),
		}, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, "Chiller inspection", got.Title)
		assert.Equal(t, 4, got.ScheduledMonth)
		assert.Equal(t, task.TaskCode, got.TaskCode)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		task := f.create(t, input(2024, 3, 20))
		_, err := f.svc.Update(ctx, task.ID, engine.TaskPatch{Description: testutil.Ptr("a")}, "admin-1")
		require.NoError(t, err)

		_, err = f.svc.Update(ctx, task.ID, engine.TaskPatch{
			Description: testutil.Ptr("b"),
			Version:     testutil.Ptr(task.Version),
		}, "admin-1")
		assert.True(t, engine.IsConflict(err), "got %v", err)
	})

	t.Run("invalid day", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		task := f.create(t, input(2024, 3, 20))
		_, err := f.svc.Update(ctx, task.ID, engine.TaskPatch{ScheduledMonth: testutil.Ptr(2), ScheduledDay: testutil.Ptr(30)}, "admin-1")
		assert.True(t, engine.IsValidation(err), "got %v", err)
	})

	t.Run("unassign and clear selection", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		in := input(2024, 3, 20)
		in.EngineerID = testutil.Ptr("eng-1")
		task := f.create(t, in)

		got, err := f.svc.Update(ctx, task.ID, engine.TaskPatch{
			ClearEngineer:      true,
			SelectedComponents: &[]string{},
		}, "admin-1")
		assert.True(t, engine.IsInvalidOperation(err), "empty selection: got %v", err)
		assert.Nil(t, got)

		got, err = f.svc.Update(ctx, task.ID, engine.TaskPatch{
			ClearEngineer:         true,
			MaintainAllComponents: testutil.Ptr(true),
		}, "admin-1")
		require.NoError(t, err)
		assert.True(t, got.Pool())
		assert.Empty(t, got.SelectedComponents)
	})
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := input(2023, 2, 29)
	_, err := f.svc.Create(ctx, bad, "admin-1")
	assert.True(t, engine.IsValidation(err), "got %v", err)

	bad = input(1999, 2, 1)
	_, err = f.svc.Create(ctx, bad, "admin-1")
	assert.True(t, engine.IsValidation(err))

	bad = input(2024, 2, 1)
	bad.RepetitionInterval = testutil.Ptr(model.Interval("daily"))
	_, err = f.svc.Create(ctx, bad, "admin-1")
	assert.True(t, engine.IsValidation(err))

	bad = input(2024, 2, 1)
	bad.SelectedComponents = []string{" ", ""}
	_, err = f.svc.Create(ctx, bad, "admin-1")
	assert.True(t, engine.IsInvalidOperation(err))

	_, err = f.svc.Create(ctx, input(2024, 2, 1), "")
	assert.True(t, engine.IsValidation(err))

	all := input(2024, 2, 1)
	all.MaintainAllComponents = true
	got, err := f.svc.Create(ctx, all, "admin-1")
	require.NoError(t, err)
	assert.Empty(t, got.SelectedComponents)

	dup := input(2024, 2, 2)
	dup.SelectedComponents = []string{"belts", " belts", "fan"}
	got, err = f.svc.Create(ctx, dup, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"belts", "fan"}, got.SelectedComponents)
	assert.Equal(t, "PM-2024-00002", got.TaskCode)
}

func TestCreateChecksReferenceData(t *testing.T) {
	refs := refdata.NewStatic().
		Add(refdata.KindLocation, "loc-1").
		Add(refdata.KindDepartment, "dep-1").
		Add(refdata.KindSystem, "sys-1").
		Add(refdata.KindMachine, "mach-1").
		Add(refdata.KindEngineer, "eng-1")
	f := newFixture(t, engine.WithResolver(refs), engine.WithCodePrefix("HVAC"))
	ctx := context.Background()

	in := input(2024, 4, 1)
	in.EngineerID = testutil.Ptr("eng-1")
	got, err := f.svc.Create(ctx, in, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "HVAC-2024-00001", got.TaskCode)

	in.EngineerID = testutil.Ptr("eng-9")
	_, err = f.svc.Create(ctx, in, "admin-1")
	assert.True(t, engine.IsNotFound(err), "got %v", err)

	in = input(2024, 4, 1)
	in.MachineID = "mach-9"
	_, err = f.svc.Create(ctx, in, "admin-1")
	assert.True(t, engine.IsNotFound(err))

	_, err = f.svc.Update(ctx, got.ID, engine.TaskPatch{LocationID: testutil.Ptr("loc-9")}, "admin-1")
	assert.True(t, engine.IsNotFound(err))
}

func TestCreateRequestFromTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool := f.create(t, input(2024, 4, 1))
	_, err := f.svc.CreateRequestFromTask(ctx, pool.ID, "eng-1")
	assert.True(t, engine.IsInvalidOperation(err), "pool task: got %v", err)

	_, err = f.svc.Accept(ctx, pool.ID, "eng-1")
	require.NoError(t, err)

	_, err = f.svc.CreateRequestFromTask(ctx, pool.ID, "eng-2")
	assert.True(t, engine.IsInvalidOperation(err), "other engineer: got %v", err)

	draft, err := f.svc.CreateRequestFromTask(ctx, pool.ID, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, pool.ID, draft.ScheduledTaskID)
	assert.Equal(t, model.RequestTypePreventive, draft.RequestType)
	assert.Equal(t, "eng-1", draft.EngineerID)
	assert.Equal(t, []string{"compressor", "belts"}, draft.SelectedComponents)
	assert.Contains(t, draft.Title, pool.TaskCode)

	unchanged, err := f.svc.GetByID(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, unchanged.Status)

	_, err = f.svc.CreateRequestFromTask(ctx, "missing", "eng-1")
	assert.True(t, engine.IsNotFound(err))

	_, err = f.svc.Complete(ctx, pool.ID, "req-1")
	require.NoError(t, err)
	_, err = f.svc.CreateRequestFromTask(ctx, pool.ID, "eng-1")
	assert.True(t, engine.IsInvalidOperation(err))
}

func TestReconcileOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, input(2024, 3, 1))
	b := f.create(t, input(2024, 3, 14))
	f.create(t, input(2024, 3, 15))
	f.create(t, input(2024, 4, 1))
	f.clock.Advance(time.Minute)

	n, err := f.svc.ReconcileOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.ReconcileOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, id := range []string{a.ID, b.ID} {
		stored, err := f.store.GetTaskByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOverdue, stored.Status)

		evs, err := f.svc.ListEvents(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []model.EventKind{model.EventTaskCreated, model.EventTaskOverdue}, kinds(evs))
	}
}

func TestOverdueRecordedOnceAcrossListAndReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 3, 1))
	f.clock.Advance(time.Minute)

	_, err := f.svc.ListPending(ctx, engine.Page{})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	n, err := f.svc.ReconcileOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already materialized by the list")

	_, err = f.svc.ListAvailable(ctx, engine.Page{})
	require.NoError(t, err)

	evs, err := f.svc.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.EventKind{model.EventTaskCreated, model.EventTaskOverdue}, kinds(evs))
	assert.Equal(t, "overdue since 2024-03-01", evs[1].Message)
}

func TestUpdateIntoPastRecordsOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 3, 20))
	f.clock.Advance(time.Minute)

	got, err := f.svc.Update(ctx, task.ID, engine.TaskPatch{ScheduledDay: testutil.Ptr(10)}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverdue, got.Status)
	assert.Equal(t, model.StatusOverdue, got.EffectiveStatus)

	stored, err := f.store.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverdue, stored.Status)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Update(ctx, task.ID, engine.TaskPatch{Description: testutil.Ptr("still late")}, "admin-1")
	require.NoError(t, err)
	n, err := f.svc.ReconcileOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	evs, err := f.svc.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, evs, 4)
	assert.Equal(t, model.EventTaskCreated, evs[0].Kind)
	assert.ElementsMatch(t, []model.EventKind{
		model.EventTaskUpdated,
		model.EventTaskOverdue,
		model.EventTaskUpdated,
	}, kinds(evs[1:]))
}

func TestGenerateNextStopsAtHorizon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(2200, 12, 15)
	in.RepetitionInterval = testutil.Ptr(model.IntervalMonthly)
	task := f.create(t, in)

	res, err := f.svc.OnRequestCompleted(ctx, "req-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Task.Status)
	assert.Nil(t, res.Successor)

	next, err := f.svc.GenerateNext(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, next)

	children, err := f.store.GetChildren(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	// The chain stays editable and listable.
	chain, err := f.svc.ListChain(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, ids(chain))
}

// failingLookup fails GetTaskByID for one id.
type failingLookup struct {
	store.Store
	id  string
	err error
}

func (s failingLookup) GetTaskByID(ctx context.Context, id string) (*model.ScheduledTask, error) {
	if id == s.id {
		return nil, s.err
	}
	return s.Store.GetTaskByID(ctx, id)
}

func TestListChainPredecessorLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(2024, 1, 15)
	in.RepetitionInterval = testutil.Ptr(model.IntervalMonthly)
	first := f.create(t, in)
	res, err := f.svc.OnRequestCompleted(ctx, "req-1", first.ID)
	require.NoError(t, err)
	second := res.Successor.ID

	missing := engine.New(failingLookup{
		Store: f.store,
		id:    first.ID,
		err:   fmt.Errorf("getting task %s: %w", first.ID, store.ErrNotFound),
	}, engine.WithClock(f.clock.Now), engine.WithLocation(time.UTC))
	chain, err := missing.ListChain(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, ids(chain))

	broken := engine.New(failingLookup{
		Store: f.store,
		id:    first.ID,
		err:   errors.New("connection reset"),
	}, engine.WithClock(f.clock.Now), engine.WithLocation(time.UTC))
	_, err = broken.ListChain(ctx, second)
	require.Error(t, err)
	assert.ErrorContains(t, err, "list chain: connection reset")
	assert.Zero(t, engine.KindOf(err))
}

func TestListChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(2024, 1, 15)
	in.RepetitionInterval = testutil.Ptr(model.IntervalMonthly)
	first := f.create(t, in)

	r1, err := f.svc.OnRequestCompleted(ctx, "req-1", first.ID)
	require.NoError(t, err)
	r2, err := f.svc.OnRequestCompleted(ctx, "req-2", r1.Successor.ID)
	require.NoError(t, err)

	want := []string{first.ID, r1.Successor.ID, r2.Successor.ID}
	for _, id := range want {
		chain, err := f.svc.ListChain(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, ids(chain))
	}

	_, err = f.svc.ListChain(ctx, "missing")
	assert.True(t, engine.IsNotFound(err))
}

func TestGetByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, input(2024, 4, 1))

	got, err := f.svc.GetByCode(ctx, " pm-2024-00001 ")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	_, err = f.svc.GetByCode(ctx, "PM-2024-00002")
	assert.True(t, engine.IsNotFound(err))

	_, err = f.svc.GetByCode(ctx, "not-a-code")
	assert.True(t, engine.IsValidation(err))
}

func TestEventLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(2024, 4, 1)
	in.RepetitionInterval = testutil.Ptr(model.IntervalWeekly)
	task := f.create(t, in)

	f.clock.Advance(time.Minute)
	_, err := f.svc.Accept(ctx, task.ID, "eng-1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Update(ctx, task.ID, engine.TaskPatch{Description: testutil.Ptr("bring gauges")}, "admin-1")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	res, err := f.svc.OnRequestCompleted(ctx, "req-1", task.ID)
	require.NoError(t, err)

	evs, err := f.svc.ListEvents(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.EventKind{
		model.EventTaskCreated,
		model.EventTaskAccepted,
		model.EventTaskUpdated,
		model.EventTaskCompleted,
	}, kinds(evs))
	assert.Equal(t, "eng-1", evs[1].Actor)

	evs, err = f.svc.ListEvents(ctx, res.Successor.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.EventKind{model.EventTaskGenerated}, kinds(evs))
}

func TestErrorFormatting(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accept(context.Background(), "t-1", "eng-1")
	require.Error(t, err)
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))
	assert.Equal(t, "accept task t-1: task does not exist (not_found)", err.Error())
	assert.Equal(t, engine.Kind(0), engine.KindOf(fmt.Errorf("plain")))
}

func ids(views []model.TaskView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func kinds(evs []model.TaskEvent) []model.EventKind {
	out := make([]model.EventKind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}
