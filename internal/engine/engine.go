// Package engine implements the lifecycle of preventive maintenance
// tasks: listing and claiming, status transitions, recurrence, and the
// link to external maintenance requests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/pmsched/internal/events"
	"github.com/nhle/pmsched/internal/model"
	"github.com/nhle/pmsched/internal/refdata"
	"github.com/nhle/pmsched/internal/schedule"
	"github.com/nhle/pmsched/internal/store"
)

// DefaultCodePrefix is used when no prefix is configured.
const DefaultCodePrefix = "PM"

// Service coordinates every task operation. It holds no task state of its
// own; all coordination happens through conditional writes in the store,
// so a Service is safe for concurrent use.
type Service struct {
	store  store.Store
	refs   refdata.Resolver
	pub    events.Publisher
	log    zerolog.Logger
	now    func() time.Time
	loc    *time.Location
	prefix string
}

// Option configures a Service.
type Option func(*Service)

// WithResolver sets the reference-data resolver. Defaults to refdata.AllowAll.
func WithResolver(r refdata.Resolver) Option {
	return func(s *Service) { s.refs = r }
}

// WithPublisher sets the event sink. Defaults to events.Discard.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the location whose calendar day decides due dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCodePrefix sets the task code prefix.
func WithCodePrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New returns a Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		refs:   refdata.AllowAll{},
		pub:    events.Discard{},
		log:    zerolog.Nop(),
		now:    time.Now,
		loc:    time.Local,
		prefix: DefaultCodePrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current time in the scheduling location.
func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) view(t model.ScheduledTask) model.TaskView {
	return schedule.View(t, s.clock())
}

// load reads a task, mapping a missing row to NotFound.
func (s *Service) load(ctx context.Context, op, id string) (*model.ScheduledTask, error) {
	t, err := s.store.GetTaskByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(op, id, "task does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// emit publishes an event. Publication is best-effort: the transition it
// describes has already been committed.
func (s *Service) emit(ctx context.Context, t model.ScheduledTask, kind model.EventKind, actor, msg string) {
	e := model.TaskEvent{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		TaskCode:  t.TaskCode,
		Kind:      kind,
		Actor:     actor,
		Message:   msg,
		CreatedAt: s.now().UTC(),
	}
	if err := s.pub.Publish(ctx, e); err != nil {
		s.log.Warn().Err(err).
			Str("task_id", t.ID).
			Str("kind", string(kind)).
			Msg("publishing task event")
	}
}

// markOverdue materializes derived overdue statuses and records a
// task_overdue event for each row actually rewritten.
func (s *Service) markOverdue(ctx context.Context, tasks []model.ScheduledTask) ([]string, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	marked, err := s.store.MarkOverdue(ctx, ids, s.now())
	if err != nil {
		return nil, err
	}

	rewritten := make(map[string]bool, len(marked))
	for _, id := range marked {
		rewritten[id] = true
	}
	for _, t := range tasks {
		if rewritten[t.ID] {
			s.emit(ctx, t, model.EventTaskOverdue, "", "overdue since "+schedule.TargetDate(t).String())
		}
	}
	return marked, nil
}

// persistOverdue is markOverdue on a read path. Failures are logged and
// never surface to the reader.
func (s *Service) persistOverdue(ctx context.Context, tasks []model.ScheduledTask) []string {
	marked, err := s.markOverdue(ctx, tasks)
	if err != nil {
		s.log.Warn().Err(err).Int("count", len(tasks)).Msg("persisting overdue status")
		return nil
	}
	if len(marked) > 0 {
		s.log.Debug().Int("count", len(marked)).Msg("materialized overdue tasks")
	}
	return marked
}
