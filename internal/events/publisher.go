// Package events carries logical engine events to their sinks. The
// engine never delivers notifications itself; sinks either keep a durable
// log or hand events to an external transport.
package events

import (
	"context"
	"errors"

	"github.com/nhle/pmsched/internal/model"
)

// Publisher accepts engine events.
type Publisher interface {
	Publish(ctx context.Context, e model.TaskEvent) error
}

// EventWriter is the persistence side of StorePublisher.
type EventWriter interface {
	CreateEvent(ctx context.Context, e model.TaskEvent) error
}

// StorePublisher appends events to the durable task event log.
type StorePublisher struct {
	w EventWriter
}

// NewStorePublisher returns a publisher writing through w.
func NewStorePublisher(w EventWriter) *StorePublisher {
	return &StorePublisher{w: w}
}

// Publish stores e.
func (p *StorePublisher) Publish(ctx context.Context, e model.TaskEvent) error {
	return p.w.CreateEvent(ctx, e)
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers e to all publishers, even if some fail.
func (m Multi) Publish(ctx context.Context, e model.TaskEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, model.TaskEvent) error { return nil }
