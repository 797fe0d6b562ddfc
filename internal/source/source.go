// Package source defines the upstream side of the pipeline: an event store
// that reports its offsets and streams events from a resume point.
package source

import (
	"context"
	"errors"
	"sync"

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/fault"
	"github.com/Actyx/events-to-db/internal/offsets"
)

// Source is an event store client.
type Source interface {
	// Offsets reports the highest offset currently held per source.
	Offsets(ctx context.Context) (offsets.Map, error)
	// SubscribeFrom streams, in order, every event matching any of filters
	// whose offset lies strictly after from for its source. Sources missing
	// from from are streamed from their first event.
	SubscribeFrom(ctx context.Context, from offsets.Map, filters []event.Filter) (Subscription, error)
}

// Subscription is a live, ordered event stream.
//
// Events is closed when the stream ends. By then Errors is closed too and
// holds the failure that ended the stream, if any.
type Subscription interface {
	Events() <-chan event.Event
	Errors() <-chan error
	Close() error
}

// After reports whether e lies strictly after the resume point from.
func After(from offsets.Map, e event.Event) bool {
	o, ok := from.Get(e.SourceID)
	return !ok || e.Offset > o
}

// Emit hands an event to the subscriber. It returns false once the
// subscription has been canceled; producers must stop then.
type Emit func(event.Event) bool

// Stream is a Subscription driven by a producer goroutine.
type Stream struct {
	events chan event.Event
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ Subscription = (*Stream)(nil)

// Start runs produce in a goroutine. A nil return from produce ends the
// stream cleanly; so does any error caused by ctx cancellation. produce must
// not cancel ctx, or an ancestor of it, itself: its failure would then be
// taken for a shutdown.
func Start(ctx context.Context, produce func(ctx context.Context, emit Emit) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan event.Event),
		errs:   make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		defer close(s.errs)
		// runs first: a panicking producer must not look like a clean end
		defer fault.Recover()

		emit := func(e event.Event) bool {
			select {
			case s.events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}
		err := produce(ctx, emit)
		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			s.errs <- err
		}
	}()
	return s
}

func (s *Stream) Events() <-chan event.Event { return s.events }
func (s *Stream) Errors() <-chan error       { return s.errs }

// Done is closed once the producer has returned and its error, if any, has
// been recorded.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close cancels the producer and waits for it to finish. Events still
// buffered in flight are discarded; resuming later picks them up again.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.cancel()
		for range s.events {
		}
		<-s.done
	})
	return nil
}
