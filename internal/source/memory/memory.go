// Package memory is an in-process event store. Tests use it to drive the
// pipeline end to end without a network.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/source"
)

// Store keeps events in append order. Subscriptions follow new appends until
// the store is sealed, at which point they end cleanly.
type Store struct {
	mu      sync.Mutex
	events  []event.Event
	offsets offsets.Map
	sealed  bool
	changed chan struct{}

	// FailAfter, when > 0, makes subscriptions fail after delivering that
	// many events.
	FailAfter int
}

var _ source.Source = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{changed: make(chan struct{})}
}

// Append adds events. Offsets must increase per source.
func (s *Store) Append(evs ...event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fmt.Errorf("memory store: sealed")
	}
	for _, e := range evs {
		if cur, ok := s.offsets.Get(e.SourceID); ok && e.Offset <= cur {
			return fmt.Errorf("memory store: offset %d for %s not after %d", e.Offset, e.SourceID, cur)
		}
		s.events = append(s.events, e)
		s.offsets = s.offsets.With(e.SourceID, e.Offset)
	}
	s.notifyLocked()
	return nil
}

// Seal ends every subscription once it has drained the stored events.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	s.notifyLocked()
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) Offsets(ctx context.Context) (offsets.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets, nil
}

// SubscribeFrom replays stored events after from and then follows appends.
func (s *Store) SubscribeFrom(ctx context.Context, from offsets.Map, filters []event.Filter) (source.Subscription, error) {
	return source.Start(ctx, func(ctx context.Context, emit source.Emit) error {
		next, sent := 0, 0
		for {
			s.mu.Lock()
			pending := s.events[next:]
			sealed := s.sealed
			changed := s.changed
			s.mu.Unlock()

			for _, e := range pending {
				next++
				if !source.After(from, e) || !event.MatchesAny(filters, e) {
					continue
				}
				if s.FailAfter > 0 && sent >= s.FailAfter {
					return fmt.Errorf("memory store: subscription dropped after %d events", sent)
				}
				if !emit(e) {
					return ctx.Err()
				}
				sent++
			}
			if sealed && len(pending) == 0 {
				return nil
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}
