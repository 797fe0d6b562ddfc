// Package batcher groups an unbounded stream into bounded batches.
//
// A batch is emitted when it holds maxCount items or when maxInterval has
// elapsed since its first item arrived, whichever comes first. The interval
// timer is armed by the first item of each batch, so an idle stream never
// produces empty batches. When the input closes, or ctx is canceled, the
// pending partial batch is emitted before the output is closed.
//
// The consumer must drain the output channel until it is closed.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Actyx/events-to-db/internal/fault"
)

// ErrInvalidConfig is returned for non-positive count or interval limits.
var ErrInvalidConfig = errors.New("batcher: invalid configuration")

// Validate checks the batching limits.
func Validate(maxCount int, maxInterval time.Duration) error {
	if maxCount <= 0 {
		return fmt.Errorf("%w: maxCount must be > 0, got %d", ErrInvalidConfig, maxCount)
	}
	if maxInterval <= 0 {
		return fmt.Errorf("%w: maxInterval must be > 0, got %s", ErrInvalidConfig, maxInterval)
	}
	return nil
}

// Run starts a batching stage reading from in. Items keep their input order
// inside and across batches.
func Run[T any](ctx context.Context, in <-chan T, maxCount int, maxInterval time.Duration) (<-chan []T, error) {
	if err := Validate(maxCount, maxInterval); err != nil {
		return nil, err
	}

	out := make(chan []T)
	go func() {
		defer close(out)
		defer fault.Recover()

		var (
			batch  []T
			timer  *time.Timer
			timerC <-chan time.Time
		)
		flush := func() {
			if timer != nil {
				timer.Stop()
				timer, timerC = nil, nil
			}
			if len(batch) == 0 {
				return
			}
			b := batch
			batch = nil
			out <- b
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				return

			case <-timerC:
				timer, timerC = nil, nil
				flush()

			case item, ok := <-in:
				if !ok {
					flush()
					return
				}
				if len(batch) == 0 {
					batch = make([]T, 0, min(maxCount, 1024))
					timer = time.NewTimer(maxInterval)
					timerC = timer.C
				}
				batch = append(batch, item)
				if len(batch) >= maxCount {
					flush()
				}
			}
		}
	}()
	return out, nil
}
