// Package pipeline wires a source to a sink.
//
// Run fetches both offset maps, subscribes strictly after the sink's offsets
// and then moves events through the batcher and the row transform into the
// sink, one insert at a time. Stages are goroutines connected by unbuffered
// channels, so a slow sink slows the subscription down.
//
// Any error ends the run; there is no retry here. Restarting the process
// resumes from what the sink holds, and the sink absorbs redelivered rows.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Actyx/events-to-db/internal/batcher"
	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/fault"
	"github.com/Actyx/events-to-db/internal/metrics"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/rows"
	"github.com/Actyx/events-to-db/internal/source"
	"github.com/Actyx/events-to-db/internal/storage"
)

// Pipeline is one source-to-sink run. Build it with a Builder.
type Pipeline struct {
	src         source.Source
	sink        storage.Sink
	filters     []event.Filter
	maxCount    int
	maxInterval time.Duration
	fromStart   bool
	log         *zap.Logger

	state atomic.Int32

	// written tracks the highest offset inserted per source during this run.
	written offsets.Map
	total   int64
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	p.log.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
}

// Run drives the pipeline until the subscription ends (nil), ctx is canceled
// (nil, after flushing the pending batch) or something fails (error).
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			p.setState(StateFatal)
			return
		}
		p.setState(StateTerminated)
	}()

	p.setState(StateFetchOffsets)
	from, err := p.fetchOffsets(ctx)
	if err != nil {
		return err
	}

	p.setState(StateSubscribing)
	p.log.Info("Subscribing to: "+describeFilters(p.filters), zap.Bool("from_start", p.fromStart))
	start := time.Now()
	sub, err := p.src.SubscribeFrom(ctx, from, p.filters)
	metrics.RecordStep("subscribe", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	p.setState(StateStreaming)
	if err := p.stream(ctx, sub); err != nil {
		return err
	}
	if ctx.Err() != nil {
		p.log.Info("shutdown requested; pending batch flushed", zap.Int64("records_written", p.total))
	} else {
		p.log.Info("subscription ended", zap.Int64("records_written", p.total))
	}
	return nil
}

func (p *Pipeline) fetchOffsets(ctx context.Context) (offsets.Map, error) {
	start := time.Now()
	dbOffsets, err := p.sink.FetchOffsets(ctx)
	metrics.RecordStep("fetch_sink_offsets", err, time.Since(start))
	if err != nil {
		return offsets.Map{}, fmt.Errorf("fetch sink offsets: %w", err)
	}

	start = time.Now()
	storeOffsets, err := p.src.Offsets(ctx)
	metrics.RecordStep("fetch_source_offsets", err, time.Since(start))
	if err != nil {
		return offsets.Map{}, fmt.Errorf("fetch source offsets: %w", err)
	}

	backlog := offsets.Delta(storeOffsets, dbOffsets)
	p.log.Info("Offset map from database: " + dbOffsets.String())
	p.log.Info("Offset map from store:    " + storeOffsets.String())
	p.log.Info(fmt.Sprintf("Database has %d events. Store has %d events.", dbOffsets.Size(), storeOffsets.Size()),
		zap.Int64("backlog", backlog))
	metrics.RecordBacklog(backlog)

	if p.fromStart {
		return offsets.Empty(), nil
	}
	return dbOffsets, nil
}

// stream runs forward -> batcher -> insert until the subscription ends.
func (p *Pipeline) stream(ctx context.Context, sub source.Subscription) error {
	g, gctx := errgroup.WithContext(ctx)

	in := make(chan event.Event)
	batches, err := batcher.Run(gctx, in, p.maxCount, p.maxInterval)
	if err != nil {
		return err
	}

	g.Go(func() error {
		defer close(in)
		defer fault.Recover()
		for {
			select {
			case e, ok := <-sub.Events():
				if !ok {
					if err := <-sub.Errors(); err != nil {
						return fmt.Errorf("subscription: %w", err)
					}
					return nil
				}
				metrics.RecordRows("received", 1)
				select {
				case in <- e:
				case <-gctx.Done():
					return nil
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Inserts outlive cancellation so the final partial batch still lands.
	wctx := context.WithoutCancel(ctx)
	g.Go(func() error {
		defer fault.Recover()
		for evs := range batches {
			if err := p.write(wctx, evs); err != nil {
				// gctx is canceled only once this func returns; the batcher
				// may be blocked on a send until then.
				go func() {
					for range batches {
					}
				}()
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// write transforms and inserts one batch.
func (p *Pipeline) write(ctx context.Context, evs []event.Event) error {
	start := time.Now()
	b := rows.FromEvents(evs, p.log)
	dropped := int64(len(evs) - b.Len())
	if b.Len() == 0 {
		p.log.Warn("every event of the batch was dropped", zap.Int("events", len(evs)))
		metrics.RecordRows("dropped", dropped)
		return nil
	}

	n, err := p.sink.Insert(ctx, b)
	elapsed := time.Since(start)
	metrics.RecordStep("insert", err, elapsed)
	if err != nil {
		return fmt.Errorf("insert batch of %d rows: %w", b.Len(), err)
	}

	p.total += n
	p.written = p.written.Merge(b.MaxOffsets())

	ms := elapsed.Milliseconds()
	rate := float64(b.Len())
	if elapsed > 0 {
		rate = float64(b.Len()) / elapsed.Seconds()
	}
	p.log.Info(
		fmt.Sprintf("Wrote %d record(s) in %d ms (%.0f records/sec). Source(s): %s",
			b.Len(), ms, rate, strings.Join(b.DistinctSources(), ", ")),
		zap.Int64("inserted", n),
		zap.Int64("duplicates", int64(b.Len())-n),
		zap.Int64("dropped", dropped),
		zap.Int64("total_inserted", p.total),
	)
	p.log.Debug("written offsets", zap.Stringer("offsets", p.written))

	metrics.RecordBatches(1)
	metrics.RecordRows("inserted", n)
	metrics.RecordRows("duplicate", int64(b.Len())-n)
	metrics.RecordRows("dropped", dropped)
	if err := metrics.Flush(); err != nil {
		p.log.Warn("metrics flush failed", zap.Error(err))
	}
	return nil
}

// Written returns the highest offset per source inserted so far.
func (p *Pipeline) Written() offsets.Map { return p.written }

func describeFilters(fs []event.Filter) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
