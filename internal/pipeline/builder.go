package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Actyx/events-to-db/internal/batcher"
	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/source"
	"github.com/Actyx/events-to-db/internal/storage"
)

// Defaults for WithBatching.
const (
	DefaultMaxBatchRecords  = 1024
	DefaultMaxBatchInterval = time.Second
)

// Builder assembles a Pipeline. Collaborators are chosen here and fixed for
// the pipeline's lifetime.
type Builder struct {
	src         source.Source
	sink        storage.Sink
	filters     []event.Filter
	maxCount    int
	maxInterval time.Duration
	fromStart   bool
	log         *zap.Logger
	runID       string
}

// NewBuilder starts with default batching and a match-all subscription.
func NewBuilder() *Builder {
	return &Builder{
		filters:     []event.Filter{{}},
		maxCount:    DefaultMaxBatchRecords,
		maxInterval: DefaultMaxBatchInterval,
	}
}

func (b *Builder) WithSource(s source.Source) *Builder { b.src = s; return b }
func (b *Builder) WithSink(s storage.Sink) *Builder    { b.sink = s; return b }
func (b *Builder) WithLogger(l *zap.Logger) *Builder   { b.log = l; return b }

// WithFilters replaces the subscription set.
func (b *Builder) WithFilters(fs []event.Filter) *Builder {
	b.filters = append([]event.Filter(nil), fs...)
	return b
}

// WithBatching sets the flush limits.
func (b *Builder) WithBatching(maxCount int, maxInterval time.Duration) *Builder {
	b.maxCount, b.maxInterval = maxCount, maxInterval
	return b
}

// WithFromStart makes the subscription ignore the sink's offsets.
func (b *Builder) WithFromStart(v bool) *Builder { b.fromStart = v; return b }

// WithRunID overrides the generated run identifier attached to every log line.
func (b *Builder) WithRunID(id string) *Builder { b.runID = id; return b }

// Build validates the configuration.
func (b *Builder) Build() (*Pipeline, error) {
	var errs []error
	if b.src == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if b.sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if len(b.filters) == 0 {
		errs = append(errs, fmt.Errorf("%w: subscription set selects nothing", event.ErrInvalidFilter))
	}
	if err := batcher.Validate(b.maxCount, b.maxInterval); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("pipeline: %w", errors.Join(errs...))
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	runID := b.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Pipeline{
		src:         b.src,
		sink:        b.sink,
		filters:     b.filters,
		maxCount:    b.maxCount,
		maxInterval: b.maxInterval,
		fromStart:   b.fromStart,
		log:         log.Named("pipeline").With(zap.String("run_id", runID)),
	}, nil
}
