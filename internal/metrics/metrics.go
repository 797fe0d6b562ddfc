// Package metrics records pipeline counters behind a pluggable backend.
//
// The default backend is a no-op, so instrumented code never needs to check
// whether metrics are enabled. Concrete backends live in subpackages
// (prompush, datadog) and are installed once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal     = "events2db_step_total"
	StepDuration  = "events2db_step_duration_seconds"
	RecordsTotal  = "events2db_records_total"
	BatchesTotal  = "events2db_batches_total"
	BacklogEvents = "events2db_backlog_events"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows adds delta to the record counter of kind, e.g. "received",
// "inserted", "duplicate" or "dropped".
func RecordRows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"kind": kind})
}

// RecordBatches counts flushed batches.
func RecordBatches(delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), nil)
}

// RecordBacklog reports how many events the sink lagged behind the store
// at startup.
func RecordBacklog(n int64) {
	current().ObserveHistogram(BacklogEvents, float64(n), nil)
}
