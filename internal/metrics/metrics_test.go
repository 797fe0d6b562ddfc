package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

type fakeBackend struct {
	mu         sync.Mutex
	counters   []counterCall
	histograms []histCall
	flushes    int
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func install(t *testing.T) *fakeBackend {
	t.Helper()
	orig := current()
	fb := &fakeBackend{}
	SetBackend(fb)
	t.Cleanup(func() { SetBackend(orig) })
	return fb
}

func TestRecordStep(t *testing.T) {
	fb := install(t)

	RecordStep("insert", nil, 2*time.Second)
	RecordStep("insert", errors.New("boom"), 500*time.Millisecond)

	if len(fb.counters) != 2 || len(fb.histograms) != 2 {
		t.Fatalf("counters=%d histograms=%d; want 2 each", len(fb.counters), len(fb.histograms))
	}
	if c := fb.counters[0]; c.name != StepTotal || c.labels["status"] != "success" || c.labels["step"] != "insert" {
		t.Fatalf("counter[0] = %#v", c)
	}
	if c := fb.counters[1]; c.labels["status"] != "failure" {
		t.Fatalf("counter[1] = %#v", c)
	}
	if h := fb.histograms[0]; h.name != StepDuration || h.value != 2 {
		t.Fatalf("histogram[0] = %#v", h)
	}
}

func TestRecordRowsAndBatches(t *testing.T) {
	fb := install(t)

	RecordRows("inserted", 5)
	RecordRows("dropped", 0)
	RecordRows("dropped", -1)
	RecordBatches(1)
	RecordBatches(0)

	if len(fb.counters) != 2 {
		t.Fatalf("counters = %#v; want 2 calls", fb.counters)
	}
	if c := fb.counters[0]; c.name != RecordsTotal || c.delta != 5 || c.labels["kind"] != "inserted" {
		t.Fatalf("counter[0] = %#v", c)
	}
	if c := fb.counters[1]; c.name != BatchesTotal || c.delta != 1 {
		t.Fatalf("counter[1] = %#v", c)
	}
}

func TestSetBackendNilKeepsCurrent(t *testing.T) {
	fb := install(t)
	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fb.flushes != 1 {
		t.Fatalf("flushes = %d; want 1", fb.flushes)
	}
}
