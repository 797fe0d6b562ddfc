// Package prompush pushes pipeline metrics to a Prometheus Pushgateway.
//
// A long-running connector has no natural scrape endpoint in this project, so
// the registry is pushed after every batch instead.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/Actyx/events-to-db/internal/metrics"
)

// Backend is a Pushgateway metrics backend.
type Backend struct {
	pusher *push.Pusher
	reg    *prometheus.Registry

	stepCounter   *prometheus.CounterVec
	stepDuration  *prometheus.SummaryVec
	recordCounter *prometheus.CounterVec
	batchCounter  prometheus.Counter
	backlog       prometheus.Gauge
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers the collectors and targets gatewayURL. jobName
// defaults to "events2db"; grouping adds extra Pushgateway grouping labels
// such as the destination table.
func NewBackend(jobName, gatewayURL string, grouping map[string]string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "events2db"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		reg: reg,
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Pipeline step duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Event counts by kind (received, inserted, duplicate, dropped).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches written to the sink.",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metrics.BacklogEvents,
			Help: "Events the sink lagged behind the store at startup.",
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step summary":   b.stepDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"backlog gauge":  b.backlog,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	b.pusher = push.New(gatewayURL, jobName).Gatherer(reg)
	for k, v := range grouping {
		b.pusher = b.pusher.Grouping(k, v)
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDuration:
		b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
	case metrics.BacklogEvents:
		b.backlog.Set(value)
	}
}

// Flush pushes the registry to the Pushgateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
