// Package datadog sends pipeline metrics to a DogStatsD agent.
package datadog

import (
	"fmt"
	"sort"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/Actyx/events-to-db/internal/metrics"
)

// Config addresses the agent.
type Config struct {
	// Addr is host:port or unix:///path/to/socket.
	Addr string
	// Namespace is prepended to metric names; usually empty because the
	// names already carry the events2db_ prefix.
	Namespace string
	// GlobalTags are attached to every datagram, e.g. "table:events".
	GlobalTags []string
}

// client is the part of *statsd.Client the backend talks to.
type client interface {
	Count(name string, value int64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Flush() error
	Close() error
}

// Backend forwards metrics.Backend calls to DogStatsD. Gauges are used for
// point-in-time values such as the startup backlog.
type Backend struct {
	client client
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend dials the agent. DogStatsD is UDP by default so this only fails
// on a malformed address.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: agent address is empty")
	}
	c, err := statsd.New(cfg.Addr, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("datadog: dial %s: %w", cfg.Addr, err)
	}
	return &Backend{client: c}, nil
}

func clientOptions(cfg Config) []statsd.Option {
	opts := []statsd.Option{statsd.WithoutTelemetry()}
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	return opts
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	_ = b.client.Count(name, int64(delta), tags(labels), 1)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name == metrics.BacklogEvents {
		_ = b.client.Gauge(name, value, tags(labels), 1)
		return
	}
	_ = b.client.Histogram(name, value, tags(labels), 1)
}

// Flush sends whatever the client buffered. The client stays usable.
func (b *Backend) Flush() error { return b.client.Flush() }

// Close flushes and shuts the client down.
func (b *Backend) Close() error { return b.client.Close() }

// tags renders labels as sorted key:value pairs.
func tags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	keys := make([]string, 0, len(lbls))
	for k := range lbls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + ":" + lbls[k]
	}
	return out
}
