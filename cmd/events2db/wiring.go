package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Actyx/events-to-db/internal/config"
	"github.com/Actyx/events-to-db/internal/metrics"
	"github.com/Actyx/events-to-db/internal/metrics/datadog"
	"github.com/Actyx/events-to-db/internal/metrics/prompush"
	"github.com/Actyx/events-to-db/internal/source"
	"github.com/Actyx/events-to-db/internal/source/httpes"
	"github.com/Actyx/events-to-db/internal/source/pgtable"
)

// openSource is a variable so tests can substitute an in-memory store.
var openSource = func(ctx context.Context, cfg config.Source) (source.Source, func(), error) {
	switch cfg.Kind {
	case config.SourceEventService:
		c, err := httpes.NewClient(httpes.Config{BaseURI: cfg.URI, RequestTimeout: 30 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	case config.SourcePGTable:
		s, err := pgtable.Open(ctx, pgtable.Config{DSN: cfg.DSN, Table: cfg.Table, Follow: cfg.Follow})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// setupMetrics installs the configured backend. Failures only disable
// metrics. The returned func flushes and releases the backend.
func setupMetrics(cfg config.Metrics, table, runID string, log *zap.Logger) func() {
	log = log.Named("metrics")
	switch cfg.Backend {
	case "prom":
		b, err := prompush.NewBackend(cfg.Job, cfg.PushgatewayURL, map[string]string{"table": table})
		if err != nil {
			log.Warn("prom push backend unavailable; metrics disabled", zap.Error(err))
			return func() {}
		}
		log.Info("metrics enabled", zap.String("backend", cfg.Backend), zap.String("url", cfg.PushgatewayURL), zap.String("job", cfg.Job))
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("flush failed", zap.Error(err))
			}
		}

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			GlobalTags: []string{"job:" + cfg.Job, "table:" + table, "run_id:" + runID},
		})
		if err != nil {
			log.Warn("datadog backend unavailable; metrics disabled", zap.Error(err))
			return func() {}
		}
		log.Info("metrics enabled", zap.String("backend", cfg.Backend), zap.String("addr", cfg.DatadogAddr))
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("flush failed", zap.Error(err))
			}
			if err := b.Close(); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}

	default:
		log.Debug("metrics disabled", zap.String("backend", cfg.Backend))
		return func() {}
	}
}
