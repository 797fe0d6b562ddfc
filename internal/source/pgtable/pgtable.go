// Package pgtable reads events from a Postgres table with the same layout the
// sinks write (source, semantics, name, seq, psn, timestamp, payload). It lets
// one events table be replicated into another database.
//
// The table is polled: each round asks for the per-source maximum psn and
// then pages through every source that moved past its cursor, in psn order.
package pgtable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Actyx/events-to-db/internal/event"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/source"
)

// Config configures the table source.
type Config struct {
	DSN   string
	Table string

	// PollInterval is the pause between rounds that found nothing new.
	// Defaults to 1s.
	PollInterval time.Duration
	// PageSize bounds the rows fetched per query. Defaults to 1000.
	PageSize int
	// Follow keeps polling for new rows. When false the subscription ends
	// once it has caught up with the offsets seen at its first round.
	Follow bool
}

// Source is a polling table reader.
type Source struct {
	db  *sql.DB
	cfg Config

	offsetsSQL string
	pageSQL    string
}

var _ source.Source = (*Source)(nil)

// Open connects to the database holding the table.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("pgtable: table is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgtable: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgtable: ping: %w", err)
	}

	t := quoteQualified(cfg.Table)
	return &Source{
		db:         db,
		cfg:        cfg,
		offsetsSQL: fmt.Sprintf(`SELECT source, MAX(psn) FROM %s GROUP BY source`, t),
		pageSQL: fmt.Sprintf(`SELECT source, semantics, name, seq, psn, timestamp, payload
FROM %s WHERE source = $1 AND psn > $2 ORDER BY psn ASC LIMIT $3`, t),
	}, nil
}

// quoteQualified quotes each dot-separated part of a table name.
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Close closes the database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// Offsets returns MAX(psn) per source.
func (s *Source) Offsets(ctx context.Context) (offsets.Map, error) {
	rs, err := s.db.QueryContext(ctx, s.offsetsSQL)
	if err != nil {
		return offsets.Map{}, fmt.Errorf("pgtable: query offsets: %w", err)
	}
	defer rs.Close()

	m := make(map[string]offsets.Offset)
	for rs.Next() {
		var (
			src string
			psn int64
		)
		if err := rs.Scan(&src, &psn); err != nil {
			return offsets.Map{}, fmt.Errorf("pgtable: scan offsets: %w", err)
		}
		m[src] = offsets.Offset(psn)
	}
	if err := rs.Err(); err != nil {
		return offsets.Map{}, fmt.Errorf("pgtable: read offsets: %w", err)
	}
	return offsets.New(m), nil
}

// SubscribeFrom streams rows after from. Sources are visited in name order
// each round; within a source rows arrive in psn order.
func (s *Source) SubscribeFrom(ctx context.Context, from offsets.Map, filters []event.Filter) (source.Subscription, error) {
	return source.Start(ctx, func(ctx context.Context, emit source.Emit) error {
		cursor := from
		var target offsets.Map
		first := true

		for {
			head, err := s.Offsets(ctx)
			if err != nil {
				return err
			}
			if first {
				target = head
				first = false
			}

			progressed := false
			for _, src := range head.Sources() {
				hi, _ := head.Get(src)
				for {
					lo, ok := cursor.Get(src)
					if ok && lo >= hi {
						break
					}
					if !ok {
						lo = offsets.Zero - 1
					}
					n, last, err := s.page(ctx, src, lo, filters, emit)
					if err != nil {
						return err
					}
					if n == 0 {
						break
					}
					cursor = cursor.With(src, last)
					progressed = true
				}
			}

			if !s.cfg.Follow && caughtUp(cursor, target) {
				return nil
			}
			if progressed {
				continue
			}
			select {
			case <-time.After(s.cfg.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

// page emits one page of rows for src after lo. It returns how many rows were
// read and the last psn seen; filtered-out rows still advance the cursor.
func (s *Source) page(ctx context.Context, src string, lo offsets.Offset, filters []event.Filter, emit source.Emit) (int, offsets.Offset, error) {
	rs, err := s.db.QueryContext(ctx, s.pageSQL, src, int64(lo), s.cfg.PageSize)
	if err != nil {
		return 0, lo, fmt.Errorf("pgtable: query events for %s: %w", src, err)
	}
	defer rs.Close()

	n, last := 0, lo
	for rs.Next() {
		var (
			e       event.Event
			seq     int64
			psn     int64
			payload []byte
		)
		if err := rs.Scan(&e.SourceID, &e.Semantics, &e.Name, &seq, &psn, &e.Timestamp, &payload); err != nil {
			return n, last, fmt.Errorf("pgtable: scan event row: %w", err)
		}
		if payload == nil {
			payload = []byte("null")
		}
		e.Lamport = uint64(seq)
		e.Offset = offsets.Offset(psn)
		e.Payload = payload
		n++
		last = e.Offset

		if !event.MatchesAny(filters, e) {
			continue
		}
		if !emit(e) {
			return n, last, ctx.Err()
		}
	}
	if err := rs.Err(); err != nil {
		return n, last, fmt.Errorf("pgtable: read event rows: %w", err)
	}
	return n, last, nil
}

func caughtUp(cursor, target offsets.Map) bool {
	return offsets.Delta(target, cursor) == 0
}
