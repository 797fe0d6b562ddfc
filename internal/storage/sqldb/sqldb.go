// Package sqldb is the shared database/sql plumbing behind the SQLite, MySQL
// and SQL Server sinks. Each backend supplies its DDL dialect and a Write
// function that performs the insert-or-ignore inside the batch transaction.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Actyx/events-to-db/internal/ddl"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/rows"
	"github.com/Actyx/events-to-db/internal/storage"
)

// WriteFn inserts b into table within tx, skipping rows whose key exists.
// It returns the number of rows added.
type WriteFn func(ctx context.Context, tx *sql.Tx, table string, b rows.Batch) (int64, error)

// Dialect describes one backend.
type Dialect struct {
	DDL   ddl.Dialect
	Write WriteFn
}

// Options configure Open.
type Options struct {
	Driver          string
	DSN             string
	Table           string
	SkipEnsureTable bool
}

// sqlOpen is a test hook.
var sqlOpen = sql.Open

// Sink is a storage.Sink over a single database/sql connection.
type Sink struct {
	db    *sql.DB
	table string
	d     Dialect
}

var _ storage.Sink = (*Sink)(nil)

// Open connects, pins the pool to one connection and creates the table
// unless asked not to.
func Open(ctx context.Context, d Dialect, opts Options) (*Sink, error) {
	name := d.DDL.Name
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", name)
	}
	if strings.TrimSpace(opts.Table) == "" {
		return nil, fmt.Errorf("%s: table is required", name)
	}

	db, err := sqlOpen(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", name, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", name, err)
	}

	s := &Sink{db: db, table: opts.Table, d: d}
	if !opts.SkipEnsureTable {
		if err := s.ensureTable(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// DB exposes the underlying handle for tests and maintenance.
func (s *Sink) DB() *sql.DB { return s.db }

func (s *Sink) ensureTable(ctx context.Context) error {
	stmt, err := ddl.BuildCreateTableSQL(s.d.DDL, ddl.EventsTable(s.table))
	if err != nil {
		return fmt.Errorf("%s: build ddl: %w", s.d.DDL.Name, err)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: create table %s: %w", s.d.DDL.Name, s.table, err)
	}
	return nil
}

// FetchOffsets returns MAX(psn) per source.
func (s *Sink) FetchOffsets(ctx context.Context) (offsets.Map, error) {
	q := fmt.Sprintf("SELECT %s, MAX(%s) FROM %s GROUP BY %s",
		s.d.DDL.Quote("source"), s.d.DDL.Quote("psn"), s.d.DDL.QuoteFQN(s.table), s.d.DDL.Quote("source"))

	rs, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return offsets.Map{}, fmt.Errorf("%s: query offsets: %w", s.d.DDL.Name, err)
	}
	defer rs.Close()

	m := make(map[string]offsets.Offset)
	for rs.Next() {
		var (
			src string
			psn int64
		)
		if err := rs.Scan(&src, &psn); err != nil {
			return offsets.Map{}, fmt.Errorf("%s: scan offsets: %w", s.d.DDL.Name, err)
		}
		m[src] = offsets.Zero + offsets.Offset(psn)
	}
	if err := rs.Err(); err != nil {
		return offsets.Map{}, fmt.Errorf("%s: read offsets: %w", s.d.DDL.Name, err)
	}
	return offsets.New(m), nil
}

// Insert runs the dialect's Write in one transaction.
func (s *Sink) Insert(ctx context.Context, b rows.Batch) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	name := s.d.DDL.Name

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", name, err)
	}
	n, err := s.d.Write(ctx, tx, s.table, b)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: insert %d rows: %w", name, b.Len(), err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", name, err)
	}
	return n, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

// ValuesWriter returns a WriteFn that issues multi-row
//
//	<verb> <table> (<cols>) VALUES (?, ...), (?, ...) <suffix>
//
// statements of at most chunk rows each, using '?' placeholders.
func ValuesWriter(d ddl.Dialect, verb, suffix string, chunk int) WriteFn {
	return func(ctx context.Context, tx *sql.Tx, table string, b rows.Batch) (int64, error) {
		head := fmt.Sprintf("%s %s (%s) VALUES ", verb, d.QuoteFQN(table), d.QuoteColumns(rows.Columns))
		tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(rows.Columns)), ", ") + ")"

		var total int64
		for start := 0; start < b.Len(); start += chunk {
			end := min(start+chunk, b.Len())

			var sb strings.Builder
			sb.WriteString(head)
			args := make([]any, 0, (end-start)*len(rows.Columns))
			for i := start; i < end; i++ {
				if i > start {
					sb.WriteString(", ")
				}
				sb.WriteString(tuple)
				args = append(args, b.Row(i)...)
			}
			if suffix != "" {
				sb.WriteByte(' ')
				sb.WriteString(suffix)
			}

			res, err := tx.ExecContext(ctx, sb.String(), args...)
			if err != nil {
				return total, fmt.Errorf("rows %d..%d: %w", start, end-1, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return total, fmt.Errorf("rows affected: %w", err)
			}
			total += n
		}
		return total, nil
	}
}
