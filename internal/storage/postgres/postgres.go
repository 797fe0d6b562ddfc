// Package postgres implements the Postgres sink on a single long-lived pgx
// connection.
//
// A batch is written with one statement that unnests the columnar arrays:
//
//	INSERT INTO t (source, semantics, name, seq, psn, timestamp, payload)
//	SELECT ... FROM unnest($1, ..., $7) ON CONFLICT DO NOTHING
//
// so the whole batch commits atomically and redelivered rows are absorbed by
// the (source, psn) primary key.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Actyx/events-to-db/internal/ddl"
	"github.com/Actyx/events-to-db/internal/offsets"
	"github.com/Actyx/events-to-db/internal/rows"
	"github.com/Actyx/events-to-db/internal/storage"
)

// Config holds the connection coordinates. DSN wins over the discrete fields.
type Config struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Table    string

	SkipEnsureTable bool
}

// ConnString renders a postgres:// URL from the discrete fields when DSN is
// empty.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	return u.String()
}

// conn is the subset of *pgx.Conn the sink needs.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// connect is a test hook.
var connect = func(ctx context.Context, connString string) (conn, error) {
	return pgx.Connect(ctx, connString)
}

// Sink writes row batches into a Postgres table.
type Sink struct {
	conn       conn
	table      string
	insertSQL  string
	offsetsSQL string
}

var _ storage.Sink = (*Sink)(nil)

// Open connects and, unless disabled, creates the table if it is missing.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("postgres: table is required")
	}
	c, err := connect(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", pgDetail(err))
	}
	s := &Sink{
		conn:       c,
		table:      cfg.Table,
		insertSQL:  insertSQL(cfg.Table),
		offsetsSQL: offsetsSQL(cfg.Table),
	}
	if !cfg.SkipEnsureTable {
		if err := s.ensureTable(ctx); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
	}
	return s, nil
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return Open(ctx, Config{
			DSN:             cfg.DSN,
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			Table:           cfg.Table,
			SkipEnsureTable: cfg.SkipEnsureTable,
		})
	})
}

func insertSQL(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (%s)
SELECT s, sem, n, q, p, ts, pl::jsonb
FROM unnest($1::text[], $2::text[], $3::text[], $4::int8[], $5::int8[], $6::int8[], $7::text[])
  AS u(s, sem, n, q, p, ts, pl)
ON CONFLICT DO NOTHING`,
		ddl.Postgres.QuoteFQN(table), ddl.Postgres.QuoteColumns(rows.Columns))
}

func offsetsSQL(table string) string {
	return fmt.Sprintf(`SELECT "source", MAX("psn") FROM %s GROUP BY "source"`, ddl.Postgres.QuoteFQN(table))
}

func (s *Sink) ensureTable(ctx context.Context) error {
	stmt, err := ddl.BuildCreateTableSQL(ddl.Postgres, ddl.EventsTable(s.table))
	if err != nil {
		return fmt.Errorf("postgres: build ddl: %w", err)
	}
	if _, err := s.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", s.table, pgDetail(err))
	}
	return nil
}

// FetchOffsets returns MAX(psn) per source.
func (s *Sink) FetchOffsets(ctx context.Context) (offsets.Map, error) {
	rs, err := s.conn.Query(ctx, s.offsetsSQL)
	if err != nil {
		return offsets.Map{}, fmt.Errorf("postgres: query offsets: %w", pgDetail(err))
	}
	defer rs.Close()

	m := make(map[string]offsets.Offset)
	for rs.Next() {
		var (
			src string
			psn int64
		)
		if err := rs.Scan(&src, &psn); err != nil {
			return offsets.Map{}, fmt.Errorf("postgres: scan offsets: %w", err)
		}
		m[src] = offsets.Zero + offsets.Offset(psn)
	}
	if err := rs.Err(); err != nil {
		return offsets.Map{}, fmt.Errorf("postgres: read offsets: %w", pgDetail(err))
	}
	return offsets.New(m), nil
}

// Insert writes b in one statement and reports the rows actually added.
func (s *Sink) Insert(ctx context.Context, b rows.Batch) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	payloads := make([]string, len(b.Payloads))
	for i, p := range b.Payloads {
		payloads[i] = string(p)
	}
	tag, err := s.conn.Exec(ctx, s.insertSQL,
		b.Sources, b.Semantics, b.Names, b.Lamports, b.Offsets, b.Timestamps, payloads)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert %d rows: %w", b.Len(), pgDetail(err))
	}
	return tag.RowsAffected(), nil
}

func (s *Sink) Close() error {
	return s.conn.Close(context.Background())
}

// pgDetail folds the server-side detail and SQLSTATE into the message while
// keeping err in the chain.
func pgDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (detail: %s, sqlstate: %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}
