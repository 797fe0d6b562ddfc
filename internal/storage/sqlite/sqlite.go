// Package sqlite implements the SQLite sink on modernc.org/sqlite. Batches are
// written inside one transaction with multi-row INSERT ... ON CONFLICT DO
// NOTHING statements.
package sqlite

import (
	"context"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Actyx/events-to-db/internal/ddl"
	"github.com/Actyx/events-to-db/internal/storage"
	"github.com/Actyx/events-to-db/internal/storage/sqldb"
)

// rowsPerStatement keeps 7 bound values per row well below SQLite's
// variable limit.
const rowsPerStatement = 500

var dialect = sqldb.Dialect{
	DDL:   ddl.SQLite,
	Write: sqldb.ValuesWriter(ddl.SQLite, "INSERT INTO", "ON CONFLICT DO NOTHING", rowsPerStatement),
}

// Config holds the SQLite sink configuration.
type Config struct {
	// DSN is a file path or URI, e.g. "events.db" or "file:events.db?_pragma=busy_timeout(5000)".
	DSN   string
	Table string

	SkipEnsureTable bool
}

// Open opens the database file and prepares the table.
func Open(ctx context.Context, cfg Config) (*sqldb.Sink, error) {
	return sqldb.Open(ctx, dialect, sqldb.Options{
		Driver:          "sqlite",
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		SkipEnsureTable: cfg.SkipEnsureTable,
	})
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		dsn := cfg.DSN
		if dsn == "" {
			// DB_NAME doubles as the file name.
			dsn = cfg.Database
		}
		return Open(ctx, Config{DSN: dsn, Table: cfg.Table, SkipEnsureTable: cfg.SkipEnsureTable})
	})
}
