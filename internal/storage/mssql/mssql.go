// Package mssql implements the SQL Server sink on go-mssqldb.
//
// Each batch is bulk-copied into a session temp table and then moved into the
// destination with INSERT ... SELECT ... WHERE NOT EXISTS, all inside the
// batch transaction. The temp table is dropped before commit.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/Actyx/events-to-db/internal/ddl"
	"github.com/Actyx/events-to-db/internal/rows"
	"github.com/Actyx/events-to-db/internal/storage"
	"github.com/Actyx/events-to-db/internal/storage/sqldb"
)

const tempTable = "#events_batch"

var dialect = sqldb.Dialect{DDL: ddl.MSSQL, Write: write}

// Config holds the connection coordinates; DSN wins when set.
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

// FormatDSN renders a sqlserver:// URL from the discrete fields when DSN is
// empty.
func (c Config) FormatDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 1433
	}
	u := url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	if c.Database != "" {
		u.RawQuery = url.Values{"database": {c.Database}}.Encode()
	}
	return u.String()
}

// Open validates the DSN, connects and prepares the table.
func Open(ctx context.Context, cfg Config) (*sqldb.Sink, error) {
	dsn := cfg.FormatDSN()
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	return sqldb.Open(ctx, dialect, sqldb.Options{
		Driver:          "sqlserver",
		DSN:             dsn,
		Table:           cfg.Table,
		SkipEnsureTable: cfg.SkipEnsureTable,
	})
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
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

func tempTableSQL() string {
	d := ddl.MSSQL
	td := ddl.EventsTable(tempTable)
	cols := ""
	for i, c := range td.Columns {
		if i > 0 {
			cols += ", "
		}
		cols += d.Quote(c.Name) + " " + d.Types[c.Type]
	}
	return fmt.Sprintf("IF OBJECT_ID('tempdb..%[1]s') IS NOT NULL DROP TABLE %[1]s; CREATE TABLE %[1]s (%[2]s)", tempTable, cols)
}

func mergeSQL(table string) string {
	d := ddl.MSSQL
	cols := d.QuoteColumns(rows.Columns)
	return fmt.Sprintf(
		`INSERT INTO %[1]s (%[2]s)
SELECT %[2]s FROM %[3]s AS s
WHERE NOT EXISTS (
  SELECT 1 FROM %[1]s AS d WITH (UPDLOCK, HOLDLOCK)
  WHERE d.%[4]s = s.%[4]s AND d.%[5]s = s.%[5]s
)`,
		d.QuoteFQN(table), cols, tempTable, d.Quote("source"), d.Quote("psn"))
}

func write(ctx context.Context, tx *sql.Tx, table string, b rows.Batch) (int64, error) {
	b = b.Unique()

	if _, err := tx.ExecContext(ctx, tempTableSQL()); err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(tempTable, mssql.BulkOptions{}, rows.Columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk copy: %w", err)
	}
	for i := 0; i < b.Len(); i++ {
		if _, err := stmt.ExecContext(ctx, b.Row(i)...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("bulk close: %w", err)
	}

	res, err := tx.ExecContext(ctx, mergeSQL(table))
	if err != nil {
		return 0, fmt.Errorf("merge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+tempTable); err != nil {
		return 0, fmt.Errorf("drop temp: %w", err)
	}
	return n, nil
}
