// Package mysql implements the MySQL/MariaDB sink on go-sql-driver/mysql.
//
// Key collisions are absorbed with ON DUPLICATE KEY UPDATE on the key column
// itself, which leaves the stored row unchanged and reports zero affected
// rows for it. INSERT IGNORE is avoided because it also downgrades unrelated
// errors (bad JSON, truncation) to warnings.
package mysql

import (
	"context"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/Actyx/events-to-db/internal/ddl"
	"github.com/Actyx/events-to-db/internal/storage"
	"github.com/Actyx/events-to-db/internal/storage/sqldb"
)

const rowsPerStatement = 1000

var dialect = sqldb.Dialect{
	DDL: ddl.MySQL,
	Write: sqldb.ValuesWriter(ddl.MySQL, "INSERT INTO",
		"ON DUPLICATE KEY UPDATE "+ddl.MySQL.Quote("source")+" = "+ddl.MySQL.Quote("source"),
		rowsPerStatement),
}

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

// FormatDSN renders a driver DSN from the discrete fields when DSN is empty.
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
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = c.Database
	return mc.FormatDSN()
}

// Open connects and prepares the table.
func Open(ctx context.Context, cfg Config) (*sqldb.Sink, error) {
	return sqldb.Open(ctx, dialect, sqldb.Options{
		Driver:          "mysql",
		DSN:             cfg.FormatDSN(),
		Table:           cfg.Table,
		SkipEnsureTable: cfg.SkipEnsureTable,
	})
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
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
