// Package ddl defines a small table model and renders CREATE TABLE
// statements for the SQL dialects the sinks support.
//
// Every statement is idempotent: running it against a database that already
// holds the table is a no-op. Schema migration is out of scope; an existing
// table with a different shape is left untouched.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect captures the per-engine differences that matter for rendering.
type Dialect struct {
	Name string
	// Quote escapes a single identifier segment.
	Quote func(string) string
	// Types maps the logical Type* constants onto SQL types.
	Types map[string]string
	// Guard wraps a plain CREATE TABLE so it only runs when the table is
	// missing. quotedFQN is already quoted.
	Guard func(quotedFQN, rawFQN, createStmt string) string
}

func doubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func ifNotExists(quotedFQN, _ string, stmt string) string {
	return strings.Replace(stmt, "CREATE TABLE "+quotedFQN, "CREATE TABLE IF NOT EXISTS "+quotedFQN, 1)
}

// Postgres renders jsonb payloads.
var Postgres = Dialect{
	Name:  "postgres",
	Quote: doubleQuote,
	Types: map[string]string{
		TypeKey:    "text",
		TypeText:   "text",
		TypeBigInt: "bigint",
		TypeJSON:   "jsonb",
	},
	Guard: ifNotExists,
}

// SQLite stores payloads as TEXT; json_valid is enforced at transform time.
var SQLite = Dialect{
	Name:  "sqlite",
	Quote: doubleQuote,
	Types: map[string]string{
		TypeKey:    "TEXT",
		TypeText:   "TEXT",
		TypeBigInt: "INTEGER",
		TypeJSON:   "TEXT",
	},
	Guard: ifNotExists,
}

// MySQL needs a bounded key column; TEXT cannot be part of a primary key.
var MySQL = Dialect{
	Name: "mysql",
	Quote: func(id string) string {
		return "`" + strings.ReplaceAll(id, "`", "``") + "`"
	},
	Types: map[string]string{
		TypeKey:    "VARCHAR(255)",
		TypeText:   "TEXT",
		TypeBigInt: "BIGINT",
		TypeJSON:   "JSON",
	},
	Guard: ifNotExists,
}

// MSSQL has no CREATE TABLE IF NOT EXISTS; the statement is guarded with
// OBJECT_ID instead.
var MSSQL = Dialect{
	Name: "mssql",
	Quote: func(id string) string {
		return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
	},
	Types: map[string]string{
		TypeKey:    "NVARCHAR(450)",
		TypeText:   "NVARCHAR(MAX)",
		TypeBigInt: "BIGINT",
		TypeJSON:   "NVARCHAR(MAX)",
	},
	Guard: func(quotedFQN, rawFQN, stmt string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s",
			strings.ReplaceAll(quotedFQN, "'", "''"), stmt)
	},
}

// QuoteFQN quotes every dot-separated segment of fqn. Empty segments are
// dropped.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.Quote(p))
	}
	return strings.Join(out, ".")
}

// QuoteColumns quotes each column name and joins them with ", ".
func (d Dialect) QuoteColumns(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}

// BuildCreateTableSQL renders a guarded CREATE TABLE statement:
//
//	CREATE TABLE IF NOT EXISTS "t" (
//	  "col1" TYPE NOT NULL,
//	  "col2" TYPE,
//	  PRIMARY KEY ("pk1", "pk2")
//	)
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s ddl: table FQN must not be empty", d.Name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, 2)
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s ddl: column with empty name in table %s", d.Name, fqn)
		}
		typ, ok := d.Types[c.Type]
		if !ok {
			return "", fmt.Errorf("%s ddl: column %s has unknown type %q", d.Name, name, c.Type)
		}

		def := d.Quote(name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
		if c.PrimaryKey {
			pks = append(pks, d.Quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	stmt := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoted, strings.Join(cols, ",\n  "))
	if d.Guard != nil {
		stmt = d.Guard(quoted, fqn, stmt)
	}
	return stmt, nil
}
