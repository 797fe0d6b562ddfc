package ddl

// Logical column types. Dialects map them onto concrete SQL types.
const (
	TypeKey    = "key"    // text that takes part in a primary key
	TypeText   = "text"   // unbounded text
	TypeBigInt = "bigint" // 64-bit signed integer
	TypeJSON   = "json"   // structured payload
)

// ColumnDef describes a single column of a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - Type: one of the Type* constants
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
type ColumnDef struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// TableDef holds a possibly schema-qualified table name ("schema.table") and
// an ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// EventsTable is the destination table every sink writes to. Rows are keyed
// by (source, psn) so redelivered events collide instead of duplicating.
func EventsTable(fqn string) TableDef {
	return TableDef{
		FQN: fqn,
		Columns: []ColumnDef{
			{Name: "source", Type: TypeKey, PrimaryKey: true},
			{Name: "semantics", Type: TypeText},
			{Name: "name", Type: TypeText},
			{Name: "seq", Type: TypeBigInt},
			{Name: "psn", Type: TypeBigInt, PrimaryKey: true},
			{Name: "timestamp", Type: TypeBigInt},
			{Name: "payload", Type: TypeJSON, Nullable: true},
		},
	}
}
