// Package schema holds the static description of the queryable tables:
// column names, semantic types, and which columns accept filters or sorting.
// The registry is fixed at process start and never mutated.
package schema

import "fmt"

// ColumnType is the semantic type of a column as seen by the filter layer.
type ColumnType string

const (
	TypeInteger ColumnType = "integer"
	TypeText    ColumnType = "text"
	TypeDate    ColumnType = "date"
	TypeDecimal ColumnType = "decimal"
)

// MatchMode selects the predicate shape compiled for a filterable column.
type MatchMode string

const (
	// MatchRange compiles to an inclusive BETWEEN on two bounds.
	MatchRange MatchMode = "range"
	// MatchSubstring compiles to a case-insensitive containment match.
	MatchSubstring MatchMode = "substring"
	// MatchEnum compiles to a case-insensitive equality match.
	MatchEnum MatchMode = "enum"
)

// ColumnDescriptor describes a single table column. Min and Max bound the
// accepted values of bounded integer range columns; both zero means unbounded.
type ColumnDescriptor struct {
	Name       string
	Type       ColumnType
	Filterable bool
	Sortable   bool
	Match      MatchMode
	Min        int64
	Max        int64
}

// Bounded reports whether the column carries value bounds.
func (c *ColumnDescriptor) Bounded() bool {
	return c.Min != 0 || c.Max != 0
}

// TableDescriptor describes one registered table. Columns is ordered; the
// order defines the column order of query results and CSV export headers.
type TableDescriptor struct {
	Name      string
	KeyColumn string
	Columns   []ColumnDescriptor

	byName map[string]int
}

func newTableDescriptor(name, key string, columns []ColumnDescriptor) *TableDescriptor {
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		byName[c.Name] = i
	}
	return &TableDescriptor{
		Name:      name,
		KeyColumn: key,
		Columns:   columns,
		byName:    byName,
	}
}

// Column returns the descriptor of the named column.
func (t *TableDescriptor) Column(name string) (*ColumnDescriptor, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return &t.Columns[i], true
}

// ColumnNames returns the column names in declaration order.
func (t *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// EnumColumns returns the names of the columns whose filter mode is enum,
// in declaration order. These are the columns that expose option lists.
func (t *TableDescriptor) EnumColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Filterable && c.Match == MatchEnum {
			names = append(names, c.Name)
		}
	}
	return names
}

// Sortable reports whether the named column exists and accepts ORDER BY.
func (t *TableDescriptor) Sortable(name string) bool {
	c, ok := t.Column(name)
	return ok && c.Sortable
}

// UnknownTableError reports a lookup of a table name that is not registered.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table: %q", e.Table)
}
