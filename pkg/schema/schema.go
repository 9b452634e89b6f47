// Package schema defines the declarative data model: tables, columns,
// and views. Descriptors are plain records built with ordinary Go
// functions rather than a class-based DSL, then handed to a Schema.
package schema

import (
	"fmt"

	"github.com/lucasastorian/veclite/pkg/verr"
)

// ColumnType is the semantic type of a column.
type ColumnType int

const (
	Integer ColumnType = iota
	Text
	Boolean
	Real
	Blob
	JSON
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Text:
		return "TEXT"
	case Boolean:
		return "BOOLEAN"
	case Real:
		return "REAL"
	case Blob:
		return "BLOB"
	case JSON:
		return "TEXT" // JSON stored as TEXT, queried via json_extract
	default:
		return "TEXT"
	}
}

// VectorConfig names the Embedder a vector-enabled column uses and the
// fixed dimension D that column's VectorFile was created with.
type VectorConfig struct {
	Embedder string
	Dim      int
}

// Column describes one column of a table.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	Index      bool
	FTS        bool
	Unique     bool
	Nullable   bool
	ForeignKey string // "table.column", empty if none
	Vector     *VectorConfig
}

// ColumnOption mutates a Column at construction time.
type ColumnOption func(*Column)

func WithPrimaryKey() ColumnOption { return func(c *Column) { c.PrimaryKey = true } }
func WithIndex() ColumnOption      { return func(c *Column) { c.Index = true } }
func WithFTS() ColumnOption        { return func(c *Column) { c.FTS = true } }
func WithUnique() ColumnOption     { return func(c *Column) { c.Unique = true } }
func WithNullable() ColumnOption   { return func(c *Column) { c.Nullable = true } }

func WithForeignKey(ref string) ColumnOption {
	return func(c *Column) { c.ForeignKey = ref }
}

// WithVector marks the column as vector-enabled, backed by a VectorFile
// with the given embedder name and fixed dimension.
func WithVector(embedder string, dim int) ColumnOption {
	return func(c *Column) { c.Vector = &VectorConfig{Embedder: embedder, Dim: dim} }
}

func newColumn(name string, t ColumnType, opts ...ColumnOption) Column {
	c := Column{Name: name, Type: t}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Col constructors, one per semantic type.
func Int(name string, opts ...ColumnOption) Column  { return newColumn(name, Integer, opts...) }
func Str(name string, opts ...ColumnOption) Column  { return newColumn(name, Text, opts...) }
func Bool(name string, opts ...ColumnOption) Column { return newColumn(name, Boolean, opts...) }
func Flt(name string, opts ...ColumnOption) Column  { return newColumn(name, Real, opts...) }
func Bytes(name string, opts ...ColumnOption) Column { return newColumn(name, Blob, opts...) }
func Obj(name string, opts ...ColumnOption) Column  { return newColumn(name, JSON, opts...) }

// Table is an ordered list of columns plus a designated primary key.
type Table struct {
	Name    string
	Columns []Column
}

// NewTable builds a table descriptor from an ordered column list.
func NewTable(name string, columns ...Column) *Table {
	return &Table{Name: name, Columns: columns}
}

// PrimaryKey returns the name of the table's primary-key column, or ""
// if none is declared.
func (t *Table) PrimaryKey() string {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

// Column looks up a column descriptor by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// VectorColumns returns all vector-enabled columns on the table.
func (t *Table) VectorColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.Vector != nil {
			out = append(out, c)
		}
	}
	return out
}

// FTSColumns returns all full-text-indexed columns on the table.
func (t *Table) FTSColumns() []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.FTS {
			out = append(out, c)
		}
	}
	return out
}

// ForeignKeys returns the (column, referencedTable, referencedColumn)
// triples declared on the table.
func (t *Table) ForeignKeys() []ForeignKeyEdge {
	var out []ForeignKeyEdge
	for _, c := range t.Columns {
		if c.ForeignKey == "" {
			continue
		}
		table, col, ok := splitRef(c.ForeignKey)
		if !ok {
			continue
		}
		out = append(out, ForeignKeyEdge{FromTable: t.Name, FromColumn: c.Name, ToTable: table, ToColumn: col})
	}
	return out
}

// ForeignKeyEdge is one declared foreign-key relationship.
type ForeignKeyEdge struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

func splitRef(ref string) (table, column string, ok bool) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

// Field is a view's projection of one (table, column) pair under an alias.
type Field struct {
	Alias  string
	Table  string
	Column string
}

// ViewField constructs a Field projection.
func ViewField(alias, table, column string) Field {
	return Field{Alias: alias, Table: table, Column: column}
}

// View is a named projection over a tuple of base tables.
type View struct {
	Name   string
	Tables []string
	Fields []Field
}

// NewView builds a view descriptor.
func NewView(name string, tables []string, fields ...Field) *View {
	return &View{Name: name, Tables: tables, Fields: fields}
}

// IDField returns the view's "id" alias, if declared.
func (v *View) IDField() (Field, bool) {
	for _, f := range v.Fields {
		if f.Alias == "id" {
			return f, true
		}
	}
	return Field{}, false
}

// Schema maps table and view names to their descriptors.
type Schema struct {
	Tables []*Table
	Views  []*View

	tableIdx map[string]*Table
	viewIdx  map[string]*View
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{tableIdx: map[string]*Table{}, viewIdx: map[string]*View{}}
}

// AddTable registers a table descriptor. Fails if the table name is
// already registered or declares no primary key.
func (s *Schema) AddTable(t *Table) error {
	if _, exists := s.tableIdx[t.Name]; exists {
		return verr.Wrap(verr.KindSchema, "add_table", fmt.Errorf("table %q already registered", t.Name))
	}
	pk := t.PrimaryKey()
	if pk == "" {
		return verr.Wrap(verr.KindSchema, "add_table", fmt.Errorf("table %q has no primary key column", t.Name))
	}
	if pkCol, _ := t.Column(pk); pkCol.Type != Integer {
		return verr.Wrap(verr.KindSchema, "add_table",
			fmt.Errorf("table %q: primary key %q must be an integer column (rows carry a durable integer row id)", t.Name, pk))
	}
	s.Tables = append(s.Tables, t)
	if s.tableIdx == nil {
		s.tableIdx = map[string]*Table{}
	}
	s.tableIdx[t.Name] = t
	return nil
}

// AddView registers a view descriptor. Structural validation (field
// references, join connectivity, vector-id requirement) is performed
// by query.ViewResolver.Register, not here.
func (s *Schema) AddView(v *View) error {
	if _, exists := s.viewIdx[v.Name]; exists {
		return verr.Wrap(verr.KindSchema, "add_view", fmt.Errorf("view %q already registered", v.Name))
	}
	s.Views = append(s.Views, v)
	if s.viewIdx == nil {
		s.viewIdx = map[string]*View{}
	}
	s.viewIdx[v.Name] = v
	return nil
}

// Table looks up a table descriptor by name.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.tableIdx[name]
	return t, ok
}

// View looks up a view descriptor by name.
func (s *Schema) View(name string) (*View, bool) {
	v, ok := s.viewIdx[name]
	return v, ok
}

// IsView reports whether name refers to a registered view rather than
// a table.
func (s *Schema) IsView(name string) bool {
	_, ok := s.viewIdx[name]
	return ok
}
