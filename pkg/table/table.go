// Package table provides the typed, column-ordered table produced by the
// normalizer and consumed by the order preprocessor.
package table

import (
	"fmt"
	"slices"
	"time"

	"nakula/internal/coerce"
	"nakula/pkg/core"
)

// ColumnType is the canonical type of every non-missing cell in a column.
type ColumnType int

const (
	// TypeAny holds opaque pass-through values such as nested mappings.
	TypeAny ColumnType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeDuration
)

// String returns the lowercase name of the column type.
func (t ColumnType) String() string {
	return [...]string{"any", "string", "integer", "float", "boolean", "timestamp", "duration"}[t]
}

// Column is a named, typed sequence of cells. A nil cell is missing.
type Column struct {
	Name   string
	Type   ColumnType
	Values []any

	typed bool
}

// Empty reports whether every cell of the column is missing.
func (c *Column) Empty() bool {
	for _, v := range c.Values {
		if v != nil {
			return false
		}
	}
	return true
}

// Table is an ordered sequence of rows over a fixed, ordered column schema.
// Every column has exactly Len() cells.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New returns an empty table with zero rows and zero columns.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// NewRows returns a table with n rows and no columns yet. Columns added
// later must hold n values.
func NewRows(n int) *Table {
	t := New()
	t.rows = n
	return t
}

// FromRecords builds a table from records, inferring one type per column.
// Columns appear in first-seen order; keys within a record are sorted.
func FromRecords(records []core.Record) *Table {
	t := New()
	for _, rec := range records {
		t.AppendRow(rec)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.rows
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.columns)
}

// Columns returns the column names in schema order.
func (t *Table) Columns() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AddColumn appends a column. The first column of an empty table fixes the
// row count; later columns must match it.
func (t *Table) AddColumn(name string, typ ColumnType, values []any) error {
	if _, exists := t.index[name]; exists {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(t.columns) == 0 && t.rows == 0 {
		t.rows = len(values)
	}
	if len(values) != t.rows {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.rows)
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, &Column{Name: name, Type: typ, Values: values, typed: true})
	return nil
}

// SetColumn replaces the named column in place or appends it when absent.
func (t *Table) SetColumn(name string, typ ColumnType, values []any) error {
	i, ok := t.index[name]
	if !ok {
		return t.AddColumn(name, typ, values)
	}
	if len(values) != t.rows {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.rows)
	}
	t.columns[i] = &Column{Name: name, Type: typ, Values: values, typed: true}
	return nil
}

// DropColumn removes the named column. Dropping a missing column is a no-op.
func (t *Table) DropColumn(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.columns = slices.Delete(t.columns, i, i+1)
	t.reindex()
}

// Select returns a new table restricted to the named columns, in that order.
// Names that do not exist are added as all-missing columns.
func (t *Table) Select(names ...string) *Table {
	out := New()
	out.rows = t.rows
	for _, name := range names {
		if c, ok := t.Column(name); ok {
			_ = out.AddColumn(name, c.Type, slices.Clone(c.Values))
			continue
		}
		_ = out.AddColumn(name, TypeAny, make([]any, t.rows))
	}
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		t.index[c.Name] = i
	}
}

// Get returns the cell at row, or nil when the row or column is missing.
func (t *Table) Get(row int, name string) any {
	c, ok := t.Column(name)
	if !ok || row < 0 || row >= t.rows {
		return nil
	}
	return c.Values[row]
}

// Set overwrites a cell of an existing column.
func (t *Table) Set(row int, name string, v any) error {
	c, ok := t.Column(name)
	if !ok {
		return fmt.Errorf("column %q not found", name)
	}
	if row < 0 || row >= t.rows {
		return fmt.Errorf("row %d out of range [0,%d)", row, t.rows)
	}
	c.Values[row] = v
	return nil
}

// Float reads a cell as float64.
func (t *Table) Float(row int, name string) (float64, bool) {
	return coerce.Float(t.Get(row, name))
}

// String reads a cell as a non-empty string.
func (t *Table) String(row int, name string) (string, bool) {
	s, ok := t.Get(row, name).(string)
	return s, ok && s != ""
}

// Time reads a cell as a UTC timestamp.
func (t *Table) Time(row int, name string) (time.Time, bool) {
	return coerce.Timestamp(t.Get(row, name))
}

// AppendRow appends one record. Unseen keys become new columns backfilled
// with missing cells; columns absent from the record get a missing cell.
func (t *Table) AppendRow(rec core.Record) {
	for _, k := range sortedKeys(rec) {
		if _, ok := t.index[k]; ok {
			continue
		}
		t.index[k] = len(t.columns)
		t.columns = append(t.columns, &Column{Name: k, Values: make([]any, t.rows)})
	}
	for _, c := range t.columns {
		v := rec[c.Name]
		switch {
		case v == nil:
		case !c.typed:
			c.Type = Infer(v)
			c.typed = true
		case c.Type != TypeAny && Infer(v) != c.Type:
			c.Type = TypeAny
		}
		c.Values = append(c.Values, v)
	}
	t.rows++
}

// Row returns row i as a record holding every column, missing cells as nil.
func (t *Table) Row(i int) core.Record {
	rec := make(core.Record, len(t.columns))
	for _, c := range t.columns {
		rec[c.Name] = c.Values[i]
	}
	return rec
}

// Records returns every row as a record.
func (t *Table) Records() []core.Record {
	out := make([]core.Record, t.rows)
	for i := range out {
		out[i] = t.Row(i)
	}
	return out
}

// Clone returns a deep copy of the column structure. Cell values are shared.
func (t *Table) Clone() *Table {
	out := New()
	out.rows = t.rows
	for _, c := range t.columns {
		_ = out.AddColumn(c.Name, c.Type, slices.Clone(c.Values))
	}
	return out
}

// Infer returns the column type of a single non-missing value.
func Infer(v any) ColumnType {
	switch v.(type) {
	case string:
		return TypeString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case bool:
		return TypeBool
	case time.Time:
		return TypeTimestamp
	case time.Duration:
		return TypeDuration
	}
	return TypeAny
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
