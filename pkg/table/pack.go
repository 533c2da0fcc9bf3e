package table

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"nakula/internal/coerce"
)

// Sep joins a dict-valued column name and its keys: params + postOnly
// becomes params_postOnly.
const Sep = "_"

// Pack collects every column named prefix_<key> into a single mapping column
// named prefix. Missing cells are skipped; timestamps and durations are
// rendered as milliseconds. An existing prefix column holding mappings is
// merged, with packed keys taking precedence. Rows left with no keys get a
// missing cell. The receiver is not modified.
func (t *Table) Pack(prefix string) (*Table, error) {
	lead := prefix + Sep
	var packed []*Column
	for _, c := range t.columns {
		if strings.HasPrefix(c.Name, lead) && len(c.Name) > len(lead) {
			packed = append(packed, c)
		}
	}
	base, hasBase := t.Column(prefix)
	if len(packed) == 0 && !hasBase {
		return t.Clone(), nil
	}

	values := make([]any, t.rows)
	for i := range values {
		m := make(map[string]any)
		if hasBase && base.Values[i] != nil {
			existing, ok := base.Values[i].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("pack %s: row %d holds %T, want mapping", prefix, i, base.Values[i])
			}
			for k, v := range existing {
				m[k] = v
			}
		}
		for _, c := range packed {
			v := c.Values[i]
			if v == nil {
				continue
			}
			m[strings.TrimPrefix(c.Name, lead)] = packValue(v)
		}
		if len(m) > 0 {
			values[i] = m
		}
	}

	out := New()
	out.rows = t.rows
	placed := false
	for _, c := range t.columns {
		if c.Name == prefix || slices.Contains(packed, c) {
			if !placed {
				_ = out.AddColumn(prefix, TypeAny, values)
				placed = true
			}
			continue
		}
		_ = out.AddColumn(c.Name, c.Type, slices.Clone(c.Values))
	}
	return out, nil
}

func packValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return coerce.Millis(x)
	case time.Duration:
		return x.Milliseconds()
	}
	return v
}

// Unpack is the inverse of Pack: it explodes the mapping column name into
// name_<key> columns in place of the original. Keys appear in first-seen
// order, sorted within a row. An exploded name that collides with an existing
// column is an error.
func (t *Table) Unpack(name string) (*Table, error) {
	src, ok := t.Column(name)
	if !ok {
		return t.Clone(), nil
	}

	var keys []string
	seen := make(map[string]bool)
	for i, v := range src.Values {
		if v == nil {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unpack %s: row %d holds %T, want mapping", name, i, v)
		}
		for _, k := range sortedKeys(m) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	exploded := New()
	exploded.rows = t.rows
	for _, k := range keys {
		col := name + Sep + k
		if t.Has(col) {
			return nil, fmt.Errorf("unpack %s: column %q already exists", name, col)
		}
		values := make([]any, t.rows)
		for i, v := range src.Values {
			if m, ok := v.(map[string]any); ok {
				values[i] = m[k]
			}
		}
		_ = exploded.AddColumn(col, InferColumn(values), values)
	}

	out := New()
	out.rows = t.rows
	for _, c := range t.columns {
		if c.Name != name {
			_ = out.AddColumn(c.Name, c.Type, slices.Clone(c.Values))
			continue
		}
		for _, e := range exploded.columns {
			_ = out.AddColumn(e.Name, e.Type, e.Values)
		}
	}
	return out, nil
}

// InferColumn returns the shared type of the non-missing values, or TypeAny
// when they disagree or all are missing.
func InferColumn(values []any) ColumnType {
	typ, typed := TypeAny, false
	for _, v := range values {
		if v == nil {
			continue
		}
		it := Infer(v)
		if !typed {
			typ, typed = it, true
			continue
		}
		if it != typ {
			return TypeAny
		}
	}
	return typ
}
