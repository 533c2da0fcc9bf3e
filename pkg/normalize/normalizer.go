// Package normalize turns raw exchange records into typed tables: field names
// become snake_case, nested objects are flattened into parent_child columns,
// values are coerced by their taxonomy class and all-missing columns are
// pruned. The transform is pure; input records are never modified.
package normalize

import (
	"fmt"
	"slices"

	"nakula/internal/coerce"
	"nakula/pkg/core"
	"nakula/pkg/table"
	"nakula/pkg/taxonomy"
)

const maxFlattenDepth = 8

type cell struct {
	name  string
	value any
}

// Normalize converts records of the given kind into a typed table.
// Empty input yields a zero-row, zero-column table and no error. Two raw
// names that normalize to one column fail with a schema conflict error.
func Normalize(records []core.Record, kind core.Kind, opts ...Option) (*table.Table, error) {
	o := applyOptions(opts...)
	if len(records) == 0 {
		return table.New(), nil
	}
	tax := o.Registry.Lookup(kind)

	rows, sources, err := rename(records, kind)
	if err != nil {
		return nil, err
	}

	rows, err = flatten(rows, sources, tax)
	if err != nil {
		return nil, err
	}

	order, values := columnize(rows)

	retain := make(map[string]bool, len(o.Retain))
	for _, name := range o.Retain {
		retain[SnakeCase(name)] = true
	}

	out := table.NewRows(len(records))
	dropped := 0
	for _, name := range order {
		typ, vals := coerceColumn(tax.Class(name), values[name])
		if o.DropEmpty && !retain[name] && allMissing(vals) {
			dropped++
			continue
		}
		if err := out.AddColumn(name, typ, vals); err != nil {
			return nil, fmt.Errorf("normalize %s: %w", kind, err)
		}
	}
	o.Logger.Debug().
		Str("kind", kind.String()).
		Int("rows", out.Len()).
		Int("columns", out.Width()).
		Int("pruned", dropped).
		Msg("normalized")

	return out, nil
}

// rename copies every record into an ordered cell list with snake_case names
// and records which raw name produced each column.
func rename(records []core.Record, kind core.Kind) ([][]cell, map[string]string, error) {
	sources := make(map[string]string)
	rows := make([][]cell, len(records))
	for i, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		row := make([]cell, 0, len(keys))
		for _, k := range keys {
			name := SnakeCase(k)
			if err := claim(sources, name, k, kind); err != nil {
				return nil, nil, err.WithRow(i)
			}
			row = append(row, cell{name: name, value: rec[k]})
		}
		rows[i] = row
	}
	return rows, sources, nil
}

func claim(sources map[string]string, name, source string, kind core.Kind) *core.Error {
	if prev, ok := sources[name]; ok && prev != source {
		return core.NewError(core.ErrorTypeSchemaConflict,
			fmt.Sprintf("raw fields %q and %q both normalize to %q", prev, source, name)).
			WithCode(core.ErrCodeSchemaConflict).
			WithKind(kind).
			WithField(name).
			WithSources(prev, source)
	}
	sources[name] = source
	return nil
}

// flatten repeatedly expands nested columns into parent_child cells. A column
// is expanded when its class is nested, or when it has no class and every
// non-missing value is a mapping. Dropped columns are removed.
func flatten(rows [][]cell, sources map[string]string, tax taxonomy.Taxonomy) ([][]cell, error) {
	for depth := 0; depth < maxFlattenDepth; depth++ {
		expand := expandable(rows, tax)
		next := make([][]cell, len(rows))
		changed := false
		for i, row := range rows {
			out := make([]cell, 0, len(row))
			for _, c := range row {
				if tax.Class(c.name) == taxonomy.ClassDropped {
					changed = true
					continue
				}
				m, isMap := c.value.(map[string]any)
				if !expand[c.name] || !isMap {
					out = append(out, c)
					continue
				}
				changed = true
				keys := make([]string, 0, len(m))
				for k := range m {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					name := c.name + table.Sep + SnakeCase(k)
					if err := claim(sources, name, sources[c.name]+"."+k, tax.Kind()); err != nil {
						return nil, err.WithRow(i)
					}
					out = append(out, cell{name: name, value: m[k]})
				}
			}
			next[i] = out
		}
		rows = next
		if !changed {
			return rows, nil
		}
	}
	return rows, nil
}

func expandable(rows [][]cell, tax taxonomy.Taxonomy) map[string]bool {
	nested := make(map[string]bool)
	allMaps := make(map[string]bool)
	seen := make(map[string]bool)
	for _, row := range rows {
		for _, c := range row {
			class := tax.Class(c.name)
			if class == taxonomy.ClassNested {
				nested[c.name] = true
				continue
			}
			if class != taxonomy.ClassNone || c.value == nil {
				continue
			}
			_, isMap := c.value.(map[string]any)
			if !seen[c.name] {
				seen[c.name] = true
				allMaps[c.name] = isMap
				continue
			}
			allMaps[c.name] = allMaps[c.name] && isMap
		}
	}
	for name, ok := range allMaps {
		if ok {
			nested[name] = true
		}
	}
	return nested
}

// columnize pivots cell lists into columns. Column order is first appearance
// across rows.
func columnize(rows [][]cell) ([]string, map[string][]any) {
	var order []string
	values := make(map[string][]any)
	for i, row := range rows {
		for _, c := range row {
			col, ok := values[c.name]
			if !ok {
				order = append(order, c.name)
				col = make([]any, len(rows))
				values[c.name] = col
			}
			col[i] = c.value
		}
	}
	return order, values
}

func coerceColumn(class taxonomy.Class, raw []any) (table.ColumnType, []any) {
	out := make([]any, len(raw))
	switch class {
	case taxonomy.ClassNumeric:
		for i, v := range raw {
			if f, ok := coerce.Float(v); ok {
				out[i] = f
			}
		}
		return table.TypeFloat, out
	case taxonomy.ClassInteger:
		for i, v := range raw {
			if n, ok := coerce.Int(v); ok {
				out[i] = n
			}
		}
		return table.TypeInt, out
	case taxonomy.ClassBoolean:
		for i, v := range raw {
			if b, ok := coerce.Bool(v); ok {
				out[i] = b
			}
		}
		return table.TypeBool, out
	case taxonomy.ClassTimestamp:
		for i, v := range raw {
			if t, ok := coerce.Timestamp(v); ok {
				out[i] = t
			}
		}
		return table.TypeTimestamp, out
	case taxonomy.ClassDuration:
		for i, v := range raw {
			if d, ok := coerce.Duration(v); ok {
				out[i] = d
			}
		}
		return table.TypeDuration, out
	}
	copy(out, raw)
	return table.InferColumn(out), out
}

func allMissing(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}
