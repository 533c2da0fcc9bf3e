// Package taxonomy maps response field names to semantic classes per
// response kind. Registries are immutable: Extend returns a new registry and
// never changes the class of a field that is already registered.
package taxonomy

import (
	"fmt"
	"slices"
	"sync"

	"nakula/pkg/core"
)

// Class is the semantic class of a field.
type Class int

const (
	// ClassNone marks a field with no special handling; it passes through.
	ClassNone Class = iota
	// ClassNumeric coerces to float64.
	ClassNumeric
	// ClassInteger coerces to int64.
	ClassInteger
	// ClassBoolean coerces truthy/falsy representations.
	ClassBoolean
	// ClassTimestamp parses epoch milliseconds or ISO-8601 strings.
	ClassTimestamp
	// ClassDuration parses milliseconds or duration strings.
	ClassDuration
	// ClassNested flattens one level into parent_child columns.
	ClassNested
	// ClassDropped removes raw payload echoes.
	ClassDropped
)

// String returns the lowercase name of the class.
func (c Class) String() string {
	return [...]string{"none", "numeric", "integer", "boolean", "timestamp", "duration", "nested", "dropped"}[c]
}

// Taxonomy is the field classification of one response kind.
type Taxonomy struct {
	kind   core.Kind
	fields map[string]Class
}

// Kind returns the response kind the taxonomy belongs to.
func (t Taxonomy) Kind() core.Kind {
	return t.kind
}

// Class returns the class of a snake_case field name.
func (t Taxonomy) Class(field string) Class {
	return t.fields[field]
}

// Fields returns the sorted field names registered under class.
func (t Taxonomy) Fields(class Class) []string {
	var out []string
	for name, c := range t.fields {
		if c == class {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Len returns the number of registered fields.
func (t Taxonomy) Len() int {
	return len(t.fields)
}

// Registry holds one taxonomy per response kind.
type Registry struct {
	kinds map[core.Kind]map[string]Class
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r := &Registry{kinds: make(map[core.Kind]map[string]Class, len(builtin))}
	for kind, def := range builtin {
		r.kinds[kind] = def.build()
	}
	return r
})

// Default returns the built-in registry.
func Default() *Registry {
	return defaultRegistry()
}

// Lookup returns the taxonomy for kind. Unregistered kinds get an empty
// taxonomy, so every field passes through uncoerced.
func (r *Registry) Lookup(kind core.Kind) Taxonomy {
	return Taxonomy{kind: kind, fields: r.kinds[kind]}
}

// Kinds returns the kinds with a registered taxonomy.
func (r *Registry) Kinds() []core.Kind {
	out := make([]core.Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Extend returns a registry in which fields of kind are registered under
// class. Registering a field again under the same class is a no-op; under a
// different class it is rejected so existing behavior never changes.
func (r *Registry) Extend(kind core.Kind, class Class, fields ...string) (*Registry, error) {
	if class == ClassNone {
		return nil, fmt.Errorf("extend %s: class none cannot be registered", kind)
	}
	current := r.kinds[kind]
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("extend %s: empty field name", kind)
		}
		if c, ok := current[f]; ok && c != class {
			return nil, fmt.Errorf("extend %s: field %q already registered as %s", kind, f, c)
		}
	}

	next := &Registry{kinds: make(map[core.Kind]map[string]Class, len(r.kinds)+1)}
	for k, m := range r.kinds {
		next.kinds[k] = m
	}
	merged := make(map[string]Class, len(current)+len(fields))
	for f, c := range current {
		merged[f] = c
	}
	for _, f := range fields {
		merged[f] = class
	}
	next.kinds[kind] = merged
	return next, nil
}
