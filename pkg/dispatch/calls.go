package dispatch

import (
	"context"
	"errors"
)

// Call is one deferred exchange-client call.
type Call[T any] func(ctx context.Context) (T, error)

type shape int

const (
	shapeSingle shape = iota
	shapeFlat
	shapeNested
)

// Calls is a tagged union of a single call, a flat batch, or a nested batch
// (for example per symbol, per timeframe). Build it with Single, Flat or
// Nested.
type Calls[T any] struct {
	shape  shape
	calls  []Call[T]
	bounds []int
}

// Single wraps one call.
func Single[T any](call Call[T]) Calls[T] {
	return Calls[T]{shape: shapeSingle, calls: []Call[T]{call}, bounds: []int{0, 1}}
}

// Flat wraps a sequence of calls.
func Flat[T any](calls ...Call[T]) Calls[T] {
	return Calls[T]{shape: shapeFlat, calls: calls, bounds: []int{0, len(calls)}}
}

// Nested wraps a sequence of sequences of calls. Results keep the grouping.
func Nested[T any](groups ...[]Call[T]) Calls[T] {
	c := Calls[T]{shape: shapeNested, bounds: make([]int, 0, len(groups)+1)}
	c.bounds = append(c.bounds, 0)
	for _, g := range groups {
		c.calls = append(c.calls, g...)
		c.bounds = append(c.bounds, len(c.calls))
	}
	return c
}

// Len returns the total number of calls across all groups.
func (c Calls[T]) Len() int {
	return len(c.calls)
}

// position maps a flat index back to its group and index within the group.
func (c Calls[T]) position(i int) (group, index int) {
	for g := 1; g < len(c.bounds); g++ {
		if i < c.bounds[g] {
			return g - 1, i - c.bounds[g-1]
		}
	}
	return len(c.bounds) - 2, i
}

// Result is the outcome of one call.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Results holds one slot per call in input order, with the input's grouping.
type Results[T any] struct {
	shape  shape
	slots  []Result[T]
	bounds []int
}

func newResults[T any](c Calls[T]) Results[T] {
	return Results[T]{shape: c.shape, slots: make([]Result[T], len(c.calls)), bounds: c.bounds}
}

func (r Results[T]) Len() int {
	return len(r.slots)
}

// Single returns the only slot of a Single dispatch, or the first slot.
func (r Results[T]) Single() Result[T] {
	if len(r.slots) == 0 {
		return Result[T]{}
	}
	return r.slots[0]
}

// Flat returns every slot in input order, groups concatenated.
func (r Results[T]) Flat() []Result[T] {
	return r.slots
}

// Nested returns the slots grouped as the input was. Single and flat
// dispatches yield one group.
func (r Results[T]) Nested() [][]Result[T] {
	if len(r.bounds) < 2 {
		return nil
	}
	out := make([][]Result[T], len(r.bounds)-1)
	for g := range out {
		out[g] = r.slots[r.bounds[g]:r.bounds[g+1]]
	}
	return out
}

// Values returns the value of every slot; failed slots hold the zero value.
func (r Results[T]) Values() []T {
	out := make([]T, len(r.slots))
	for i, s := range r.slots {
		out[i] = s.Value
	}
	return out
}

// Failed counts slots holding an error.
func (r Results[T]) Failed() int {
	n := 0
	for _, s := range r.slots {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the slot errors, or returns nil.
func (r Results[T]) Err() error {
	var errs []error
	for _, s := range r.slots {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}
