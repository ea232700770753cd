package indexcache

import (
	"reflect"
	"time"
)

// Change is the previous and current value of one attribute.
type Change struct {
	Old any
	New any
}

// Changes maps attribute names to their change. An attribute absent from the
// map did not change.
type Changes map[string]Change

// Changed reports whether any of attributes changed.
func (c Changes) Changed(attributes ...string) bool {
	for _, a := range attributes {
		if _, ok := c[a]; ok {
			return true
		}
	}
	return false
}

// Transition is a record together with the description of how it changed.
// Creates carry no changes; updates carry the changed attributes.
type Transition[T any] struct {
	Record  T
	Changes Changes
}

// Current returns the value of attribute after the transition.
func (t Transition[T]) Current(schema *Schema[T], attribute string) any {
	v, _ := schema.Value(t.Record, attribute)
	return v
}

// Previous returns the value of attribute before the transition, falling back
// to the current value when the attribute did not change.
func (t Transition[T]) Previous(schema *Schema[T], attribute string) any {
	if c, ok := t.Changes[attribute]; ok {
		return c.Old
	}
	return t.Current(schema, attribute)
}

// Diff compares two versions of a record column by column.
func Diff[T any](schema *Schema[T], before, after T) Changes {
	changes := Changes{}
	for _, col := range schema.Columns() {
		old, _ := schema.Value(before, col)
		cur, _ := schema.Value(after, col)
		if !sameValue(old, cur) {
			changes[col] = Change{Old: old, New: cur}
		}
	}
	return changes
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
