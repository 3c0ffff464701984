// Package memory provides the copy-on-write tables behind the in-process
// entity stores.
package memory

import (
	"cmp"
	"maps"
	"slices"
)

// Table is a keyed set of rows. It is not safe for concurrent use; stores
// guard it with their own lock.
type Table[K cmp.Ordered, V any] struct {
	rows  map[K]V
	clone func(V) V
}

// NewTable builds an empty table. clone deep-copies a row and may be nil when
// rows hold no reference types.
func NewTable[K cmp.Ordered, V any](clone func(V) V) *Table[K, V] {
	return &Table[K, V]{rows: make(map[K]V), clone: clone}
}

func (t *Table[K, V]) copyRow(v V) V {
	if t.clone == nil {
		return v
	}
	return t.clone(v)
}

// Get returns a copy of the row stored at k.
func (t *Table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	if !ok {
		return v, false
	}
	return t.copyRow(v), true
}

// Put stores a copy of v at k.
func (t *Table[K, V]) Put(k K, v V) {
	t.rows[k] = t.copyRow(v)
}

// Len returns the number of rows.
func (t *Table[K, V]) Len() int { return len(t.rows) }

// Select returns copies of the matching rows ordered by key.
func (t *Table[K, V]) Select(match func(V) bool) []V {
	keys := slices.Sorted(maps.Keys(t.rows))
	out := make([]V, 0)
	for _, k := range keys {
		v := t.rows[k]
		if match == nil || match(v) {
			out = append(out, t.copyRow(v))
		}
	}
	return out
}

// Clone returns an independent copy of the table.
func (t *Table[K, V]) Clone() *Table[K, V] {
	out := &Table[K, V]{rows: make(map[K]V, len(t.rows)), clone: t.clone}
	for k, v := range t.rows {
		out.rows[k] = t.copyRow(v)
	}
	return out
}

// Sequence allocates monotonically increasing ids per entity name.
type Sequence map[string]uint64

// Next returns the next id for entity, starting at 1.
func (s Sequence) Next(entity string) uint64 {
	s[entity]++
	return s[entity]
}

// Clone copies the sequence counters.
func (s Sequence) Clone() Sequence {
	return maps.Clone(s)
}
