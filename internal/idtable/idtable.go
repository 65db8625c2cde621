// Package idtable provides an id-keyed table with 16-bit wrap-scan allocation.
//
// The same allocator backs connections, client input contexts and XIM input
// contexts. Ids are never 0 and never collide with a live entry.
package idtable

import (
	"errors"
	"sort"
)

// ErrTableFull is returned when every non-zero 16-bit id is in use.
var ErrTableFull = errors.New("idtable: no free id")

// maxEntries is the number of usable ids (1..65535).
const maxEntries = 1<<16 - 1

// Table maps non-zero uint16 ids to values.
// It is not safe for concurrent use; callers serialize access.
type Table[V any] struct {
	next    uint16
	entries map[uint16]V
}

// New returns an empty table.
func New[V any]() *Table[V] {
	return &Table[V]{entries: make(map[uint16]V)}
}

// Add stores v under a freshly allocated id.
func (t *Table[V]) Add(v V) (uint16, error) {
	id, err := t.Alloc()
	if err != nil {
		return 0, err
	}
	t.entries[id] = v
	return id, nil
}

// Alloc advances the counter to the next free id without storing anything.
// Use Set to bind the id afterwards.
func (t *Table[V]) Alloc() (uint16, error) {
	if len(t.entries) >= maxEntries {
		return 0, ErrTableFull
	}
	for i := 0; i < maxEntries+1; i++ {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, used := t.entries[t.next]; !used {
			return t.next, nil
		}
	}
	return 0, ErrTableFull
}

// Set stores v under id, replacing any existing value.
func (t *Table[V]) Set(id uint16, v V) {
	t.entries[id] = v
}

// Get returns the value stored under id.
func (t *Table[V]) Get(id uint16) (V, bool) {
	v, ok := t.entries[id]
	return v, ok
}

// Remove deletes id and reports whether it was present.
func (t *Table[V]) Remove(id uint16) (V, bool) {
	v, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return v, ok
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	return len(t.entries)
}

// IDs returns the live ids in ascending order.
func (t *Table[V]) IDs() []uint16 {
	ids := make([]uint16, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Each calls fn for every entry in ascending id order. fn may remove the
// entry it is given.
func (t *Table[V]) Each(fn func(id uint16, v V)) {
	for _, id := range t.IDs() {
		if v, ok := t.entries[id]; ok {
			fn(id, v)
		}
	}
}
