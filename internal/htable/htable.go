// Package htable implements the open-addressed, tombstone-aware hash table
// that backs both the VM's globals table and the string-interning table.
// It is grounded directly on the reference table.c: linear probing, power
// of two capacity, a 0.75 max load factor, and lazy tombstone deletion so
// that probe sequences through a deleted slot stay intact.
package htable

import "trilox/internal/value"

const maxLoadFactor = 0.75

type entry struct {
	key   *value.ObjString
	value value.Value
	// tombstone marks a deleted entry: key is nil but the probe sequence
	// must still continue through this slot.
	tombstone bool
}

// Table is a value.StringTable implementation.
type Table struct {
	entries  []entry
	count    int // live entries + tombstones
	capacity int
}

func New() *Table {
	return &Table{}
}

func (t *Table) Count() int {
	return t.count
}

func (t *Table) findEntry(entries []entry, capacity int, key *value.ObjString) int {
	index := int(key.Hash) & (capacity - 1)
	tombstoneIdx := -1
	for {
		e := &entries[index]
		if e.key == nil {
			if e.tombstone {
				if tombstoneIdx == -1 {
					tombstoneIdx = index
				}
			} else {
				if tombstoneIdx != -1 {
					return tombstoneIdx
				}
				return index
			}
		} else if e.key == key {
			return index
		}
		index = (index + 1) & (capacity - 1)
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]entry, capacity)
	count := 0
	for i := 0; i < t.capacity; i++ {
		old := &t.entries[i]
		if old.key == nil {
			continue
		}
		idx := t.findEntry(entries, capacity, old.key)
		entries[idx].key = old.key
		entries[idx].value = old.value
		count++
	}
	t.entries = entries
	t.capacity = capacity
	t.count = count
}

// Set stores key/value, growing the table when the load factor would be
// exceeded. Returns true if key was not already present.
func (t *Table) Set(key *value.ObjString, v value.Value) bool {
	if float64(t.count+1) > float64(t.capacity)*maxLoadFactor {
		capacity := growCapacity(t.capacity)
		t.adjustCapacity(capacity)
	}

	idx := t.findEntry(t.entries, t.capacity, key)
	e := &t.entries[idx]
	isNewKey := e.key == nil
	// Only a truly empty slot increments count; reusing a tombstone must not.
	if isNewKey && !e.tombstone {
		t.count++
	}
	e.key = key
	e.value = v
	e.tombstone = false
	return isNewKey
}

func (t *Table) Get(key *value.ObjString) (value.Value, bool) {
	if t.count == 0 {
		return value.Nil(), false
	}
	idx := t.findEntry(t.entries, t.capacity, key)
	e := &t.entries[idx]
	if e.key == nil {
		return value.Nil(), false
	}
	return e.value, true
}

func (t *Table) Delete(key *value.ObjString) bool {
	if t.count == 0 {
		return false
	}
	idx := t.findEntry(t.entries, t.capacity, key)
	e := &t.entries[idx]
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = value.Nil()
	e.tombstone = true
	return true
}

// NthEntry returns the n-th live entry (0-indexed) in slot order, grounding
// each-loop-over-table traversal.
func (t *Table) NthEntry(n int) (*value.ObjString, value.Value, bool) {
	if t.count == 0 {
		return nil, value.Nil(), false
	}
	seen := 0
	for i := 0; i < t.capacity; i++ {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		if seen == n {
			return e.key, e.value, true
		}
		seen++
	}
	return nil, value.Nil(), false
}

func (t *Table) Each(fn func(key *value.ObjString, v value.Value)) {
	for i := 0; i < t.capacity; i++ {
		e := &t.entries[i]
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

// FindString looks up an interned string by raw content and precomputed
// hash, used by the allocator to dedupe string objects.
func (t *Table) FindString(chars string, hash uint32) *value.ObjString {
	if t.count == 0 {
		return nil
	}
	index := int(hash) & (t.capacity - 1)
	for {
		e := &t.entries[index]
		if e.key == nil {
			if !e.tombstone {
				return nil
			}
		} else if e.key.Hash == hash && e.key.Chars == chars {
			return e.key
		}
		index = (index + 1) & (t.capacity - 1)
	}
}

// RemoveWhite deletes every entry whose key object was not marked by the
// last GC trace, implementing the string table's weak-reference semantics.
func (t *Table) RemoveWhite(isMarked func(*value.ObjString) bool) {
	for i := 0; i < t.capacity; i++ {
		e := &t.entries[i]
		if e.key != nil && !isMarked(e.key) {
			t.Delete(e.key)
		}
	}
}

// AddAll copies every live entry of src into t.
func (t *Table) AddAll(src *Table) {
	for i := 0; i < src.capacity; i++ {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
