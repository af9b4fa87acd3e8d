package state

import (
	"slices"
	"sort"
)

// Batch is a write set over a Store. Reads see the batch's own writes first.
// Nothing reaches the underlying store until Commit.
type Batch struct {
	base *Store
	ops  []op
	// overlay[table][key] is the pending value; deleted rows are tracked separately
	overlay map[string]map[string]pending
}

type op struct {
	table  string
	key    string
	value  string
	delete bool
}

type pending struct {
	value   string
	deleted bool
}

// NewBatch starts a write set over s
func (s *Store) NewBatch() *Batch {
	return &Batch{base: s, overlay: make(map[string]map[string]pending)}
}

func (b *Batch) record(o op) {
	b.ops = append(b.ops, o)
	rows, ok := b.overlay[o.table]
	if !ok {
		rows = make(map[string]pending)
		b.overlay[o.table] = rows
	}
	rows[o.key] = pending{value: o.value, deleted: o.delete}
}

// Get reads through the batch
func (b *Batch) Get(tableName, key string) (string, bool) {
	if rows, ok := b.overlay[tableName]; ok {
		if p, ok := rows[key]; ok {
			if p.deleted {
				return "", false
			}
			return p.value, true
		}
	}
	return b.base.Get(tableName, key)
}

// Put stages a write
func (b *Batch) Put(tableName, key, value string) {
	b.record(op{table: tableName, key: key, value: value})
}

// Delete stages a delete
func (b *Batch) Delete(tableName, key string) {
	b.record(op{table: tableName, key: key, delete: true})
}

// Keys returns the table's keys as seen through the batch, in ascending order
func (b *Batch) Keys(tableName string) []string {
	rows, ok := b.overlay[tableName]
	if !ok {
		return slices.Clone(b.base.Keys(tableName))
	}

	keys := make([]string, 0, b.base.Len(tableName)+len(rows))
	for _, k := range b.base.Keys(tableName) {
		if _, staged := rows[k]; !staged {
			keys = append(keys, k)
		}
	}
	for k, p := range rows {
		if !p.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of staged operations
func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit applies staged operations to the store in order and empties the batch
func (b *Batch) Commit() {
	for _, o := range b.ops {
		if o.delete {
			b.base.Delete(o.table, o.key)
		} else {
			b.base.Put(o.table, o.key, o.value)
		}
	}
	b.Discard()
}

// Discard drops staged operations
func (b *Batch) Discard() {
	b.ops = nil
	b.overlay = make(map[string]map[string]pending)
}
