// Package state holds the materialized replica: named tables of rows keyed by string.
//
// A Store is mutated only by the replay engine and read by the query layer. It performs no
// locking of its own; the owner serializes access.
package state

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Store is an in-memory set of tables. Row values are opaque text (usually JSON).
type Store struct {
	tables map[string]*table
}

type table struct {
	rows map[string]string
	// keys is rebuilt lazily after inserts/deletes
	keys  []string
	dirty bool
}

// New creates an empty store
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) table(name string, create bool) *table {
	t, ok := s.tables[name]
	if !ok && create {
		t = &table{rows: make(map[string]string)}
		s.tables[name] = t
	}
	return t
}

// Get returns the row value for key in the named table
func (s *Store) Get(tableName, key string) (string, bool) {
	t := s.table(tableName, false)
	if t == nil {
		return "", false
	}
	v, ok := t.rows[key]
	return v, ok
}

// Put inserts or replaces a row
func (s *Store) Put(tableName, key, value string) {
	t := s.table(tableName, true)
	if _, exists := t.rows[key]; !exists {
		t.dirty = true
	}
	t.rows[key] = value
}

// Delete removes a row. Empty tables are dropped.
func (s *Store) Delete(tableName, key string) bool {
	t := s.table(tableName, false)
	if t == nil {
		return false
	}
	if _, ok := t.rows[key]; !ok {
		return false
	}
	delete(t.rows, key)
	t.dirty = true
	if len(t.rows) == 0 {
		delete(s.tables, tableName)
	}
	return true
}

// Len returns the number of rows in a table (0 for unknown tables)
func (s *Store) Len(tableName string) int {
	t := s.table(tableName, false)
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Keys returns a table's keys in ascending order. The returned slice must not be modified.
func (s *Store) Keys(tableName string) []string {
	t := s.table(tableName, false)
	if t == nil {
		return nil
	}
	if t.dirty || t.keys == nil {
		keys := make([]string, 0, len(t.rows))
		for k := range t.rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t.keys = keys
		t.dirty = false
	}
	return t.keys
}

// HasTable reports whether a table exists (has at least one row)
func (s *Store) HasTable(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// Tables returns table names in ascending order
func (s *Store) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RowCount returns the total number of rows across all tables
func (s *Store) RowCount() int {
	n := 0
	for _, t := range s.tables {
		n += len(t.rows)
	}
	return n
}

// Clone returns a deep copy
func (s *Store) Clone() *Store {
	c := New()
	for name, t := range s.tables {
		rows := make(map[string]string, len(t.rows))
		for k, v := range t.rows {
			rows[k] = v
		}
		c.tables[name] = &table{rows: rows, dirty: true}
	}
	return c
}

// MarshalBinary encodes the store as a JSON object of tables. Output is deterministic.
func (s *Store) MarshalBinary() ([]byte, error) {
	// encoding/json sorts map keys, which keeps snapshots byte-stable
	out := make(map[string]map[string]string, len(s.tables))
	for name, t := range s.tables {
		out[name] = t.rows
	}
	return json.Marshal(out)
}

// UnmarshalBinary replaces the store's contents with an encoded body
func (s *Store) UnmarshalBinary(data []byte) error {
	var in map[string]map[string]string
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode state body: %w", err)
	}
	s.tables = make(map[string]*table, len(in))
	for name, rows := range in {
		if name == "" {
			return fmt.Errorf("decode state body: empty table name")
		}
		if len(rows) == 0 {
			continue
		}
		s.tables[name] = &table{rows: rows, dirty: true}
	}
	return nil
}

// Equal reports whether two stores hold the same rows
func (s *Store) Equal(o *Store) bool {
	if len(s.tables) != len(o.tables) {
		return false
	}
	for name, t := range s.tables {
		ot, ok := o.tables[name]
		if !ok || len(ot.rows) != len(t.rows) {
			return false
		}
		if !slices.Equal(s.Keys(name), o.Keys(name)) {
			return false
		}
		for k, v := range t.rows {
			if ot.rows[k] != v {
				return false
			}
		}
	}
	return true
}
