// Package memory provides an in-memory table store used for tests and
// ephemeral environments. The SQL-backed stores embed it as their cache.
package memory

import (
	"context"
	"sort"
	"sync"

	"tubetrack/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.TableStore      = (*Store)(nil)
	_ domain.BatchTableStore = (*Store)(nil)
)

// Snapshot captures a point-in-time clone of every table keyed by name.
type Snapshot map[string]domain.Table

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, t := range s {
		out[name] = t.Clone()
	}
	return out
}

// Store keeps whole tables in memory and tracks which ones changed since the
// last flush.
type Store struct {
	mu     sync.RWMutex
	tables map[string]domain.Table
	dirty  map[string]struct{}
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tables: make(map[string]domain.Table),
		dirty:  make(map[string]struct{}),
	}
}

// GetTable returns a copy of the named table, or an empty table when it was
// never written.
func (s *Store) GetTable(_ context.Context, name string) (domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return domain.Table{}, nil
	}
	return t.Clone(), nil
}

// SetTable replaces the named table. The flush flag has no effect in memory.
func (s *Store) SetTable(_ context.Context, name string, table domain.Table, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = table.Clone()
	s.dirty[name] = struct{}{}
	return nil
}

// SetTables replaces several tables under a single lock.
func (s *Store) SetTables(_ context.Context, tables map[string]domain.Table, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range tables {
		s.tables[name] = t.Clone()
		s.dirty[name] = struct{}{}
	}
	return nil
}

// AppendRow adds a row to the named table. Columns seen for the first time
// are appended to the table's column list in sorted order.
func (s *Store) AppendRow(_ context.Context, name string, row domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	known := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		known[c] = struct{}{}
	}
	var extra []string
	for c := range row {
		if _, ok := known[c]; !ok {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	t.Columns = append(t.Columns, extra...)
	t.Rows = append(t.Rows, row.Clone())
	s.tables[name] = t
	s.dirty[name] = struct{}{}
	return nil
}

// Flush marks every table clean.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = make(map[string]struct{})
	return nil
}

// Pending lists the tables changed since they were last marked clean.
func (s *Store) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.dirty))
	for name := range s.dirty {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MarkClean clears the pending flag for the given tables.
func (s *Store) MarkClean(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		delete(s.dirty, name)
	}
}

// TableNames lists every table held by the store.
func (s *Store) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExportState clones the current tables for external persistence.
func (s *Store) ExportState(names ...string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(names) == 0 {
		return Snapshot(s.tables).Clone()
	}
	out := make(Snapshot, len(names))
	for _, name := range names {
		if t, ok := s.tables[name]; ok {
			out[name] = t.Clone()
		}
	}
	return out
}

// ImportState replaces the store contents with the provided snapshot and
// marks everything clean.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]domain.Table, len(snapshot))
	for name, t := range snapshot {
		s.tables[name] = t.Clone()
	}
	s.dirty = make(map[string]struct{})
}
