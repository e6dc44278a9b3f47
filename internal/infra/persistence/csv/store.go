// Package csv stores each table as <root>/<name>.csv with a header row.
// Tables are loaded lazily, cached in memory and written back on flush.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"tubetrack/internal/infra/persistence/memory"
	"tubetrack/pkg/domain"
)

var _ domain.TableStore = (*Store)(nil)

// Store is a directory of CSV files fronted by a memory cache.
type Store struct {
	cache     *memory.Store
	root      string
	autoflush bool

	mu     sync.Mutex
	loaded map[string]struct{}
}

// NewStore uses root as the datastore directory, creating it if needed.
// With autoflush every SetTable writes through regardless of its flush flag.
func NewStore(root string, autoflush bool) (*Store, error) {
	if root == "" {
		return nil, domain.ConfigurationError{Field: "csv_root", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create csv root: %w", err)
	}
	return &Store{cache: memory.NewStore(), root: root, autoflush: autoflush, loaded: make(map[string]struct{})}, nil
}

// Root returns the datastore directory.
func (s *Store) Root() string { return s.root }

// TablePath returns the file backing the named table.
func (s *Store) TablePath(name string) string {
	return filepath.Join(s.root, name+".csv")
}

func (s *Store) ensureLoaded(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loaded[name]; ok {
		return nil
	}
	t, err := readTable(s.TablePath(name))
	if err != nil {
		return err
	}
	if err := s.cache.SetTable(ctx, name, t, false); err != nil {
		return err
	}
	s.cache.MarkClean(name)
	s.loaded[name] = struct{}{}
	return nil
}

func (s *Store) markLoaded(name string) {
	s.mu.Lock()
	s.loaded[name] = struct{}{}
	s.mu.Unlock()
}

// GetTable returns the cached table, reading the file on first access. A
// missing file yields an empty table.
func (s *Store) GetTable(ctx context.Context, name string) (domain.Table, error) {
	if err := s.ensureLoaded(ctx, name); err != nil {
		return domain.Table{}, err
	}
	return s.cache.GetTable(ctx, name)
}

// SetTable replaces the cached table and writes it when flush or autoflush is set.
func (s *Store) SetTable(ctx context.Context, name string, table domain.Table, flush bool) error {
	if err := s.cache.SetTable(ctx, name, table, flush); err != nil {
		return err
	}
	s.markLoaded(name)
	if !flush && !s.autoflush {
		return nil
	}
	return s.save(name)
}

// AppendRow adds a row to the cached table.
func (s *Store) AppendRow(ctx context.Context, name string, row domain.Row) error {
	if err := s.ensureLoaded(ctx, name); err != nil {
		return err
	}
	if err := s.cache.AppendRow(ctx, name, row); err != nil {
		return err
	}
	if s.autoflush {
		return s.save(name)
	}
	return nil
}

// Flush writes every changed table.
func (s *Store) Flush(_ context.Context) error {
	var errs []error
	for _, name := range s.cache.Pending() {
		if err := s.save(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) save(name string) error {
	snapshot := s.cache.ExportState(name)
	if err := writeTable(s.TablePath(name), snapshot[name]); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.cache.MarkClean(name)
	return nil
}

func readTable(path string) (domain.Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Table{}, nil
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return domain.Table{}, nil
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("read header %s: %w", path, err)
	}
	t := domain.Table{Columns: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("read %s: %w", path, err)
		}
		row := make(domain.Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// writeTable writes to a temporary file in the same directory and renames it
// over path so readers never see a partial table.
func writeTable(path string, t domain.Table) (retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	w := csv.NewWriter(tmp)
	if err := w.Write(t.Columns); err != nil {
		_ = tmp.Close()
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			rec[i] = row[col]
		}
		if err := w.Write(rec); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
