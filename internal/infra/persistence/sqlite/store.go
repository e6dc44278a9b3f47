// Package sqlite persists tables to a single SQLite state table. Each table is
// stored as one JSON bucket and every flush writes its buckets in one
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tubetrack/internal/infra/persistence/memory"
	"tubetrack/pkg/domain"
)

var (
	_ domain.TableStore      = (*Store)(nil)
	_ domain.BatchTableStore = (*Store)(nil)
)

// DefaultPath is used when no path is configured.
const DefaultPath = "tubetrack.db"

// Store caches tables in memory and snapshots them to SQLite on flush.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the cache
// from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var t domain.Table
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		snapshot[bucket] = t
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context, names []string) (retErr error) {
	if len(names) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState(names...)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, name := range names {
		data, err := json.Marshal(snapshot[name])
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, name, data); err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.MarkClean(names...)
	return nil
}

// SetTable replaces the table in the cache and writes it when flush is set.
func (s *Store) SetTable(ctx context.Context, name string, table domain.Table, flush bool) error {
	if err := s.Store.SetTable(ctx, name, table, flush); err != nil {
		return err
	}
	if !flush {
		return nil
	}
	return s.persist(ctx, []string{name})
}

// SetTables replaces several tables and, when flush is set, writes them in a
// single transaction.
func (s *Store) SetTables(ctx context.Context, tables map[string]domain.Table, flush bool) error {
	if err := s.Store.SetTables(ctx, tables, flush); err != nil {
		return err
	}
	if !flush {
		return nil
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	return s.persist(ctx, names)
}

// Flush writes every table changed since the last flush.
func (s *Store) Flush(ctx context.Context) error {
	return s.persist(ctx, s.Pending())
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
