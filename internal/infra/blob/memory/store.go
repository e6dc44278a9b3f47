// Package memory implements an in-memory blob Store, used for tests and
// for the scan archive when no durable driver is configured.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"tubetrack/internal/blob/core"
)

// Store implements core.Store backed by process memory. Keys follow
// core.ValidateKey and ETags are the sha256 of the content, as in the fs
// driver, so archived scans look the same whichever driver holds them.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]stored
	now   func() time.Time
}

type stored struct {
	info core.Info
	data []byte
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the LastModified source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{blobs: make(map[string]stored), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a copy of r under key. Existing keys are never overwritten,
// which keeps an archived scan immutable.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := check(ctx, key); err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(data)
	info := core.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     maps.Clone(opts.Metadata),
		LastModified: s.now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.blobs[key]; taken {
		return core.Info{}, core.KeyError{Key: key, Err: core.ErrExists}
	}
	s.blobs[key] = stored{info: info, data: data}
	return copyInfo(info), nil
}

// Get returns the blob's metadata and a reader over a private copy of it.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	b, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return copyInfo(b.info), io.NopCloser(bytes.NewReader(bytes.Clone(b.data))), nil
}

// Head returns the blob's metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	b, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, err
	}
	return copyInfo(b.info), nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := check(ctx, key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	delete(s.blobs, key)
	return ok, nil
}

// List returns the blobs under prefix ordered by key. The prefix is matched
// as a string, so "scans/box1" also matches "scans/box10/...".
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(s.blobs))
	out := make([]core.Info, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(s.blobs[k].info))
		}
	}
	return out, nil
}

func (s *Store) lookup(ctx context.Context, key string) (stored, error) {
	if err := check(ctx, key); err != nil {
		return stored{}, err
	}
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return stored{}, core.KeyError{Key: key, Err: core.ErrNotFound}
	}
	return b, nil
}

func check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return core.ValidateKey(key)
}

func copyInfo(in core.Info) core.Info {
	in.Metadata = maps.Clone(in.Metadata)
	return in
}

var _ core.Store = (*Store)(nil)
