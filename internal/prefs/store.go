// Package prefs persists small named string values (access token, pull cursors, counters)
// in a JSON file shared safely between processes on the device.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Store is a file-backed key/value preference store.
type Store struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// Open returns a store backed by path. The parent directory is created with 0700.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("prefs: create dir: %w", err)
	}
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns the value for key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.withLock(ctx, func(m map[string]string) (bool, error) {
		v, ok = m[key]
		return false, nil
	})
	return v, ok, err
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.withLock(ctx, func(m map[string]string) (bool, error) {
		m[key] = value
		return true, nil
	})
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, func(m map[string]string) (bool, error) {
		if _, ok := m[key]; !ok {
			return false, nil
		}
		delete(m, key)
		return true, nil
	})
}

// Clear removes every stored value.
func (s *Store) Clear(ctx context.Context) error {
	return s.withLock(ctx, func(m map[string]string) (bool, error) {
		clear(m)
		return true, nil
	})
}

// withLock loads the map under both locks, runs fn and writes back when fn reports a change.
func (s *Store) withLock(ctx context.Context, fn func(map[string]string) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("prefs: lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	m, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(m)
	if err != nil || !changed {
		return err
	}
	return s.save(m)
}

func (s *Store) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: read: %w", err)
	}
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("prefs: decode: %w", err)
	}
	return m, nil
}

func (s *Store) save(m map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*")
	if err != nil {
		return fmt.Errorf("prefs: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
