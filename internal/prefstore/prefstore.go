// Package prefstore persists small domain-scoped key/value preferences,
// notably the system-wide identity assignments shared across users.
package prefstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"keyward/pkg/platform/sentinel"
)

// Store is a domain-scoped key/value surface. Values are opaque bytes;
// absence is reported as ErrNotFound. Writes accumulate in memory until
// Flush commits them atomically.
type Store interface {
	GetValue(ctx context.Context, domain, key string) ([]byte, error)
	SetValue(ctx context.Context, domain, key string, value []byte) error
	RemoveValue(ctx context.Context, domain, key string) error
	Flush(ctx context.Context) error
}

// FileStore keeps one JSON file per domain under a directory. Values are
// base64 inside the JSON so arbitrary bytes round-trip.
type FileStore struct {
	dir string

	mu      sync.Mutex
	domains map[string]map[string][]byte
	dirty   map[string]bool
}

// NewFileStore opens a preference directory, creating it if needed. Domain
// files are loaded lazily on first access.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create preference dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		domains: make(map[string]map[string][]byte),
		dirty:   make(map[string]bool),
	}, nil
}

func (f *FileStore) path(domain string) string {
	return filepath.Join(f.dir, domain+".json")
}

// loadLocked reads a domain file into the cache. Caller holds f.mu.
func (f *FileStore) loadLocked(domain string) (map[string][]byte, error) {
	if values, ok := f.domains[domain]; ok {
		return values, nil
	}
	values := make(map[string][]byte)
	raw, err := os.ReadFile(f.path(domain))
	if errors.Is(err, fs.ErrNotExist) {
		f.domains[domain] = values
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read preferences %s: %v", sentinel.ErrIOFailure, domain, err)
	}
	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%w: decode preferences %s: %v", sentinel.ErrIOFailure, domain, err)
	}
	for key, enc := range encoded {
		value, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: decode preferences %s/%s: %v", sentinel.ErrIOFailure, domain, key, err)
		}
		values[key] = value
	}
	f.domains[domain] = values
	return values, nil
}

func (f *FileStore) GetValue(_ context.Context, domain, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.loadLocked(domain)
	if err != nil {
		return nil, err
	}
	value, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("%w: preference %s/%s", sentinel.ErrNotFound, domain, key)
	}
	return append([]byte(nil), value...), nil
}

func (f *FileStore) SetValue(_ context.Context, domain, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.loadLocked(domain)
	if err != nil {
		return err
	}
	values[key] = append([]byte(nil), value...)
	f.dirty[domain] = true
	return nil
}

func (f *FileStore) RemoveValue(_ context.Context, domain, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.loadLocked(domain)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: preference %s/%s", sentinel.ErrNotFound, domain, key)
	}
	delete(values, key)
	f.dirty[domain] = true
	return nil
}

// Flush writes every dirty domain file, each with write-then-rename so a
// crash never leaves a torn file.
func (f *FileStore) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for domain := range f.dirty {
		values := f.domains[domain]
		encoded := make(map[string]string, len(values))
		for key, value := range values {
			encoded[key] = base64.StdEncoding.EncodeToString(value)
		}
		raw, err := json.MarshalIndent(encoded, "", "  ")
		if err != nil {
			return fmt.Errorf("encode preferences %s: %w", domain, err)
		}
		tmp, err := os.CreateTemp(f.dir, domain+".*.tmp")
		if err != nil {
			return fmt.Errorf("%w: write preferences %s: %v", sentinel.ErrIOFailure, domain, err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(raw); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("%w: write preferences %s: %v", sentinel.ErrIOFailure, domain, err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("%w: write preferences %s: %v", sentinel.ErrIOFailure, domain, err)
		}
		if err := os.Rename(tmpName, f.path(domain)); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("%w: replace preferences %s: %v", sentinel.ErrIOFailure, domain, err)
		}
		delete(f.dirty, domain)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	domains map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{domains: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) GetValue(_ context.Context, domain, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.domains[domain][key]
	if !ok {
		return nil, fmt.Errorf("%w: preference %s/%s", sentinel.ErrNotFound, domain, key)
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) SetValue(_ context.Context, domain, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.domains[domain]
	if !ok {
		values = make(map[string][]byte)
		m.domains[domain] = values
	}
	values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) RemoveValue(_ context.Context, domain, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[domain][key]; !ok {
		return fmt.Errorf("%w: preference %s/%s", sentinel.ErrNotFound, domain, key)
	}
	delete(m.domains[domain], key)
	return nil
}

func (m *MemoryStore) Flush(context.Context) error { return nil }
