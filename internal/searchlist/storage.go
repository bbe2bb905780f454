package searchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"keyward/pkg/platform/sentinel"
)

// Storage persists per-domain search-list state. Implementations must detect
// external edits: Load returns fresh state when the backing data changed
// since the last read, so several daemons sharing one config directory stay
// coherent.
type Storage interface {
	// Load returns the current state for the domain, re-reading the backing
	// data if it went stale. Missing state loads as an empty list.
	Load(ctx context.Context, d Domain) (State, error)

	// Refresh discards any cached state so the next Load re-reads.
	Refresh(d Domain)

	// Save writes the state and reports whether it differed from what was
	// already persisted.
	Save(ctx context.Context, d Domain, st State) (bool, error)
}

// FileStorage keeps one JSON file per domain under a directory, with
// modification-time staleness checks and atomic replace on write.
type FileStorage struct {
	dir string

	mu    sync.Mutex
	cache map[Domain]*fileEntry
}

type fileEntry struct {
	state State
	mtime time.Time
}

// NewFileStorage serves search lists from dir, creating it if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create search list dir: %w", err)
	}
	return &FileStorage{dir: dir, cache: make(map[Domain]*fileEntry)}, nil
}

func (f *FileStorage) path(d Domain) string {
	return filepath.Join(f.dir, d.String()+".json")
}

func (f *FileStorage) Load(_ context.Context, d Domain) (State, error) {
	if !d.Persistent() {
		return State{}, fmt.Errorf("%w: %s lists are not persisted", sentinel.ErrInvalidDomain, d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path(d))
	if errors.Is(err, fs.ErrNotExist) {
		delete(f.cache, d)
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("%w: stat search list: %v", sentinel.ErrIOFailure, err)
	}

	if entry, ok := f.cache[d]; ok && entry.mtime.Equal(info.ModTime()) {
		return entry.state.Clone(), nil
	}

	raw, err := os.ReadFile(f.path(d))
	if errors.Is(err, fs.ErrNotExist) {
		delete(f.cache, d)
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("%w: read search list: %v", sentinel.ErrIOFailure, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("%w: decode search list %s: %v", sentinel.ErrIOFailure, d, err)
	}
	f.cache[d] = &fileEntry{state: st.Clone(), mtime: info.ModTime()}
	return st, nil
}

func (f *FileStorage) Refresh(d Domain) {
	f.mu.Lock()
	delete(f.cache, d)
	f.mu.Unlock()
}

func (f *FileStorage) Save(ctx context.Context, d Domain, st State) (bool, error) {
	if !d.Persistent() {
		return false, fmt.Errorf("%w: %s lists are not persisted", sentinel.ErrInvalidDomain, d)
	}
	current, err := f.Load(ctx, d)
	if err != nil {
		return false, err
	}
	if current.Equal(st) {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode search list %s: %w", d, err)
	}
	// Write-then-rename so readers never observe a torn file.
	tmp, err := os.CreateTemp(f.dir, d.String()+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("%w: write search list: %v", sentinel.ErrIOFailure, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("%w: write search list: %v", sentinel.ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("%w: write search list: %v", sentinel.ErrIOFailure, err)
	}
	if err := os.Rename(tmpName, f.path(d)); err != nil {
		_ = os.Remove(tmpName)
		return false, fmt.Errorf("%w: replace search list: %v", sentinel.ErrIOFailure, err)
	}

	info, err := os.Stat(f.path(d))
	if err != nil {
		delete(f.cache, d)
		return true, nil
	}
	f.cache[d] = &fileEntry{state: st.Clone(), mtime: info.ModTime()}
	return true, nil
}

// MemoryStorage holds search lists in memory. Used in tests and for setups
// with no config directory.
type MemoryStorage struct {
	mu     sync.Mutex
	states map[Domain]State
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[Domain]State)}
}

func (m *MemoryStorage) Load(_ context.Context, d Domain) (State, error) {
	if !d.Persistent() {
		return State{}, fmt.Errorf("%w: %s lists are not persisted", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[d].Clone(), nil
}

func (m *MemoryStorage) Refresh(Domain) {}

func (m *MemoryStorage) Save(_ context.Context, d Domain, st State) (bool, error) {
	if !d.Persistent() {
		return false, fmt.Errorf("%w: %s lists are not persisted", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[d].Equal(st) {
		return false, nil
	}
	m.states[d] = st.Clone()
	return true, nil
}
