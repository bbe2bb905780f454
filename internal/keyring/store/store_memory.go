package store

import (
	"bytes"
	"context"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

// MemoryProvider keeps whole keyrings in process memory. It is the default
// backend for tests and single-process use; it intentionally favors clarity
// over performance.
type MemoryProvider struct {
	mu     sync.Mutex
	rings  map[string]*ringData
	tagVal string
}

// ringData is the "backing database" of one store. It outlives backend
// instances so that Create/Delete through one handle is visible through
// another, mirroring how file-backed stores behave.
type ringData struct {
	mu      sync.RWMutex
	exists  bool
	secret  []byte
	records map[uuid.UUID]models.Record
	order   []uuid.UUID
}

// NewMemoryProvider constructs an empty in-memory provider serving the
// "memory" identifier namespace.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{rings: make(map[string]*ringData), tagVal: "memory"}
}

func (p *MemoryProvider) Tag() string { return p.tagVal }

// Open returns a backend bound to the store at id.Path. The backing data is
// shared between every backend opened for the same path, and is created lazily
// in the "does not exist" state.
func (p *MemoryProvider) Open(_ context.Context, id models.Identifier) (keyring.Backend, error) {
	if id.Provider != p.tagVal {
		return nil, sentinel.ErrUnavailable
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.rings[id.Path]
	if !ok {
		data = &ringData{records: make(map[uuid.UUID]models.Record)}
		p.rings[id.Path] = data
	}
	return &MemoryStore{provider: p, id: id, data: data}, nil
}

// rekey moves backing data to a new path, replacing whatever was there.
// Renaming on top of an existing store drops the old contents, the same way a
// file rename would.
func (p *MemoryProvider) rekey(oldPath, newPath string) *ringData {
	p.mu.Lock()
	defer p.mu.Unlock()
	data := p.rings[oldPath]
	delete(p.rings, oldPath)
	p.rings[newPath] = data
	return data
}

// MemoryStore implements keyring.Backend over a ringData. Unlock state is per
// backend instance, matching the per-session nature of a real store session.
type MemoryStore struct {
	provider *MemoryProvider
	id       models.Identifier
	data     *ringData

	mu       sync.Mutex
	unlocked bool
}

var _ keyring.Backend = (*MemoryStore)(nil)

func (s *MemoryStore) Identifier() models.Identifier { return s.id }

func (s *MemoryStore) Name() string { return path.Base(s.id.Path) }

func (s *MemoryStore) Exists(_ context.Context) (bool, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	return s.data.exists, nil
}

func (s *MemoryStore) Create(_ context.Context, secret []byte) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if s.data.exists {
		return sentinel.ErrAlreadyExists
	}
	s.data.exists = true
	s.data.secret = append([]byte(nil), secret...)
	s.data.records = make(map[uuid.UUID]models.Record)
	s.data.order = nil
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Unlock(_ context.Context, secret []byte) error {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	if !s.data.exists {
		return sentinel.ErrNotFound
	}
	if !bytes.Equal(s.data.secret, secret) {
		return sentinel.ErrAuthFailure
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Rename(_ context.Context, newPath string) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if !s.data.exists {
		return sentinel.ErrNotFound
	}
	s.provider.rekey(s.id.Path, newPath)
	s.id.Path = newPath
	return nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if !s.data.exists {
		return sentinel.ErrNotFound
	}
	s.data.exists = false
	s.data.secret = nil
	s.data.records = make(map[uuid.UUID]models.Record)
	s.data.order = nil
	return nil
}

func (s *MemoryStore) Search(_ context.Context, q models.Query) ([]models.Record, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	var out []models.Record
	for _, id := range s.data.order {
		if rec, ok := s.data.records[id]; ok && q.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (models.Record, error) {
	if err := s.readable(); err != nil {
		return models.Record{}, err
	}
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	rec, ok := s.data.records[id]
	if !ok {
		return models.Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, rec models.Record) error {
	if err := s.readable(); err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if _, ok := s.data.records[rec.ID]; !ok {
		s.data.order = append(s.data.order, rec.ID)
	}
	s.data.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec models.Record) error {
	if err := s.readable(); err != nil {
		return err
	}
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	old, ok := s.data.records[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = time.Now()
	s.data.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) readable() error {
	s.data.mu.RLock()
	exists := s.data.exists
	s.data.mu.RUnlock()
	if !exists {
		return sentinel.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return sentinel.ErrLocked
	}
	return nil
}
