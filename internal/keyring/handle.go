package keyring

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"keyward/internal/keyring/models"
)

// CacheState tracks a handle's registry membership. The handle owns the flag
// so that eviction stays idempotent even when two code paths race to remove
// the same store: the first transition wins and the second sees Evicted.
type CacheState int32

const (
	// Uncached: the handle was opened but never inserted into the registry.
	Uncached CacheState = iota
	// Cached: the registry currently maps this handle's identifier to it.
	Cached
	// Evicted: the handle was removed from the registry and must not be
	// reinserted under its old identifier.
	Evicted
)

func (s CacheState) String() string {
	switch s {
	case Uncached:
		return "uncached"
	case Cached:
		return "cached"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Handle wraps one Backend and carries its cache state. All methods delegate
// to the backend; the state transitions are invoked only by the registry,
// which is the sole authority for cache membership.
type Handle struct {
	backend Backend
	state   atomic.Int32
}

// NewHandle wraps a freshly opened backend in the Uncached state.
func NewHandle(b Backend) *Handle {
	return &Handle{backend: b}
}

// State returns the current cache state.
func (h *Handle) State() CacheState {
	return CacheState(h.state.Load())
}

// MarkCached records registry insertion. Registry use only.
func (h *Handle) MarkCached() {
	h.state.Store(int32(Cached))
}

// MarkEvicted records registry removal. Registry use only. Returns false when
// the handle was not cached, which makes double-eviction a detectable no-op.
func (h *Handle) MarkEvicted() bool {
	return h.state.CompareAndSwap(int32(Cached), int32(Evicted))
}

func (h *Handle) Identifier() models.Identifier { return h.backend.Identifier() }
func (h *Handle) Name() string                  { return h.backend.Name() }

func (h *Handle) Exists(ctx context.Context) (bool, error) {
	return h.backend.Exists(ctx)
}

func (h *Handle) Create(ctx context.Context, secret []byte) error {
	return h.backend.Create(ctx, secret)
}

func (h *Handle) Unlock(ctx context.Context, secret []byte) error {
	return h.backend.Unlock(ctx, secret)
}

func (h *Handle) Rename(ctx context.Context, newPath string) error {
	return h.backend.Rename(ctx, newPath)
}

func (h *Handle) Delete(ctx context.Context) error {
	return h.backend.Delete(ctx)
}

func (h *Handle) Search(ctx context.Context, q models.Query) ([]models.Record, error) {
	return h.backend.Search(ctx, q)
}

func (h *Handle) Get(ctx context.Context, id uuid.UUID) (models.Record, error) {
	return h.backend.Get(ctx, id)
}

func (h *Handle) Put(ctx context.Context, rec models.Record) error {
	return h.backend.Put(ctx, rec)
}

func (h *Handle) Update(ctx context.Context, rec models.Record) error {
	return h.backend.Update(ctx, rec)
}
