// Package registry caches open store handles so that every part of the
// daemon holding the same store identifier shares one backend session.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

// Registry maps store identifiers to live handles. Opens for the same
// identifier are collapsed so a store's backend is dialed at most once no
// matter how many callers race on it.
type Registry struct {
	log       *slog.Logger
	metrics   *Metrics
	providers map[string]keyring.Provider

	mu      sync.RWMutex
	handles map[models.Identifier]*keyring.Handle

	opens singleflight.Group
}

// New builds a registry over the given providers. Metrics may be nil.
func New(log *slog.Logger, metrics *Metrics, providers ...keyring.Provider) *Registry {
	byTag := make(map[string]keyring.Provider, len(providers))
	for _, p := range providers {
		byTag[p.Tag()] = p
	}
	return &Registry{
		log:       log,
		metrics:   metrics,
		providers: byTag,
		handles:   make(map[models.Identifier]*keyring.Handle),
	}
}

// Resolve returns the cached handle for id, opening the backend on a miss.
// Concurrent misses for the same identifier share a single open.
func (r *Registry) Resolve(ctx context.Context, id models.Identifier) (*keyring.Handle, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: empty store identifier", sentinel.ErrNotFound)
	}

	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if ok {
		r.metrics.hit()
		return h, nil
	}
	r.metrics.miss()

	v, err, _ := r.opens.Do(id.String(), func() (any, error) {
		// Re-check: a racing flight may have inserted between our read miss
		// and this flight starting.
		r.mu.RLock()
		h, ok := r.handles[id]
		r.mu.RUnlock()
		if ok {
			return h, nil
		}

		p, ok := r.providers[id.Provider]
		if !ok {
			return nil, fmt.Errorf("%w: no provider for %q", sentinel.ErrUnavailable, id.Provider)
		}
		backend, err := p.Open(ctx, id)
		if err != nil {
			r.metrics.openFailed()
			return nil, fmt.Errorf("open store %s: %w", id, err)
		}
		r.metrics.opened()

		h = keyring.NewHandle(backend)
		r.mu.Lock()
		if existing, ok := r.handles[id]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.handles[id] = h
		r.mu.Unlock()
		h.MarkCached()

		r.log.Debug("store handle opened", "store", id.String())
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keyring.Handle), nil
}

// Cached returns the handle for id without opening anything.
func (r *Registry) Cached(id models.Identifier) (*keyring.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Evict drops h from the cache. Safe to call more than once and safe to call
// with a handle that was already replaced; only the exact cached handle is
// removed, and the handle's cache state flips to evicted exactly once.
func (r *Registry) Evict(id models.Identifier, h *keyring.Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if cur, ok := r.handles[id]; ok && cur == h {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if h.MarkEvicted() {
		r.metrics.evicted()
		r.log.Debug("store handle evicted", "store", id.String())
	}
}

// NotifyExternallyRemoved evicts whatever handle is cached for id. Called
// when a store disappears out from under us, e.g. its backing file was
// deleted by another process.
func (r *Registry) NotifyExternallyRemoved(id models.Identifier) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if ok && h.MarkEvicted() {
		r.metrics.evicted()
		r.log.Debug("store handle removed externally", "store", id.String())
	}
}

// Rekey moves h from its old identifier to a new one after a rename. The
// handle stays cached; anything mapped at the new identifier is evicted
// first.
func (r *Registry) Rekey(old, new models.Identifier, h *keyring.Handle) {
	r.mu.Lock()
	displaced, hadTarget := r.handles[new]
	if cur, ok := r.handles[old]; ok && cur == h {
		delete(r.handles, old)
	}
	r.handles[new] = h
	r.mu.Unlock()

	if hadTarget && displaced != h && displaced.MarkEvicted() {
		r.metrics.evicted()
	}
}

// Len reports how many handles are cached.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
