// Package search composes credential stores into ordered search paths and
// drives queries across them.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/internal/notify"
	"keyward/internal/registry"
	"keyward/internal/searchlist"
	"keyward/pkg/platform/dedupe"
	"keyward/pkg/platform/sentinel"
)

// Config carries the manager's fixed identifiers and starting domain.
type Config struct {
	// Domain selects the starting current domain.
	Domain searchlist.Domain
	// LoginStore is the canonical identifier of the login store.
	LoginStore models.Identifier
	// LegacyLoginStore names the historical on-disk location a login store
	// may still live at. Zero disables the legacy fallback.
	LegacyLoginStore models.Identifier
}

// Manager owns the persisted search lists, the current-domain selection and
// the transient dynamic list. All list mutation goes through one mutex; the
// registry serializes handle state on its own, and the lock ordering is
// always manager then registry. Change notifications are collected while
// locked and posted after release.
type Manager struct {
	log      *slog.Logger
	metrics  *Metrics
	registry *registry.Registry
	storage  searchlist.Storage
	notifier notify.Notifier

	loginID  models.Identifier
	legacyID models.Identifier

	mu      sync.Mutex
	domain  searchlist.Domain
	dynamic []models.Identifier
}

// NewManager wires the manager. Metrics may be nil.
func NewManager(log *slog.Logger, metrics *Metrics, reg *registry.Registry, storage searchlist.Storage, notifier notify.Notifier, cfg Config) *Manager {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Manager{
		log:      log,
		metrics:  metrics,
		registry: reg,
		storage:  storage,
		notifier: notifier,
		loginID:  cfg.LoginStore,
		legacyID: cfg.LegacyLoginStore,
		domain:   cfg.Domain,
	}
}

// Domain returns the currently selected domain.
func (m *Manager) Domain() searchlist.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domain
}

// SetDomain switches the current domain. Every defined domain is selectable;
// selecting Dynamic makes the effective list the dynamic stores plus Common.
func (m *Manager) SetDomain(d searchlist.Domain) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %s", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	m.domain = d
	m.mu.Unlock()
	return nil
}

// SetDynamic replaces the transient dynamic store list. Dynamic entries are
// never persisted; they are re-supplied each process start.
func (m *Manager) SetDynamic(ctx context.Context, ids []models.Identifier) {
	m.mu.Lock()
	changed := !searchlist.State{Stores: m.dynamic}.Equal(searchlist.State{Stores: ids})
	m.dynamic = append([]models.Identifier(nil), ids...)
	m.mu.Unlock()
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, searchlist.DomainDynamic.String(), models.Identifier{}))
	}
}

// loadLocked reads a domain's state. Caller holds m.mu.
func (m *Manager) loadLocked(ctx context.Context, d searchlist.Domain) (searchlist.State, error) {
	if d == searchlist.DomainDynamic {
		return searchlist.State{Stores: append([]models.Identifier(nil), m.dynamic...)}, nil
	}
	return m.storage.Load(ctx, d)
}

// saveLocked persists a domain's state, reporting whether it changed.
// Caller holds m.mu.
func (m *Manager) saveLocked(ctx context.Context, d searchlist.Domain, st searchlist.State) (bool, error) {
	changed, err := m.storage.Save(ctx, d, st)
	if err != nil {
		return false, err
	}
	if changed {
		m.metrics.listSaved()
	}
	return changed, nil
}

// SearchList returns the persisted (or, for Dynamic, transient) state of one
// domain.
func (m *Manager) SearchList(ctx context.Context, d searchlist.Domain) (searchlist.State, error) {
	if !d.Valid() {
		return searchlist.State{}, fmt.Errorf("%w: %s", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, d)
}

// EffectiveSearchList materializes the ordered list of live handles the
// process searches: Dynamic, then the current domain, then Common, deduped
// in favor of the earlier occurrence. Listed stores that cannot currently be
// opened are skipped; they reappear once available again.
func (m *Manager) EffectiveSearchList(ctx context.Context) ([]*keyring.Handle, error) {
	m.mu.Lock()
	ids := append([]models.Identifier(nil), m.dynamic...)
	if m.domain != searchlist.DomainDynamic {
		st, err := m.loadLocked(ctx, m.domain)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		ids = append(ids, st.Stores...)
	}
	common, err := m.loadLocked(ctx, searchlist.DomainCommon)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ids = append(ids, common.Stores...)
	m.mu.Unlock()

	seen := make(map[models.Identifier]struct{}, len(ids))
	handles := make([]*keyring.Handle, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		h, err := m.registry.Resolve(ctx, id)
		if err != nil {
			m.metrics.storeSkipped()
			m.log.Debug("skipping unavailable store", "store", id.String(), "error", err)
			continue
		}
		handles = append(handles, h)
	}
	m.metrics.listBuilt(len(handles))
	return handles, nil
}

// Count reports how many stores are on the effective search list.
func (m *Manager) Count(ctx context.Context) (int, error) {
	handles, err := m.EffectiveSearchList(ctx)
	if err != nil {
		return 0, err
	}
	return len(handles), nil
}

// At returns the store at position i of the effective search list.
func (m *Manager) At(ctx context.Context, i int) (*keyring.Handle, error) {
	handles, err := m.EffectiveSearchList(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(handles) {
		return nil, fmt.Errorf("%w: no store at position %d", sentinel.ErrNotFound, i)
	}
	return handles[i], nil
}

// SetSearchList replaces the persisted sequence for a domain. Setting the
// currently selected domain strips any trailing suffix that exactly matches
// the full Common list before saving, so entries already implied by Common
// are not written twice. The Dynamic domain cannot be set this way.
func (m *Manager) SetSearchList(ctx context.Context, d searchlist.Domain, ids []models.Identifier) error {
	if d == searchlist.DomainDynamic || !d.Valid() {
		return fmt.Errorf("%w: cannot set search list for %s", sentinel.ErrInvalidDomain, d)
	}
	ids = dedupe.FirstWins(ids)

	m.mu.Lock()
	if d == m.domain && d != searchlist.DomainCommon {
		common, err := m.loadLocked(ctx, searchlist.DomainCommon)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		ids = stripCommonSuffix(ids, common.Stores)
	}

	st, err := m.loadLocked(ctx, d)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.Stores = ids
	changed, err := m.saveLocked(ctx, d, st)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, d.String(), models.Identifier{}))
	}
	return nil
}

// AddStore ensures the store behind id exists, creating it with secret when
// makeIfAbsent is set, and appends it to the current domain's list. A store
// that still does not exist after the ensure step is not added; only real,
// openable stores are searchable. Adding a store already on the list fails
// with ErrDuplicateMember.
func (m *Manager) AddStore(ctx context.Context, id models.Identifier, makeIfAbsent bool, secret []byte) (*keyring.Handle, error) {
	h, err := m.registry.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := h.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !makeIfAbsent {
			return h, nil
		}
		if err := h.Create(ctx, secret); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	d := m.domain
	if d == searchlist.DomainDynamic {
		st := searchlist.State{Stores: m.dynamic}
		if st.Member(id) {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", sentinel.ErrDuplicateMember, id)
		}
		m.dynamic = append(m.dynamic, id)
		m.mu.Unlock()
		m.post(ctx, notify.NewEvent(notify.KindStoreAdded, d.String(), id))
		return h, nil
	}

	st, err := m.loadLocked(ctx, d)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if st.Member(id) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", sentinel.ErrDuplicateMember, id)
	}
	st.Add(id)
	changed, err := m.saveLocked(ctx, d, st)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindStoreAdded, d.String(), id))
	}
	return h, nil
}

// DefaultInDomain returns the domain's default store. Fails with ErrNotFound
// when unset or when the designated store no longer exists.
func (m *Manager) DefaultInDomain(ctx context.Context, d searchlist.Domain) (*keyring.Handle, error) {
	m.mu.Lock()
	st, err := m.loadLocked(ctx, d)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if st.Default.IsZero() {
		return nil, fmt.Errorf("%w: no default store in %s domain", sentinel.ErrNotFound, d)
	}
	h, err := m.registry.Resolve(ctx, st.Default)
	if err != nil {
		return nil, err
	}
	exists, err := h.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: default store %s is gone", sentinel.ErrNotFound, st.Default)
	}
	return h, nil
}

// Default returns the current domain's default store.
func (m *Manager) Default(ctx context.Context) (*keyring.Handle, error) {
	return m.DefaultInDomain(ctx, m.Domain())
}

// SetDefaultInDomain designates a domain's default store.
func (m *Manager) SetDefaultInDomain(ctx context.Context, d searchlist.Domain, id models.Identifier) error {
	if !d.Persistent() {
		return fmt.Errorf("%w: cannot set default for %s", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	st, err := m.loadLocked(ctx, d)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.Default = id
	changed, err := m.saveLocked(ctx, d, st)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindDefaultChanged, d.String(), id))
	}
	return nil
}

// SetDefault designates the current domain's default store.
func (m *Manager) SetDefault(ctx context.Context, id models.Identifier) error {
	return m.SetDefaultInDomain(ctx, m.Domain(), id)
}

// LoginStore returns the designated login store. Login designation lives in
// the user domain only.
func (m *Manager) LoginStore(ctx context.Context) (*keyring.Handle, error) {
	m.mu.Lock()
	st, err := m.loadLocked(ctx, searchlist.DomainUser)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if st.Login.IsZero() {
		return nil, fmt.Errorf("%w: no login store designated", sentinel.ErrNotFound)
	}
	return m.registry.Resolve(ctx, st.Login)
}

// SetLoginStore designates the login store in the user domain.
func (m *Manager) SetLoginStore(ctx context.Context, id models.Identifier) error {
	m.mu.Lock()
	st, err := m.loadLocked(ctx, searchlist.DomainUser)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.Login = id
	changed, err := m.saveLocked(ctx, searchlist.DomainUser, st)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, searchlist.DomainUser.String(), id))
	}
	return nil
}

// Rename moves the store behind h to a new path, rewrites its identifier in
// every persisted list and designation, and rekeys the registry entry. The
// backing rename happens first; if it fails nothing else is touched.
func (m *Manager) Rename(ctx context.Context, h *keyring.Handle, newPath string) error {
	old := h.Identifier()
	if err := h.Rename(ctx, newPath); err != nil {
		return err
	}
	updated := old
	updated.Path = newPath

	m.registry.Rekey(old, updated, h)

	var events []notify.Event
	m.mu.Lock()
	for i, id := range m.dynamic {
		if id == old {
			m.dynamic[i] = updated
		}
	}
	for _, d := range searchlist.Domains() {
		if !d.Persistent() {
			continue
		}
		st, err := m.loadLocked(ctx, d)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		wasDefault := st.Default == old
		if !st.Rename(old, updated) {
			continue
		}
		if _, err := m.saveLocked(ctx, d, st); err != nil {
			m.mu.Unlock()
			return err
		}
		if wasDefault {
			events = append(events, notify.NewEvent(notify.KindDefaultChanged, d.String(), updated))
		}
	}
	m.mu.Unlock()

	events = append(events, notify.NewEvent(notify.KindStoreRenamed, "", updated))
	m.post(ctx, events...)
	return nil
}

// RenameUnique renames h to base, or base-2, base-3, ... if earlier names
// are taken. Unlike Rename it never replaces an existing store.
func (m *Manager) RenameUnique(ctx context.Context, h *keyring.Handle, base string) error {
	const attempts = 100
	for i := 1; i <= attempts; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		id := h.Identifier()
		id.Path = candidate
		probe, err := m.registry.Resolve(ctx, id)
		if err != nil {
			return err
		}
		taken, err := probe.Exists(ctx)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		return m.Rename(ctx, h, candidate)
	}
	return fmt.Errorf("%w: no free name for %q", sentinel.ErrAlreadyExists, base)
}

// Remove drops each listed store from the current domain's search list and,
// when deleteBacking is set, evicts its handle and deletes the underlying
// store. List bookkeeping commits first; backing deletion runs afterwards,
// outside the lock, each store independently. The first deletion failure is
// reported after the whole batch is attempted.
func (m *Manager) Remove(ctx context.Context, ids []models.Identifier, deleteBacking bool) error {
	var events []notify.Event
	m.mu.Lock()
	d := m.domain
	if d == searchlist.DomainDynamic {
		st := searchlist.State{Stores: m.dynamic}
		changed := false
		for _, id := range ids {
			if st.Remove(id) {
				changed = true
			}
		}
		m.dynamic = st.Stores
		m.mu.Unlock()
		if changed {
			events = append(events, notify.NewEvent(notify.KindSearchListChanged, d.String(), models.Identifier{}))
		}
	} else {
		st, err := m.loadLocked(ctx, d)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		changed := false
		defaultCleared := false
		for _, id := range ids {
			hadDefault := st.Default == id
			if st.Remove(id) {
				changed = true
				if hadDefault {
					defaultCleared = true
				}
			}
		}
		if changed {
			if _, err := m.saveLocked(ctx, d, st); err != nil {
				m.mu.Unlock()
				return err
			}
			events = append(events, notify.NewEvent(notify.KindSearchListChanged, d.String(), models.Identifier{}))
			if defaultCleared {
				events = append(events, notify.NewEvent(notify.KindDefaultChanged, d.String(), models.Identifier{}))
			}
		}
		m.mu.Unlock()
	}

	var firstErr error
	if deleteBacking {
		for _, id := range ids {
			h, err := m.registry.Resolve(ctx, id)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			m.registry.Evict(id, h)
			if err := h.Delete(ctx); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				if firstErr == nil {
					firstErr = err
				}
				m.log.Warn("store deletion failed", "store", id.String(), "error", err)
			} else {
				events = append(events, notify.NewEvent(notify.KindStoreRemoved, d.String(), id))
			}
		}
	}
	m.post(ctx, events...)
	return firstErr
}

// NewCursor builds a cursor over the current effective search list.
func (m *Manager) NewCursor(ctx context.Context, q models.Query) (*Cursor, error) {
	handles, err := m.EffectiveSearchList(ctx)
	if err != nil {
		return nil, err
	}
	return NewCursor(handles, q), nil
}

// AddToDomainList appends id to a specific domain's list without touching
// the current-domain selection.
func (m *Manager) AddToDomainList(ctx context.Context, d searchlist.Domain, id models.Identifier) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %s", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	if d == searchlist.DomainDynamic {
		st := searchlist.State{Stores: m.dynamic}
		if !st.Add(id) {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", sentinel.ErrDuplicateMember, id)
		}
		m.dynamic = st.Stores
		m.mu.Unlock()
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, d.String(), id))
		return nil
	}
	st, err := m.loadLocked(ctx, d)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !st.Add(id) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", sentinel.ErrDuplicateMember, id)
	}
	changed, err := m.saveLocked(ctx, d, st)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, d.String(), id))
	}
	return nil
}

// IsInDomainList reports membership of id in a domain's list.
func (m *Manager) IsInDomainList(ctx context.Context, d searchlist.Domain, id models.Identifier) (bool, error) {
	if !d.Valid() {
		return false, fmt.Errorf("%w: %s", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loadLocked(ctx, d)
	if err != nil {
		return false, err
	}
	return st.Member(id), nil
}

// RemoveFromDomainList drops id from a domain's list. Removing an absent
// member is a no-op.
func (m *Manager) RemoveFromDomainList(ctx context.Context, d searchlist.Domain, id models.Identifier) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %s", sentinel.ErrInvalidDomain, d)
	}
	m.mu.Lock()
	if d == searchlist.DomainDynamic {
		st := searchlist.State{Stores: m.dynamic}
		changed := st.Remove(id)
		m.dynamic = st.Stores
		m.mu.Unlock()
		if changed {
			m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, d.String(), id))
		}
		return nil
	}
	st, err := m.loadLocked(ctx, d)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !st.Remove(id) {
		m.mu.Unlock()
		return nil
	}
	changed, err := m.saveLocked(ctx, d, st)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, d.String(), id))
	}
	return nil
}

// Registry exposes the handle cache for collaborators that need direct
// resolution, e.g. the preference resolver chasing persistent references.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// post fires collected notifications after the lock is released. Delivery is
// advisory; failures are logged and counted, never propagated.
func (m *Manager) post(ctx context.Context, events ...notify.Event) {
	for _, ev := range events {
		if err := m.notifier.Post(ctx, ev); err != nil {
			m.metrics.notifyFailed()
			m.log.Warn("change notification failed", "kind", string(ev.Kind), "error", err)
		}
	}
}

// stripCommonSuffix removes a trailing run of ids that exactly equals the
// full common list.
func stripCommonSuffix(ids, common []models.Identifier) []models.Identifier {
	if len(common) == 0 || len(ids) < len(common) {
		return ids
	}
	offset := len(ids) - len(common)
	for i, id := range common {
		if ids[offset+i] != id {
			return ids
		}
	}
	return ids[:offset]
}
