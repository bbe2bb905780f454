package search

import (
	"context"
	"errors"
	"fmt"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/internal/notify"
	"keyward/internal/searchlist"
	"keyward/pkg/platform/sentinel"
)

// Login unlocks the designated login store, reconciling the historical
// on-disk layouts a first use may find:
//
//  1. the designated (or canonical) login store exists: unlock it;
//  2. it does not exist but a legacy-named store does: rename the legacy
//     store into place and unlock it;
//  3. neither exists: create a fresh login store with the secret and make it
//     both login and default.
//
// A second legacy store sharing the same secret is then opportunistically
// unlocked and added to the user list; that step is best-effort and its
// failure is swallowed. Only the primary login-store handling can fail the
// call.
func (m *Manager) Login(ctx context.Context, secret []byte) error {
	if m.loginID.IsZero() {
		return fmt.Errorf("%w: no login store configured", sentinel.ErrNotFound)
	}

	loginID := m.loginID
	m.mu.Lock()
	st, err := m.loadLocked(ctx, searchlist.DomainUser)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if !st.Login.IsZero() {
		loginID = st.Login
	}

	h, err := m.registry.Resolve(ctx, loginID)
	if err != nil {
		return err
	}

	err = h.Unlock(ctx, secret)
	switch {
	case err == nil:
		// Designations may be missing on an otherwise healthy store, e.g.
		// after the list file was recreated.
		if err := m.ensureLoginDesignations(ctx, loginID); err != nil {
			return err
		}
	case errors.Is(err, sentinel.ErrNotFound):
		if err := m.bootstrapLogin(ctx, h, secret); err != nil {
			return err
		}
	default:
		return err
	}

	m.unlockLegacy(ctx, secret)
	return nil
}

// bootstrapLogin handles the login store not existing yet: move a legacy
// store into place if one does, otherwise create a fresh store.
func (m *Manager) bootstrapLogin(ctx context.Context, login *keyring.Handle, secret []byte) error {
	if !m.legacyID.IsZero() && m.legacyID != m.loginID {
		legacy, err := m.registry.Resolve(ctx, m.legacyID)
		if err == nil {
			exists, err := legacy.Exists(ctx)
			if err == nil && exists {
				if err := m.Rename(ctx, legacy, m.loginID.Path); err != nil {
					return err
				}
				if err := legacy.Unlock(ctx, secret); err != nil {
					return err
				}
				return m.ensureLoginDesignations(ctx, m.loginID)
			}
		}
	}

	if err := login.Create(ctx, secret); err != nil {
		return err
	}
	m.log.Info("created fresh login store", "store", m.loginID.String())
	return m.ensureLoginDesignations(ctx, m.loginID)
}

// ensureLoginDesignations makes id the user domain's login store, the
// default if none is set, and a search-list member.
func (m *Manager) ensureLoginDesignations(ctx context.Context, id models.Identifier) error {
	m.mu.Lock()
	st, err := m.loadLocked(ctx, searchlist.DomainUser)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.Login = id
	defaultSet := false
	if st.Default.IsZero() {
		st.Default = id
		defaultSet = true
	}
	st.Add(id)
	changed, err := m.saveLocked(ctx, searchlist.DomainUser, st)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		m.post(ctx, notify.NewEvent(notify.KindSearchListChanged, searchlist.DomainUser.String(), id))
		if defaultSet {
			m.post(ctx, notify.NewEvent(notify.KindDefaultChanged, searchlist.DomainUser.String(), id))
		}
	}
	return nil
}

// unlockLegacy opportunistically opens the legacy-named store with the login
// secret and adds it to the user list. Every failure here is swallowed; the
// store may legitimately be gone or carry a different secret.
func (m *Manager) unlockLegacy(ctx context.Context, secret []byte) {
	if m.legacyID.IsZero() || m.legacyID == m.loginID {
		return
	}
	legacy, err := m.registry.Resolve(ctx, m.legacyID)
	if err != nil {
		return
	}
	exists, err := legacy.Exists(ctx)
	if err != nil || !exists {
		return
	}
	if err := legacy.Unlock(ctx, secret); err != nil {
		m.log.Debug("legacy store unlock skipped", "store", m.legacyID.String(), "error", err)
		return
	}
	if err := m.AddToDomainList(ctx, searchlist.DomainUser, m.legacyID); err != nil &&
		!errors.Is(err, sentinel.ErrDuplicateMember) {
		m.log.Debug("legacy store not added to search list", "store", m.legacyID.String(), "error", err)
	}
}

// Reset retires the login store and starts over with a fresh one protected
// by the new secret. The old store is moved aside under a renamed path so its
// data survives; if that rename fails its backing data is deleted instead.
// Both are best-effort: a fresh store is created and designated login and
// default either way.
func (m *Manager) Reset(ctx context.Context, newSecret []byte) error {
	if m.loginID.IsZero() {
		return fmt.Errorf("%w: no login store configured", sentinel.ErrNotFound)
	}

	if old, err := m.registry.Resolve(ctx, m.loginID); err == nil {
		m.retireLoginStore(ctx, old)
	}

	fresh, err := m.registry.Resolve(ctx, m.loginID)
	if err != nil {
		return err
	}
	if err := fresh.Create(ctx, newSecret); err != nil {
		return err
	}
	if err := m.ensureLoginDesignations(ctx, m.loginID); err != nil {
		return err
	}
	m.post(ctx, notify.NewEvent(notify.KindStoreAdded, searchlist.DomainUser.String(), m.loginID))
	return nil
}

// retireLoginStore moves the store aside under a renamed path, delisting it
// so the fresh login store takes over its designations. When the rename
// cannot be done the backing data is deleted instead.
func (m *Manager) retireLoginStore(ctx context.Context, old *keyring.Handle) {
	if err := m.RenameUnique(ctx, old, m.loginID.Path+"_renamed"); err == nil {
		if err := m.Remove(ctx, []models.Identifier{old.Identifier()}, false); err != nil {
			m.log.Warn("renamed login store not delisted",
				"store", old.Identifier().String(), "error", err)
		}
		return
	}
	m.registry.Evict(m.loginID, old)
	if err := old.Delete(ctx); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		m.log.Warn("old login store not deleted", "store", m.loginID.String(), "error", err)
	}
}
