package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"keyward/internal/keyring/models"
	"keyward/internal/prefstore"
	"keyward/internal/registry"
	"keyward/pkg/platform/sentinel"
)

// System identity assignment tags. Assignments are keyed by the consumer
// they serve; Default is the fallback every other tag resolves through.
const (
	SystemTagDefault = "default"
	SystemTagKDC     = "kdc"
)

// systemPrefDomain is the preference-store domain holding the name to
// public-key-hash mapping.
const systemPrefDomain = "system-identities"

// PrivilegeCheck reports whether the calling context may modify system-wide
// identity assignments.
type PrivilegeCheck func(ctx context.Context) bool

// SystemIdentities manages machine-wide identity assignments: a mapping
// from a consumer tag to the public key hash of the chosen certificate,
// stored in the shared preference store and resolved against a designated
// system store. The state is shared across users and processes, so it has
// its own lock, independent of the per-process manager lock.
type SystemIdentities struct {
	mu sync.Mutex

	log         *slog.Logger
	prefs       prefstore.Store
	registry    *registry.Registry
	systemStore models.Identifier
	privileged  PrivilegeCheck
}

// NewSystemIdentities wires the system assignment surface. privileged gates
// writes; a nil check denies all writes.
func NewSystemIdentities(log *slog.Logger, prefs prefstore.Store, reg *registry.Registry, systemStore models.Identifier, privileged PrivilegeCheck) *SystemIdentities {
	if privileged == nil {
		privileged = func(context.Context) bool { return false }
	}
	return &SystemIdentities{
		log:         log,
		prefs:       prefs,
		registry:    reg,
		systemStore: systemStore,
		privileged:  privileged,
	}
}

// Get resolves the identity assigned to tag. A tag with no assignment of
// its own falls back to the Default assignment before giving up.
func (s *SystemIdentities) Get(ctx context.Context, tag string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := s.prefs.GetValue(ctx, systemPrefDomain, tag)
	if errors.Is(err, sentinel.ErrNotFound) && tag != SystemTagDefault {
		hash, err = s.prefs.GetValue(ctx, systemPrefDomain, SystemTagDefault)
	}
	if err != nil {
		return Identity{}, err
	}
	return s.identityByHash(ctx, hash)
}

// identityByHash finds the certificate and key carrying hash in the system
// store.
func (s *SystemIdentities) identityByHash(ctx context.Context, hash []byte) (Identity, error) {
	h, err := s.registry.Resolve(ctx, s.systemStore)
	if err != nil {
		return Identity{}, err
	}
	certs, err := h.Search(ctx, models.Query{Class: models.ClassCertificate, PublicKeyHash: hash})
	if err != nil {
		return Identity{}, err
	}
	if len(certs) == 0 {
		return Identity{}, fmt.Errorf("%w: no certificate with assigned key hash", sentinel.ErrNotFound)
	}
	key, err := privateKeyFor(ctx, h, certs[0])
	if err != nil {
		return Identity{}, err
	}
	return Identity{Certificate: certs[0], Key: key, Store: s.systemStore}, nil
}

// Set assigns the identity with the given public key hash to tag. A nil
// hash removes the assignment; removing a tag that has none is a no-op.
// Requires privilege; the mapping is flushed before returning so other
// processes observe it.
func (s *SystemIdentities) Set(ctx context.Context, tag string, publicKeyHash []byte) error {
	if !s.privileged(ctx) {
		return fmt.Errorf("%w: system identity writes require privilege", sentinel.ErrAuthFailure)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if publicKeyHash == nil {
		err := s.prefs.RemoveValue(ctx, systemPrefDomain, tag)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
	} else {
		if err := s.prefs.SetValue(ctx, systemPrefDomain, tag, publicKeyHash); err != nil {
			return err
		}
	}
	if err := s.prefs.Flush(ctx); err != nil {
		return err
	}
	s.log.Info("system identity assignment changed", "tag", tag, "removed", publicKeyHash == nil)
	return nil
}
