// Package identity resolves symbolic names to stored identity preferences
// and writes them back, walking hierarchical names through the effective
// search list.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/internal/notify"
	"keyward/internal/search"
	"keyward/pkg/platform/sentinel"
)

// Identity pairs a certificate record with its private key record. The pair
// always comes from one store, matched by public key hash.
type Identity struct {
	Certificate models.Record
	Key         models.Record
	Store       models.Identifier
}

// UI is the interactive collaborator invoked when a preference write needs a
// default store and none is designated.
type UI interface {
	EstablishDefaultStore(ctx context.Context) (*keyring.Handle, error)
}

// NonInteractiveUI refuses interaction. Daemons without a user session use
// this so writes fail cleanly instead of hanging.
type NonInteractiveUI struct{}

func (NonInteractiveUI) EstablishDefaultStore(context.Context) (*keyring.Handle, error) {
	return nil, fmt.Errorf("%w: no default store and interaction disabled", sentinel.ErrInteractionNotAllowed)
}

// Resolver reads and writes identity preference records.
type Resolver struct {
	log      *slog.Logger
	manager  *search.Manager
	notifier notify.Notifier
	ui       UI
}

// NewResolver wires the resolver. A nil notifier discards events; a nil ui
// refuses interaction.
func NewResolver(log *slog.Logger, manager *search.Manager, notifier notify.Notifier, ui UI) *Resolver {
	if notifier == nil {
		notifier = notify.Discard
	}
	if ui == nil {
		ui = NonInteractiveUI{}
	}
	return &Resolver{log: log, manager: manager, notifier: notifier, ui: ui}
}

// preferenceQuery is the lookup key for one candidate.
func preferenceQuery(service string, keyUsage int) models.Query {
	return models.Query{
		Class:   models.ClassGenericSecret,
		Service: service,
		TypeTag: models.PreferenceTypeTag,
		Usage:   keyUsage,
	}
}

// Lookup finds the preferred identity for a name. Candidates derived from
// the name are tried most-specific first; the first preference record whose
// stored certificate reference still resolves wins. validIssuers, when
// non-empty, is applied as a post-filter: a match whose certificate issuer
// is not in the set is skipped and the walk continues.
func (r *Resolver) Lookup(ctx context.Context, name string, keyUsage int, validIssuers [][]byte) (Identity, error) {
	handles, err := r.manager.EffectiveSearchList(ctx)
	if err != nil {
		return Identity{}, err
	}

	for _, candidate := range Candidates(name) {
		item, err := search.First(ctx, handles, preferenceQuery(candidate, keyUsage))
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return Identity{}, err
		}

		identity, err := r.IdentityFromPreferenceRecord(ctx, item.Record)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Dangling reference: the certificate the preference points at
			// is gone. Keep walking.
			r.log.Debug("stale identity preference", "service", candidate)
			continue
		}
		if err != nil {
			return Identity{}, err
		}
		if len(validIssuers) > 0 && !issuerAllowed(identity.Certificate.Issuer, validIssuers) {
			continue
		}
		return identity, nil
	}
	return Identity{}, fmt.Errorf("%w: no identity preference for %q", sentinel.ErrNotFound, name)
}

func issuerAllowed(issuer []byte, validIssuers [][]byte) bool {
	for _, valid := range validIssuers {
		if bytes.Equal(issuer, valid) {
			return true
		}
	}
	return false
}

// FindPreferenceRecord locates the preference record for the exact
// (most-specific) form of name. No hierarchy walk.
func (r *Resolver) FindPreferenceRecord(ctx context.Context, name string, keyUsage int) (search.Item, error) {
	handles, err := r.manager.EffectiveSearchList(ctx)
	if err != nil {
		return search.Item{}, err
	}
	return search.First(ctx, handles, preferenceQuery(Candidates(name)[0], keyUsage))
}

// IdentityFromPreferenceRecord chases the certificate reference stored in a
// preference record to a live certificate and its private key.
func (r *Resolver) IdentityFromPreferenceRecord(ctx context.Context, rec models.Record) (Identity, error) {
	ref, err := models.DecodePersistentRef(rec.Generic)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed certificate reference", sentinel.ErrNotFound)
	}
	return r.IdentityFromReference(ctx, ref)
}

// IdentityFromReference resolves a persistent reference to an Identity.
func (r *Resolver) IdentityFromReference(ctx context.Context, ref models.PersistentRef) (Identity, error) {
	h, err := r.manager.Registry().Resolve(ctx, ref.Store)
	if err != nil {
		return Identity{}, err
	}
	cert, err := h.Get(ctx, ref.RecordID)
	if err != nil {
		return Identity{}, err
	}
	key, err := privateKeyFor(ctx, h, cert)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Certificate: cert, Key: key, Store: ref.Store}, nil
}

// privateKeyFor pairs a certificate with the key sharing its public key
// hash, searched within the certificate's own store.
func privateKeyFor(ctx context.Context, h *keyring.Handle, cert models.Record) (models.Record, error) {
	keys, err := h.Search(ctx, models.Query{Class: models.ClassKey, PublicKeyHash: cert.PublicKeyHash})
	if err != nil {
		return models.Record{}, err
	}
	if len(keys) == 0 {
		return models.Record{}, fmt.Errorf("%w: no private key for certificate %s", sentinel.ErrNotFound, cert.ID)
	}
	return keys[0], nil
}

// Set stores identity as the preference for name, using only the name's
// most-specific candidate form. An existing record for the same (service,
// usage) key is updated in place; otherwise a record is created in the
// default store, interactively establishing one if none is designated.
func (r *Resolver) Set(ctx context.Context, name string, identity Identity, keyUsage int) error {
	service := Candidates(name)[0]
	if err := r.writePreference(ctx, service, identity, keyUsage); err != nil {
		return err
	}
	r.postChanged(ctx, identity.Store)
	return nil
}

// AddPreference is Set's wider sibling: when the name decomposes to two or
// more candidates it writes both the most-specific and the top-level
// authority key, so one call satisfies an exact-URL preference and a
// domain-wide fallback. The writes are independent; the reported error is
// the most-specific write's outcome.
func (r *Resolver) AddPreference(ctx context.Context, name string, identity Identity, keyUsage int) error {
	results := r.addPreference(ctx, name, identity, keyUsage)
	r.postChanged(ctx, identity.Store)
	return results[0]
}

// addPreference returns the per-target outcomes, most-specific first.
func (r *Resolver) addPreference(ctx context.Context, name string, identity Identity, keyUsage int) []error {
	candidates := Candidates(name)
	targets := []string{candidates[0]}
	if len(candidates) > 1 {
		targets = append(targets, candidates[len(candidates)-1])
	}

	results := make([]error, len(targets))
	for i, service := range targets {
		results[i] = r.writePreference(ctx, service, identity, keyUsage)
		if results[i] != nil {
			r.log.Warn("preference write failed", "service", service, "error", results[i])
		}
	}
	return results
}

// UpdatePreferenceRecord rewrites an existing preference record in its
// owning store to point at a new identity.
func (r *Resolver) UpdatePreferenceRecord(ctx context.Context, item search.Item, identity Identity) error {
	rec := item.Record
	if err := fillFromIdentity(&rec, identity); err != nil {
		return err
	}
	if err := item.Store.Update(ctx, rec); err != nil {
		return err
	}
	r.postChanged(ctx, identity.Store)
	return nil
}

// writePreference upserts the preference record for one service key.
func (r *Resolver) writePreference(ctx context.Context, service string, identity Identity, keyUsage int) error {
	if len(service) > models.MaxServiceLen {
		return fmt.Errorf("%w: service name exceeds %d bytes", sentinel.ErrDataTooLarge, models.MaxServiceLen)
	}

	handles, err := r.manager.EffectiveSearchList(ctx)
	if err != nil {
		return err
	}

	item, err := search.First(ctx, handles, preferenceQuery(service, keyUsage))
	switch {
	case err == nil:
		rec := item.Record
		if err := fillFromIdentity(&rec, identity); err != nil {
			return err
		}
		return item.Store.Update(ctx, rec)
	case errors.Is(err, sentinel.ErrNotFound):
		target, err := r.manager.Default(ctx)
		if errors.Is(err, sentinel.ErrNotFound) {
			target, err = r.ui.EstablishDefaultStore(ctx)
		}
		if err != nil {
			return err
		}
		rec := models.Record{
			Class:   models.ClassGenericSecret,
			Service: service,
			TypeTag: models.PreferenceTypeTag,
			Usage:   keyUsage,
		}
		if err := fillFromIdentity(&rec, identity); err != nil {
			return err
		}
		return target.Put(ctx, rec)
	default:
		return err
	}
}

// fillFromIdentity populates the mutable fields of a preference record from
// an identity: the label and account mirror the certificate label, and the
// payload is the persistent certificate reference.
func fillFromIdentity(rec *models.Record, identity Identity) error {
	label := identity.Certificate.Label
	if len(label) > models.MaxLabelLen {
		return fmt.Errorf("%w: certificate label exceeds %d bytes", sentinel.ErrDataTooLarge, models.MaxLabelLen)
	}
	rec.Label = label
	rec.Account = label
	rec.Generic = models.PersistentRef{
		Store:    identity.Store,
		RecordID: identity.Certificate.ID,
	}.Encode()
	return nil
}

func (r *Resolver) postChanged(ctx context.Context, store models.Identifier) {
	ev := notify.NewEvent(notify.KindPreferenceChanged, "", store)
	if err := r.notifier.Post(ctx, ev); err != nil {
		r.log.Warn("preference change notification failed", "error", err)
	}
}
