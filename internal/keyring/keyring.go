// Package keyring defines the per-store backend contract and the cached
// handle that the rest of the system passes around. The backend is an opaque
// encrypted record store; this package never looks inside it beyond the
// attribute schema in models.
package keyring

import (
	"context"

	"github.com/google/uuid"

	"keyward/internal/keyring/models"
)

// Backend is one opened credential store. Implementations are interface-driven
// so the in-memory, file, PostgreSQL and Redis stores stay swappable without
// rewiring the search layer.
type Backend interface {
	Identifier() models.Identifier
	// Name is the short human name of the store (last path element).
	Name() string

	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context, secret []byte) error
	Unlock(ctx context.Context, secret []byte) error
	Rename(ctx context.Context, newPath string) error
	Delete(ctx context.Context) error

	// Search returns every record matching the predicate, in insertion order.
	Search(ctx context.Context, q models.Query) ([]models.Record, error)
	Get(ctx context.Context, id uuid.UUID) (models.Record, error)
	Put(ctx context.Context, rec models.Record) error
	Update(ctx context.Context, rec models.Record) error
}

// Provider opens backends by identifier. Opening never requires the backing
// database to exist; Exists and Unlock report availability afterwards.
type Provider interface {
	Open(ctx context.Context, id models.Identifier) (Backend, error)
	// Tag is the provider component of every identifier this provider serves.
	Tag() string
}
