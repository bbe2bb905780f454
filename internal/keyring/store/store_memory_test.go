package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

func memID(path string) models.Identifier {
	return models.Identifier{Provider: "memory", Path: path}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	b, err := p.Open(ctx, memID("/rings/login"))
	require.NoError(t, err)

	exists, err := b.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Create(ctx, []byte("s3cret")))

	exists, err = b.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	err = b.Create(ctx, []byte("s3cret"))
	assert.ErrorIs(t, err, sentinel.ErrAlreadyExists)
}

func TestMemoryStore_UnlockErrors(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	b, err := p.Open(ctx, memID("/rings/a"))
	require.NoError(t, err)

	err = b.Unlock(ctx, []byte("whatever"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, b.Create(ctx, []byte("right")))

	// Lock state is per session: a second backend over the same data starts
	// locked even when the first one is open.
	other, err := p.Open(ctx, memID("/rings/a"))
	require.NoError(t, err)

	err = other.Unlock(ctx, []byte("wrong"))
	assert.ErrorIs(t, err, sentinel.ErrAuthFailure)

	_, err = other.Search(ctx, models.Query{})
	assert.ErrorIs(t, err, sentinel.ErrLocked)

	require.NoError(t, other.Unlock(ctx, []byte("right")))
	_, err = other.Search(ctx, models.Query{})
	assert.NoError(t, err)
}

func TestMemoryStore_RecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	b, err := p.Open(ctx, memID("/rings/records"))
	require.NoError(t, err)
	require.NoError(t, b.Create(ctx, nil))

	first := models.Record{
		Class:   models.ClassGenericSecret,
		Service: "https://example.com",
		TypeTag: models.PreferenceTypeTag,
		Account: "alice",
	}
	second := models.Record{
		Class:   models.ClassCertificate,
		Label:   "Alice Cert",
		Issuer:  []byte("issuer-dn"),
	}
	require.NoError(t, b.Put(ctx, first))
	require.NoError(t, b.Put(ctx, second))

	all, err := b.Search(ctx, models.Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Insertion order is preserved.
	assert.Equal(t, "alice", all[0].Account)
	assert.Equal(t, "Alice Cert", all[1].Label)
	assert.NotEqual(t, uuid.Nil, all[0].ID)
	assert.False(t, all[0].CreatedAt.IsZero())

	certs, err := b.Search(ctx, models.Query{Class: models.ClassCertificate})
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, second.Label, certs[0].Label)

	got, err := b.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.Service)

	got.Account = "bob"
	require.NoError(t, b.Update(ctx, got))
	got, err = b.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Account)

	_, err = b.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	err = b.Update(ctx, models.Record{ID: uuid.New()})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_RenameReplacesTarget(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	src, err := p.Open(ctx, memID("/rings/src"))
	require.NoError(t, err)
	require.NoError(t, src.Create(ctx, []byte("a")))
	require.NoError(t, src.Put(ctx, models.Record{Class: models.ClassGenericSecret, Service: "svc"}))

	dst, err := p.Open(ctx, memID("/rings/dst"))
	require.NoError(t, err)
	require.NoError(t, dst.Create(ctx, []byte("b")))

	require.NoError(t, src.Rename(ctx, "/rings/dst"))
	assert.Equal(t, memID("/rings/dst"), src.Identifier())
	assert.Equal(t, "dst", src.Name())

	reopened, err := p.Open(ctx, memID("/rings/dst"))
	require.NoError(t, err)
	require.NoError(t, reopened.Unlock(ctx, []byte("a")))
	recs, err := reopened.Search(ctx, models.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "svc", recs[0].Service)

	// The old path is gone.
	old, err := p.Open(ctx, memID("/rings/src"))
	require.NoError(t, err)
	exists, err := old.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	b, err := p.Open(ctx, memID("/rings/gone"))
	require.NoError(t, err)

	err = b.Delete(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, b.Create(ctx, nil))
	require.NoError(t, b.Delete(ctx))

	exists, err := b.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryProvider_RejectsForeignProvider(t *testing.T) {
	p := NewMemoryProvider()
	_, err := p.Open(context.Background(), models.Identifier{Provider: "postgres", Path: "/x"})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
