package searchlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

func id(path string) models.Identifier {
	return models.Identifier{Provider: "memory", Path: path}
}

func TestParseDomain(t *testing.T) {
	for _, d := range Domains() {
		parsed, err := ParseDomain(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}

	_, err := ParseDomain("galactic")
	assert.ErrorIs(t, err, sentinel.ErrInvalidDomain)
}

func TestState_AddRemoveRename(t *testing.T) {
	var st State

	assert.True(t, st.Add(id("/a")))
	assert.True(t, st.Add(id("/b")))
	assert.False(t, st.Add(id("/a")), "duplicate add is a no-op")
	assert.Equal(t, []models.Identifier{id("/a"), id("/b")}, st.Stores)

	st.Default = id("/a")
	st.Login = id("/b")

	assert.True(t, st.Rename(id("/a"), id("/c")))
	assert.Equal(t, id("/c"), st.Default)
	assert.True(t, st.Member(id("/c")))
	assert.False(t, st.Member(id("/a")))

	assert.True(t, st.Remove(id("/b")))
	assert.True(t, st.Login.IsZero(), "removing the login store clears the designation")
	assert.False(t, st.Remove(id("/b")))
}

func TestState_CloneIsIndependent(t *testing.T) {
	st := State{Stores: []models.Identifier{id("/a"), id("/b")}}
	cp := st.Clone()
	cp.Stores[0] = id("/z")
	assert.Equal(t, id("/a"), st.Stores[0])
}

func TestFileStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	// Missing file loads as empty state.
	st, err := fs.Load(ctx, DomainUser)
	require.NoError(t, err)
	assert.Empty(t, st.Stores)

	st.Add(id("/rings/login"))
	st.Default = id("/rings/login")

	changed, err := fs.Save(ctx, DomainUser, st)
	require.NoError(t, err)
	assert.True(t, changed)

	// Saving identical state reports no change.
	changed, err = fs.Save(ctx, DomainUser, st)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := fs.Load(ctx, DomainUser)
	require.NoError(t, err)
	assert.True(t, st.Equal(got))

	// Domains do not bleed into each other.
	other, err := fs.Load(ctx, DomainSystem)
	require.NoError(t, err)
	assert.Empty(t, other.Stores)
}

func TestFileStorage_DetectsExternalEdits(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	require.NoError(t, err)

	st := State{Stores: []models.Identifier{id("/a")}}
	_, err = fs.Save(ctx, DomainUser, st)
	require.NoError(t, err)

	_, err = fs.Load(ctx, DomainUser)
	require.NoError(t, err)

	// Simulate another process rewriting the file.
	edited := State{Stores: []models.Identifier{id("/a"), id("/b")}}
	raw := []byte(`{"stores":[{"provider":"memory","path":"/a"},{"provider":"memory","path":"/b"}]}`)
	path := filepath.Join(dir, DomainUser.String()+".json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	// Push the mtime forward in case the rewrite lands in the same tick.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	got, err := fs.Load(ctx, DomainUser)
	require.NoError(t, err)
	assert.True(t, edited.Equal(got))
}

func TestFileStorage_RejectsDynamicDomain(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Load(ctx, DomainDynamic)
	assert.ErrorIs(t, err, sentinel.ErrInvalidDomain)

	_, err = fs.Save(ctx, DomainDynamic, State{})
	assert.ErrorIs(t, err, sentinel.ErrInvalidDomain)
}

func TestMemoryStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStorage()

	st := State{Stores: []models.Identifier{id("/a")}, Login: id("/a")}
	changed, err := ms.Save(ctx, DomainSystem, st)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = ms.Save(ctx, DomainSystem, st)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := ms.Load(ctx, DomainSystem)
	require.NoError(t, err)
	assert.True(t, st.Equal(got))
}
