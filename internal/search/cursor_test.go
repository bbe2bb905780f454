package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

// flakyBackend is a minimal backend whose Search either fails with a fixed
// error or returns fixed records.
type flakyBackend struct {
	id      models.Identifier
	records []models.Record
	err     error
}

func (b *flakyBackend) Identifier() models.Identifier { return b.id }
func (b *flakyBackend) Name() string                  { return b.id.Path }
func (b *flakyBackend) Exists(context.Context) (bool, error) {
	return true, nil
}
func (b *flakyBackend) Create(context.Context, []byte) error   { return nil }
func (b *flakyBackend) Unlock(context.Context, []byte) error   { return nil }
func (b *flakyBackend) Rename(context.Context, string) error   { return nil }
func (b *flakyBackend) Delete(context.Context) error           { return nil }
func (b *flakyBackend) Get(context.Context, uuid.UUID) (models.Record, error) {
	return models.Record{}, sentinel.ErrNotFound
}
func (b *flakyBackend) Put(context.Context, models.Record) error    { return nil }
func (b *flakyBackend) Update(context.Context, models.Record) error { return nil }

func (b *flakyBackend) Search(_ context.Context, q models.Query) ([]models.Record, error) {
	if b.err != nil {
		return nil, b.err
	}
	var out []models.Record
	for _, rec := range b.records {
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func handleWith(path string, err error, records ...models.Record) *keyring.Handle {
	return keyring.NewHandle(&flakyBackend{
		id:      models.Identifier{Provider: "memory", Path: path},
		records: records,
		err:     err,
	})
}

func rec(service string) models.Record {
	return models.Record{ID: uuid.New(), Class: models.ClassGenericSecret, Service: service}
}

func TestCursor_YieldsInStoreOrder(t *testing.T) {
	ctx := context.Background()
	cursor := NewCursor([]*keyring.Handle{
		handleWith("/a", nil, rec("one"), rec("two")),
		handleWith("/b", nil, rec("three")),
	}, models.Query{})

	var services []string
	for {
		item, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		services = append(services, item.Record.Service)
	}
	assert.Equal(t, []string{"one", "two", "three"}, services)
}

func TestCursor_ItemCarriesOwningStore(t *testing.T) {
	ctx := context.Background()
	a := handleWith("/a", nil)
	b := handleWith("/b", nil, rec("hit"))
	cursor := NewCursor([]*keyring.Handle{a, b}, models.Query{})

	item, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, b, item.Store)
}

func TestCursor_SkipsFailingStore(t *testing.T) {
	ctx := context.Background()
	cursor := NewCursor([]*keyring.Handle{
		handleWith("/broken", sentinel.ErrLocked),
		handleWith("/empty", nil),
		handleWith("/good", nil, rec("found")),
	}, models.Query{})

	item, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "found", item.Record.Service)

	_, ok, err = cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursor_AllStoresFailedSurfacesLastError(t *testing.T) {
	ctx := context.Background()
	cursor := NewCursor([]*keyring.Handle{
		handleWith("/one", sentinel.ErrLocked),
		handleWith("/two", sentinel.ErrUnavailable),
	}, models.Query{})

	_, ok, err := cursor.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestCursor_OneSuccessClearsAllFailed(t *testing.T) {
	ctx := context.Background()
	// Empty success between failures: the scan found no records but a store
	// was searchable, so the end is clean.
	cursor := NewCursor([]*keyring.Handle{
		handleWith("/one", sentinel.ErrLocked),
		handleWith("/empty", nil),
		handleWith("/three", sentinel.ErrLocked),
	}, models.Query{})

	_, ok, err := cursor.Next(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestCursor_EmptyStoreListEndsClean(t *testing.T) {
	_, ok, err := NewCursor(nil, models.Query{}).Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestCursor_QueryFilters(t *testing.T) {
	ctx := context.Background()
	cursor := NewCursor([]*keyring.Handle{
		handleWith("/a", nil, rec("svc-1"), rec("svc-2")),
	}, models.Query{Service: "svc-2"})

	items, err := cursor.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "svc-2", items[0].Record.Service)
}

func TestFirst(t *testing.T) {
	ctx := context.Background()

	item, err := First(ctx, []*keyring.Handle{
		handleWith("/broken", sentinel.ErrLocked),
		handleWith("/good", nil, rec("hit")),
	}, models.Query{})
	require.NoError(t, err)
	assert.Equal(t, "hit", item.Record.Service)

	_, err = First(ctx, []*keyring.Handle{handleWith("/empty", nil)}, models.Query{})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = First(ctx, []*keyring.Handle{handleWith("/broken", sentinel.ErrLocked)}, models.Query{})
	assert.ErrorIs(t, err, sentinel.ErrLocked)
}
