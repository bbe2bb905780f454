package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyward/internal/identity"
	"keyward/internal/keyring/models"
	"keyward/internal/keyring/store"
	"keyward/internal/prefstore"
	"keyward/internal/registry"
	"keyward/internal/search"
	"keyward/internal/searchlist"
	"keyward/pkg/testutil"
)

func memID(path string) models.Identifier {
	return models.Identifier{Provider: "memory", Path: path}
}

type fixture struct {
	router   http.Handler
	manager  *search.Manager
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	reg := registry.New(log, nil, store.NewMemoryProvider())
	manager := search.NewManager(log, nil, reg, searchlist.NewMemoryStorage(), nil,
		search.Config{
			Domain:     searchlist.DomainUser,
			LoginStore: memID("/rings/login"),
		})
	resolver := identity.NewResolver(log, manager, nil, nil)
	system := identity.NewSystemIdentities(log, prefstore.NewMemoryStore(), reg,
		memID("/rings/system"), func(context.Context) bool { return true })
	h := New(manager, resolver, system, log, nil)
	return &fixture{
		router:   NewRouter(h, log),
		manager:  manager,
		registry: reg,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(f.router, testutil.NewJSONRequest(t, method, path, body))
}

func (f *fixture) createStore(t *testing.T, path string) {
	t.Helper()
	h, err := f.registry.Resolve(context.Background(), memID(path))
	require.NoError(t, err)
	require.NoError(t, h.Create(context.Background(), nil))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchListRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.createStore(t, "/rings/a")
	f.createStore(t, "/rings/b")

	w := f.do(t, http.MethodPut, "/v1/domains/user/search-list", setSearchListRequest{
		Stores: []models.Identifier{memID("/rings/a"), memID("/rings/b")},
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/domains/user/search-list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := *testutil.UnmarshalResponse[searchlist.State](t, w)
	assert.Equal(t, []models.Identifier{memID("/rings/a"), memID("/rings/b")}, st.Stores)
}

func TestSearchListUnknownDomain(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/domains/bogus/search-list", nil)
	testutil.AssertStatusAndError(t, w, http.StatusBadRequest, "invalid_domain")
}

func TestSetSearchListDynamicRejected(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPut, "/v1/domains/dynamic/search-list", setSearchListRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddStore(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{
		Store:        memID("/rings/new"),
		MakeIfAbsent: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	resp := *testutil.UnmarshalResponse[storeResponse](t, w)
	assert.Equal(t, memID("/rings/new"), resp.Store)

	// Listing the same store twice is a conflict.
	w = f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{Store: memID("/rings/new")})
	testutil.AssertStatusAndError(t, w, http.StatusConflict, "duplicate_member")
}

func TestDefaultLifecycle(t *testing.T) {
	f := newFixture(t)

	testutil.Given(t, "no default is designated", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/default", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	testutil.When(t, "a listed store is made default", func(t *testing.T) {
		f.createStore(t, "/rings/main")
		w := f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{Store: memID("/rings/main")})
		require.Equal(t, http.StatusCreated, w.Code)

		w = f.do(t, http.MethodPut, "/v1/default", setStoreRequest{Store: memID("/rings/main")})
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	testutil.Then(t, "the default resolves to it", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/default", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := *testutil.UnmarshalResponse[storeResponse](t, w)
		assert.Equal(t, memID("/rings/main"), resp.Store)
	})
}

func TestRenameStore(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{
		Store:        memID("/rings/old"),
		MakeIfAbsent: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/v1/stores/rename", renameStoreRequest{
		Store:  memID("/rings/old"),
		ToPath: "/rings/renamed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := *testutil.UnmarshalResponse[storeResponse](t, w)
	assert.Equal(t, "/rings/renamed", resp.Store.Path)

	w = f.do(t, http.MethodGet, "/v1/domains/user/search-list", nil)
	st := *testutil.UnmarshalResponse[searchlist.State](t, w)
	assert.Equal(t, []models.Identifier{memID("/rings/renamed")}, st.Stores)
}

func TestRemoveStores(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{
		Store:        memID("/rings/gone"),
		MakeIfAbsent: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/v1/stores/remove", removeStoresRequest{
		Stores:        []models.Identifier{memID("/rings/gone")},
		DeleteBacking: true,
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/domains/user/search-list", nil)
	st := *testutil.UnmarshalResponse[searchlist.State](t, w)
	assert.Empty(t, st.Stores)
}

func TestLoginUnlockBootstrapsStore(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/login/unlock", secretRequest{Secret: "hunter2"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/login-store", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := *testutil.UnmarshalResponse[storeResponse](t, w)
	assert.Equal(t, memID("/rings/login"), resp.Store)
}

func TestLoginUnlockWrongSecret(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/login/unlock", secretRequest{Secret: "first"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/v1/login/unlock", secretRequest{Secret: "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSearchRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{
		Store:        memID("/rings/data"),
		MakeIfAbsent: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	h, err := f.registry.Resolve(ctx, memID("/rings/data"))
	require.NoError(t, err)
	require.NoError(t, h.Put(ctx, models.Record{
		Class:   models.ClassGenericSecret,
		Service: "smtp.example.com",
		Account: "postmaster",
	}))

	w = f.do(t, http.MethodPost, "/v1/records/search", searchRequest{
		Class:   models.ClassGenericSecret,
		Service: "smtp.example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Results []searchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, memID("/rings/data"), resp.Results[0].Store)
	assert.Equal(t, "postmaster", resp.Results[0].Record.Account)
}

func TestPreferenceSetAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.do(t, http.MethodPost, "/v1/stores", addStoreRequest{
		Store:        memID("/rings/ids"),
		MakeIfAbsent: true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPut, "/v1/default", setStoreRequest{Store: memID("/rings/ids")})
	require.Equal(t, http.StatusNoContent, w.Code)

	h, err := f.registry.Resolve(ctx, memID("/rings/ids"))
	require.NoError(t, err)
	require.NoError(t, h.Put(ctx, models.Record{
		Class:         models.ClassCertificate,
		Label:         "Alice",
		PublicKeyHash: []byte{0xaa},
	}))
	require.NoError(t, h.Put(ctx, models.Record{
		Class:         models.ClassKey,
		PublicKeyHash: []byte{0xaa},
	}))
	certs, err := h.Search(ctx, models.Query{Class: models.ClassCertificate})
	require.NoError(t, err)
	require.Len(t, certs, 1)

	w = f.do(t, http.MethodPut, "/v1/identities/preference", preferenceRequest{
		Name: "https://mail.example.com/inbox",
		Reference: models.PersistentRef{
			Store:    memID("/rings/ids"),
			RecordID: certs[0].ID,
		},
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	// Lookup falls back through candidate names, so a more specific path
	// under the preferred prefix still resolves.
	q := url.Values{}
	q.Set("name", "https://mail.example.com/inbox/message/42")
	q.Set("usage", strconv.Itoa(0))
	w = f.do(t, http.MethodGet, "/v1/identities/preference?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := *testutil.UnmarshalResponse[identityResponse](t, w)
	assert.Equal(t, certs[0].ID, resp.Certificate.ID)
	assert.Equal(t, memID("/rings/ids"), resp.Store)

	w = f.do(t, http.MethodGet, "/v1/identities/preference?name=https%3A%2F%2Fother.example.com%2F", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreferenceMissingName(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/identities/preference", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemIdentityLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createStore(t, "/rings/system")

	h, err := f.registry.Resolve(ctx, memID("/rings/system"))
	require.NoError(t, err)
	require.NoError(t, h.Put(ctx, models.Record{
		Class:         models.ClassCertificate,
		Label:         "Machine",
		PublicKeyHash: []byte{0x01},
	}))
	require.NoError(t, h.Put(ctx, models.Record{
		Class:         models.ClassKey,
		PublicKeyHash: []byte{0x01},
	}))

	w := f.do(t, http.MethodPut, "/v1/system-identities/kdc", map[string]any{
		"public_key_hash": []byte{0x01},
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/system-identities/kdc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := *testutil.UnmarshalResponse[identityResponse](t, w)
	assert.Equal(t, "Machine", resp.Certificate.Label)

	w = f.do(t, http.MethodGet, "/v1/system-identities/unassigned", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
