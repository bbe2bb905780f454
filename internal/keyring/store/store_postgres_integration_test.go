//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/internal/keyring/store"
	"keyward/pkg/platform/sentinel"
	"keyward/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	provider *store.PostgresProvider
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(store.EnsureSchema(context.Background(), s.postgres.DB))
	s.provider = store.NewPostgresProvider(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "keyrings")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) open(path string) keyring.Backend {
	b, err := s.provider.Open(context.Background(), models.Identifier{Provider: "postgres", Path: path})
	s.Require().NoError(err)
	return b
}

func (s *PostgresStoreSuite) TestCreateUnlockCycle() {
	ctx := context.Background()
	b := s.open("/rings/login")

	exists, err := b.Exists(ctx)
	s.Require().NoError(err)
	s.False(exists)

	s.Require().NoError(b.Create(ctx, []byte("secret")))

	err = b.Create(ctx, []byte("secret"))
	s.ErrorIs(err, sentinel.ErrAlreadyExists)

	fresh := s.open("/rings/login")
	err = fresh.Unlock(ctx, []byte("wrong"))
	s.ErrorIs(err, sentinel.ErrAuthFailure)

	s.Require().NoError(fresh.Unlock(ctx, []byte("secret")))
	_, err = fresh.Search(ctx, models.Query{})
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestLockedStoreRejectsReads() {
	ctx := context.Background()
	b := s.open("/rings/a")
	s.Require().NoError(b.Create(ctx, []byte("x")))

	locked := s.open("/rings/a")
	_, err := locked.Search(ctx, models.Query{})
	s.ErrorIs(err, sentinel.ErrLocked)
}

func (s *PostgresStoreSuite) TestRecordPersistence() {
	ctx := context.Background()
	b := s.open("/rings/records")
	s.Require().NoError(b.Create(ctx, nil))

	rec := models.Record{
		Class:   models.ClassGenericSecret,
		Service: "https://example.com",
		TypeTag: models.PreferenceTypeTag,
		Account: "alice",
		Generic: []byte(`{"ref":1}`),
		Data:    []byte("payload"),
	}
	s.Require().NoError(b.Put(ctx, rec))

	got, err := b.Search(ctx, models.Query{Service: "https://example.com"})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("alice", got[0].Account)
	s.Equal([]byte("payload"), got[0].Data)
	s.False(got[0].CreatedAt.IsZero())

	got[0].Account = "bob"
	s.Require().NoError(b.Update(ctx, got[0]))

	single, err := b.Get(ctx, got[0].ID)
	s.Require().NoError(err)
	s.Equal("bob", single.Account)
}

func (s *PostgresStoreSuite) TestSearchFiltersByClassAndUsage() {
	ctx := context.Background()
	b := s.open("/rings/filters")
	s.Require().NoError(b.Create(ctx, nil))

	s.Require().NoError(b.Put(ctx, models.Record{Class: models.ClassCertificate, Label: "c1", PublicKeyHash: []byte{1}}))
	s.Require().NoError(b.Put(ctx, models.Record{Class: models.ClassKey, Label: "k1", Usage: 2, PublicKeyHash: []byte{1}}))
	s.Require().NoError(b.Put(ctx, models.Record{Class: models.ClassKey, Label: "k2", Usage: 4, PublicKeyHash: []byte{2}}))

	keys, err := b.Search(ctx, models.Query{Class: models.ClassKey, Usage: 2})
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	s.Equal("k1", keys[0].Label)

	byHash, err := b.Search(ctx, models.Query{PublicKeyHash: []byte{1}})
	s.Require().NoError(err)
	s.Len(byHash, 2)
}

func (s *PostgresStoreSuite) TestRenameReplacesTarget() {
	ctx := context.Background()
	src := s.open("/rings/src")
	s.Require().NoError(src.Create(ctx, []byte("a")))
	s.Require().NoError(src.Put(ctx, models.Record{Class: models.ClassGenericSecret, Service: "svc"}))

	dst := s.open("/rings/dst")
	s.Require().NoError(dst.Create(ctx, []byte("b")))

	s.Require().NoError(src.Rename(ctx, "/rings/dst"))
	s.Equal("/rings/dst", src.Identifier().Path)

	moved := s.open("/rings/dst")
	s.Require().NoError(moved.Unlock(ctx, []byte("a")))
	recs, err := moved.Search(ctx, models.Query{})
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal("svc", recs[0].Service)

	gone := s.open("/rings/src")
	exists, err := gone.Exists(ctx)
	s.Require().NoError(err)
	s.False(exists)
}

func (s *PostgresStoreSuite) TestDeleteCascades() {
	ctx := context.Background()
	b := s.open("/rings/doomed")
	s.Require().NoError(b.Create(ctx, nil))
	s.Require().NoError(b.Put(ctx, models.Record{Class: models.ClassGenericSecret, Service: "svc"}))

	s.Require().NoError(b.Delete(ctx))

	exists, err := b.Exists(ctx)
	s.Require().NoError(err)
	s.False(exists)

	err = s.open("/rings/doomed").Delete(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
