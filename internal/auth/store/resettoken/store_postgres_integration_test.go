//go:build integration

package resettoken_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"careadmin/internal/auth/store/resettoken"
	"careadmin/pkg/platform/sentinel"
	"careadmin/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	store *resettoken.PostgresStore
	pg    *containers.PostgresContainer
	base  time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = resettoken.NewPostgres(s.pg.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "password_reset_tokens"))
	s.base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()

	tok := resettoken.Token{Token: "abc", UserID: "u1", CreatedAt: s.base, ExpiresAt: s.base.Add(time.Hour)}
	s.Require().NoError(s.store.Create(ctx, tok))

	got, err := s.store.Find(ctx, "abc")
	s.Require().NoError(err)
	s.Equal("u1", got.UserID)
	s.Equal(s.base, got.CreatedAt.UTC())

	s.ErrorIs(s.store.Create(ctx, tok), sentinel.ErrConflict)

	_, err = s.store.Find(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDeleteOlderThan() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, resettoken.Token{Token: "old", UserID: "u1", CreatedAt: s.base.Add(-8 * 24 * time.Hour), ExpiresAt: s.base}))
	s.Require().NoError(s.store.Create(ctx, resettoken.Token{Token: "fresh", UserID: "u1", CreatedAt: s.base, ExpiresAt: s.base.Add(time.Hour)}))

	deleted, err := s.store.DeleteOlderThan(ctx, s.base.Add(-7*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.store.Find(ctx, "fresh")
	s.NoError(err)
	_, err = s.store.Find(ctx, "old")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
