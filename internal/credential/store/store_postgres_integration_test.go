//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"degreeproof/internal/credential/store"
	"degreeproof/internal/sentinel"
	"degreeproof/pkg/testutil"
	"degreeproof/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	storeContract
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) TestClosedPoolIsUnavailable() {
	db, err := containers.OpenDB(s.postgres.DSN)
	s.Require().NoError(err)
	s.Require().NoError(db.Close())

	closed := store.NewPostgres(db)
	_, err = closed.Get(context.Background(), credID(1))
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.NotErrorIs(err, store.ErrNotFound)

	err = closed.Put(context.Background(), testutil.NewCredentialBuilder(credID(2)).Build())
	s.ErrorIs(err, sentinel.ErrUnavailable)
}
