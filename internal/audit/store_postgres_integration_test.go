//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"degreeproof/internal/audit"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	"degreeproof/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = audit.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *PostgresStoreSuite) TestAppendGetAndOverride() {
	ctx := context.Background()
	sim := 0.8
	e := entry(models.OutcomeTampered, models.MethodDocumentExtraction, "v1", 0)
	e.Result.Similarity = &sim
	e.Result.Confidence = 72
	e.Result.MatchedCredentialID = domain.CredentialID("cred_" + "00112233445566778899aabbccddeeff")
	e.Context.InputDigest = "abc123"
	s.Require().NoError(s.store.Append(ctx, e))
	s.ErrorIs(s.store.Append(ctx, e), audit.ErrDuplicate)

	o := audit.Override{ID: uuid.New(), ResultID: e.Result.ID, Outcome: models.OutcomeVerified, Note: "checked", ActorID: "v2", At: base.Add(time.Hour)}
	s.Require().NoError(s.store.AppendOverride(ctx, o))
	s.ErrorIs(s.store.AppendOverride(ctx, audit.Override{ID: uuid.New(), ResultID: domain.NewResultID(), Outcome: models.OutcomeVerified, At: base}), audit.ErrNotFound)

	rec, err := s.store.Get(ctx, e.Result.ID)
	s.Require().NoError(err)
	s.Equal(e.Result.MatchedCredentialID, rec.Result.MatchedCredentialID)
	s.Require().NotNil(rec.Result.Similarity)
	s.InDelta(0.8, *rec.Result.Similarity, 1e-9)
	s.Equal(72, rec.Result.Confidence)
	s.Equal("abc123", rec.Context.InputDigest)
	s.Require().Len(rec.Overrides, 1)
	s.Equal(models.OutcomeVerified, rec.FinalOutcome())

	_, err = s.store.Get(ctx, domain.NewResultID())
	s.ErrorIs(err, audit.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListAndStats() {
	ctx := context.Background()
	for i, o := range []models.Outcome{models.OutcomeVerified, models.OutcomeTampered, models.OutcomeVerified} {
		s.Require().NoError(s.store.Append(ctx, entry(o, models.MethodProofScan, "v1", time.Duration(i)*time.Minute)))
	}
	s.Require().NoError(s.store.Append(ctx, entry(models.OutcomeNotFound, models.MethodDocumentExtraction, "v2", -time.Hour)))

	verified, err := s.store.List(ctx, audit.ListFilter{Outcome: models.OutcomeVerified})
	s.Require().NoError(err)
	s.Require().Len(verified, 2)
	s.True(verified[0].Result.Timestamp.After(verified[1].Result.Timestamp))

	stats, err := s.store.Stats(ctx, base)
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(2, stats.ByOutcome[models.OutcomeVerified])
	s.Equal(0, stats.ByMethod[models.MethodDocumentExtraction])
}
