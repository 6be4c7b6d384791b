package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/sentinel"
	"degreeproof/pkg/domain"
	"degreeproof/pkg/testutil"
)

// storeContract holds behavior every Store backend must share. Backend suites
// embed it and assign store in SetupTest.
type storeContract struct {
	suite.Suite
	store store.Store
}

func credID(n int) domain.CredentialID {
	return domain.CredentialID(fmt.Sprintf("cred_%032x", n))
}

func revokeTransition(actor string) models.Transition {
	return models.Transition{
		From:    models.StatusActive,
		To:      models.StatusRevoked,
		Reason:  "issued in error",
		ActorID: actor,
		At:      testutil.FixedTime.Add(time.Hour),
	}
}

func (s *storeContract) TestPutAndGet() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder(credID(1)).
		WithRecord(testutil.NewRecordBuilder().WithExtra("honours", "first").Build()).
		WithExpiresAt(testutil.FixedTime.Add(24 * time.Hour)).
		Build()

	s.Require().NoError(s.store.Put(ctx, c))

	got, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Equal(c.RecordHash, got.RecordHash)
	s.Equal(c.Signature, got.Signature)
	s.True(c.IssuedAt.Equal(got.IssuedAt))
	s.Require().NotNil(got.ExpiresAt)
	s.True(c.ExpiresAt.Equal(*got.ExpiresAt))
	s.Equal(models.StatusActive, got.Status)
	s.Equal(c.Record.DegreeName, got.Record.DegreeName)
	s.Equal("first", got.Record.Extra["honours"])
}

func (s *storeContract) TestPutDuplicateIDConflicts() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder(credID(2)).Build()
	s.Require().NoError(s.store.Put(ctx, c))

	err := s.store.Put(ctx, c)
	s.ErrorIs(err, store.ErrConflict)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *storeContract) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), credID(999))
	s.ErrorIs(err, store.ErrNotFound)
	s.NotErrorIs(err, sentinel.ErrUnavailable)
}

func (s *storeContract) TestFindByNaturalKeyNewestFirst() {
	ctx := context.Background()
	older := testutil.NewCredentialBuilder(credID(10)).WithIssuedAt(testutil.FixedTime).Build()
	newer := testutil.NewCredentialBuilder(credID(11)).WithIssuedAt(testutil.FixedTime.Add(time.Minute)).Build()
	other := testutil.NewCredentialBuilder(credID(12)).
		WithRecord(testutil.NewRecordBuilder().WithStudent("S2").Build()).
		Build()
	for _, c := range []models.Credential{older, newer, other} {
		s.Require().NoError(s.store.Put(ctx, c))
	}

	got, err := s.store.FindByNaturalKey(ctx, models.NaturalKey{
		StudentID:   testutil.TestIDs.Student1,
		InstituteID: testutil.TestIDs.Institute1,
	})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(newer.ID, got[0].ID)
	s.Equal(older.ID, got[1].ID)

	none, err := s.store.FindByNaturalKey(ctx, models.NaturalKey{StudentID: "nobody", InstituteID: "I1"})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *storeContract) TestFindByNaturalKeyDoesNotMixSeparatorParts() {
	ctx := context.Background()
	a := testutil.NewCredentialBuilder(credID(20)).
		WithRecord(testutil.NewRecordBuilder().WithInstitute("I:1").WithStudent("S").Build()).
		Build()
	b := testutil.NewCredentialBuilder(credID(21)).
		WithRecord(testutil.NewRecordBuilder().WithInstitute("I").WithStudent("1:S").Build()).
		Build()
	s.Require().NoError(s.store.Put(ctx, a))
	s.Require().NoError(s.store.Put(ctx, b))

	got, err := s.store.FindByNaturalKey(ctx, models.NaturalKey{InstituteID: "I:1", StudentID: "S"})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(a.ID, got[0].ID)

	got, err = s.store.FindByNaturalKey(ctx, models.NaturalKey{InstituteID: "I", StudentID: "1:S"})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(b.ID, got[0].ID)
}

func (s *storeContract) TestSetStatusIsConditional() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder(credID(20)).Build()
	s.Require().NoError(s.store.Put(ctx, c))

	updated, err := s.store.SetStatus(ctx, c.ID, revokeTransition(testutil.TestIDs.Admin1))
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, updated.Status)
	s.Equal("issued in error", updated.StatusReason)

	_, err = s.store.SetStatus(ctx, c.ID, revokeTransition(testutil.TestIDs.Admin1))
	s.ErrorIs(err, store.ErrStatusConflict)

	_, err = s.store.SetStatus(ctx, credID(21), revokeTransition(testutil.TestIDs.Admin1))
	s.ErrorIs(err, store.ErrNotFound)

	history, err := s.store.History(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(models.StatusActive, history[0].From)
	s.Equal(models.StatusRevoked, history[0].To)
	s.Equal(testutil.TestIDs.Admin1, history[0].ActorID)
}

func (s *storeContract) TestSetStatusRecordsReplacement() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder(credID(30)).Build()
	next := testutil.NewCredentialBuilder(credID(31)).Build()
	s.Require().NoError(s.store.Put(ctx, c))
	s.Require().NoError(s.store.Put(ctx, next))

	t := revokeTransition(testutil.TestIDs.Uploader1)
	t.Reason = models.ReissuedReasonPrefix + next.ID.String()
	t.ReplacedBy = next.ID
	_, err := s.store.SetStatus(ctx, c.ID, t)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(next.ID, got.ReplacedBy)
	s.Equal(t.Reason, got.StatusReason)
}

func (s *storeContract) TestHistoryUnknown() {
	_, err := s.store.History(context.Background(), credID(40))
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *storeContract) TestListFiltersAndLimits() {
	ctx := context.Background()
	for i := range 5 {
		b := testutil.NewCredentialBuilder(credID(50 + i)).
			WithIssuedAt(testutil.FixedTime.Add(time.Duration(i) * time.Minute))
		if i%2 == 1 {
			b = b.WithIssuedBy("uploader-2")
		}
		s.Require().NoError(s.store.Put(ctx, b.Build()))
	}
	_, err := s.store.SetStatus(ctx, credID(54), revokeTransition(testutil.TestIDs.Admin1))
	s.Require().NoError(err)

	all, err := s.store.List(ctx, models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 5)
	s.Equal(credID(54), all[0].ID)

	mine, err := s.store.List(ctx, models.ListFilter{IssuedBy: testutil.TestIDs.Uploader1})
	s.Require().NoError(err)
	s.Len(mine, 3)

	active, err := s.store.List(ctx, models.ListFilter{Status: models.StatusActive, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal(credID(53), active[0].ID)

	other, err := s.store.List(ctx, models.ListFilter{InstituteID: testutil.TestIDs.Institute2})
	s.Require().NoError(err)
	s.Empty(other)
}

// TestConcurrentRevokeSingleWinner checks that the conditional update admits
// exactly one transition out of active.
func (s *storeContract) TestConcurrentRevokeSingleWinner() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder(credID(60)).Build()
	s.Require().NoError(s.store.Put(ctx, c))

	result := testutil.RunConcurrent(20, func(idx int) error {
		_, err := s.store.SetStatus(ctx, c.ID, revokeTransition(fmt.Sprintf("admin-%d", idx)))
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Conflicts)
	s.Zero(result.Errors)

	history, err := s.store.History(ctx, c.ID)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *storeContract) TestConcurrentPutSameIDSingleWinner() {
	ctx := context.Background()
	c := testutil.NewCredentialBuilder(credID(70)).Build()

	result := testutil.RunConcurrent(20, func(int) error {
		return s.store.Put(ctx, c)
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Conflicts)
}
