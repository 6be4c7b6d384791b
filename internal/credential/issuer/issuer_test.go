package issuer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"degreeproof/internal/credential/canonical"
	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/credential/store/mocks"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
	"degreeproof/pkg/testutil"
)

type IssuerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemoryStore
	keyring *keys.StaticKeyring
	key     *keys.SigningKey
	service *Service
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *IssuerSuite) SetupTest() {
	s.ctx = requesttime.WithTime(context.Background(), testutil.FixedTime.Add(750*time.Millisecond))
	s.store = store.NewInMemoryStore()
	s.keyring = keys.NewStaticKeyring()
	var err error
	s.key, err = s.keyring.Generate(testutil.TestIDs.Institute1, nil)
	s.Require().NoError(err)
	_, err = s.keyring.Generate(testutil.TestIDs.Institute2, nil)
	s.Require().NoError(err)
	s.service = s.newService(s.store)
}

func (s *IssuerSuite) newService(st store.Store, opts ...Option) *Service {
	cfg := DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	base := []Option{WithLogger(discardLogger()), WithConfig(cfg)}
	svc, err := New(st, s.keyring, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *IssuerSuite) issue(record models.DegreeRecord) *models.Credential {
	c, err := s.service.IssueWithRetry(s.ctx, IssueRequest{Record: record, Actor: testutil.Uploader(testutil.TestIDs.Institute1)})
	s.Require().NoError(err)
	return c
}

// repeat yields the same 16 bytes forever.
type repeat byte

func (r repeat) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func (s *IssuerSuite) TestIssue() {
	s.Run("signs and persists the credential", func() {
		record := testutil.NewRecordBuilder().WithExtra("honours", "first").Build()
		c := s.issue(record)

		s.True(strings.HasPrefix(c.ID.String(), domain.CredentialIDPrefix))
		s.Equal(models.StatusActive, c.Status)
		s.Equal(testutil.TestIDs.Institute1, c.InstituteID)
		s.Equal(testutil.TestIDs.Student1, c.StudentID)
		s.Equal(testutil.TestIDs.Uploader1, c.IssuedBy)
		s.True(c.IssuedAt.Equal(testutil.FixedTime), "issuedAt is truncated to seconds")
		s.Nil(c.ExpiresAt)

		hash, err := canonical.DigestRecord(record)
		s.Require().NoError(err)
		s.Equal(hash, c.RecordHash)

		ok, err := keys.Verify(s.ctx, s.keyring, c.InstituteID,
			keys.SigningMessage(c.RecordHash, c.ID, c.IssuedAt, c.InstituteID), c.Signature)
		s.Require().NoError(err)
		s.True(ok)

		stored, err := s.store.Get(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(c.Signature, stored.Signature)
	})

	s.Run("padded institute resolves the trimmed key", func() {
		record := testutil.NewRecordBuilder().WithInstitute(" I1 ").WithStudent(" S1 ").Build()
		c := s.issue(record)

		s.Equal(testutil.TestIDs.Institute1, c.InstituteID)
		s.Equal(testutil.TestIDs.Student1, c.StudentID)
		s.Equal(record.NaturalKey().InstituteID, c.InstituteID)

		ok, err := keys.Verify(s.ctx, s.keyring, c.InstituteID,
			keys.SigningMessage(c.RecordHash, c.ID, c.IssuedAt, c.InstituteID), c.Signature)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("applies request ttl over default", func() {
		svc := s.newService(s.store, WithConfig(Config{DefaultTTL: time.Hour, MaxRetries: 1, BulkConcurrency: 1}))
		c, err := svc.Issue(s.ctx, IssueRequest{
			Record: testutil.NewRecordBuilder().Build(),
			TTL:    48 * time.Hour,
			Actor:  testutil.Admin(),
		})
		s.Require().NoError(err)
		s.Require().NotNil(c.ExpiresAt)
		s.True(c.ExpiresAt.Equal(testutil.FixedTime.Add(48 * time.Hour)))

		c, err = svc.Issue(s.ctx, IssueRequest{Record: testutil.NewRecordBuilder().Build(), Actor: testutil.Admin()})
		s.Require().NoError(err)
		s.Require().NotNil(c.ExpiresAt)
		s.True(c.ExpiresAt.Equal(testutil.FixedTime.Add(time.Hour)))
	})

	s.Run("rejects malformed record", func() {
		_, err := s.service.Issue(s.ctx, IssueRequest{
			Record: testutil.NewRecordBuilder().WithDegree("  ").Build(),
			Actor:  testutil.Admin(),
		})
		s.ErrorIs(err, canonical.ErrMalformedRecord)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("uploader cannot issue for another institute", func() {
		_, err := s.service.Issue(s.ctx, IssueRequest{
			Record: testutil.NewRecordBuilder().WithInstitute(testutil.TestIDs.Institute2).Build(),
			Actor:  testutil.Uploader(testutil.TestIDs.Institute1),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("verifier cannot issue", func() {
		_, err := s.service.Issue(s.ctx, IssueRequest{Record: testutil.NewRecordBuilder().Build(), Actor: testutil.Verifier()})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("key must belong to the record institute", func() {
		other, err := s.keyring.SigningKey(s.ctx, testutil.TestIDs.Institute2)
		s.Require().NoError(err)
		_, err = s.service.Issue(s.ctx, IssueRequest{Record: testutil.NewRecordBuilder().Build(), Key: other, Actor: testutil.Admin()})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown institute has no key", func() {
		_, err := s.service.Issue(s.ctx, IssueRequest{
			Record: testutil.NewRecordBuilder().WithInstitute("I9").Build(),
			Actor:  testutil.Admin(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *IssuerSuite) TestIssueWithRetry() {
	s.Run("retries an id collision with a fresh id", func() {
		taken := bytes.Repeat([]byte{0x01}, 16)
		fresh := bytes.Repeat([]byte{0x02}, 16)
		takenID := domain.CredentialID(domain.CredentialIDPrefix + strings.Repeat("01", 16))
		s.Require().NoError(s.store.Put(s.ctx, testutil.NewCredentialBuilder(takenID).Build()))

		svc := s.newService(s.store, WithRandom(bytes.NewReader(append(taken, fresh...))))
		c, err := svc.IssueWithRetry(s.ctx, IssueRequest{Record: testutil.NewRecordBuilder().Build(), Actor: testutil.Admin()})
		s.Require().NoError(err)
		s.Equal(domain.CredentialID(domain.CredentialIDPrefix+strings.Repeat("02", 16)), c.ID)
	})

	s.Run("gives up after the configured retries", func() {
		ctrl := gomock.NewController(s.T())
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().Put(gomock.Any(), gomock.Any()).Return(store.ErrConflict).Times(4)

		svc := s.newService(st, WithRandom(repeat(7)))
		_, err := svc.IssueWithRetry(s.ctx, IssueRequest{Record: testutil.NewRecordBuilder().Build(), Actor: testutil.Admin()})
		s.ErrorIs(err, ErrStoreConflict)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("does not retry store outages", func() {
		ctrl := gomock.NewController(s.T())
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().Put(gomock.Any(), gomock.Any()).
			Return(store.Unavailable("insert credential", errors.New("connection refused"))).
			Times(1)

		svc := s.newService(st)
		_, err := svc.IssueWithRetry(s.ctx, IssueRequest{Record: testutil.NewRecordBuilder().Build(), Actor: testutil.Admin()})
		s.ErrorIs(err, ErrStoreUnavailable)
		s.True(dErrors.IsRetryable(err))
	})

	s.Run("does not retry malformed records", func() {
		ctrl := gomock.NewController(s.T())
		st := mocks.NewMockStore(ctrl)

		svc := s.newService(st)
		_, err := svc.IssueWithRetry(s.ctx, IssueRequest{Record: models.DegreeRecord{}, Actor: testutil.Admin()})
		s.ErrorIs(err, canonical.ErrMalformedRecord)
	})
}

func (s *IssuerSuite) TestRevoke() {
	c := s.issue(testutil.NewRecordBuilder().Build())

	s.Run("uploader lacks the capability", func() {
		_, err := s.service.Revoke(s.ctx, testutil.Uploader(testutil.TestIDs.Institute1), c.ID, "fraud")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("reason is required", func() {
		_, err := s.service.Revoke(s.ctx, testutil.Admin(), c.ID, "   ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("admin revokes once", func() {
		updated, err := s.service.Revoke(s.ctx, testutil.Admin(), c.ID, "issued in error")
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, updated.Status)
		s.Equal("issued in error", updated.StatusReason)

		_, err = s.service.Revoke(s.ctx, testutil.Admin(), c.ID, "again")
		s.ErrorIs(err, ErrAlreadyRevoked)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		history, err := s.service.History(s.ctx, testutil.Verifier(), c.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(testutil.TestIDs.Admin1, history[0].ActorID)
	})

	s.Run("unknown credential", func() {
		_, err := s.service.Revoke(s.ctx, testutil.Admin(), domain.CredentialID("cred_"+strings.Repeat("ab", 16)), "x")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *IssuerSuite) TestConcurrentRevokeSingleSuccess() {
	c := s.issue(testutil.NewRecordBuilder().Build())

	result := testutil.RunConcurrent(16, func(int) error {
		_, err := s.service.Revoke(s.ctx, testutil.Admin(), c.ID, "duplicate")
		if errors.Is(err, ErrAlreadyRevoked) {
			return store.ErrStatusConflict
		}
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(15), result.Conflicts)
}

func (s *IssuerSuite) TestReissue() {
	uploader := testutil.Uploader(testutil.TestIDs.Institute1)
	original := s.issue(testutil.NewRecordBuilder().WithStudentName("Ada Lovelace").Build())

	s.Run("issues the replacement and revokes the original", func() {
		corrected := testutil.NewRecordBuilder().WithStudentName("Augusta Ada King").Build()
		res, err := s.service.Reissue(s.ctx, ReissueRequest{PreviousID: original.ID, Record: corrected, Actor: uploader})
		s.Require().NoError(err)

		s.NotEqual(original.ID, res.Credential.ID)
		s.Equal(models.StatusActive, res.Credential.Status)
		s.Equal(models.StatusRevoked, res.Previous.Status)
		s.Equal(models.ReissuedReasonPrefix+res.Credential.ID.String(), res.Previous.StatusReason)
		s.Equal(res.Credential.ID, res.Previous.ReplacedBy)
		s.Equal(original.RecordHash, res.Previous.RecordHash)
	})

	s.Run("revoked credential cannot be re-issued", func() {
		_, err := s.service.Reissue(s.ctx, ReissueRequest{PreviousID: original.ID, Record: testutil.NewRecordBuilder().Build(), Actor: uploader})
		s.ErrorIs(err, ErrAlreadyRevoked)
	})

	s.Run("replacement must stay in the institute", func() {
		fresh := s.issue(testutil.NewRecordBuilder().Build())
		_, err := s.service.Reissue(s.ctx, ReissueRequest{
			PreviousID: fresh.ID,
			Record:     testutil.NewRecordBuilder().WithInstitute(testutil.TestIDs.Institute2).Build(),
			Actor:      testutil.Admin(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *IssuerSuite) TestBulkIssue() {
	records := []models.DegreeRecord{
		testutil.NewRecordBuilder().WithStudent("S1").Build(),
		testutil.NewRecordBuilder().WithStudent("").Build(),
		testutil.NewRecordBuilder().WithStudent("S3").Build(),
		testutil.NewRecordBuilder().WithStudent("S4").WithInstitute(testutil.TestIDs.Institute2).Build(),
	}
	rows, err := s.service.BulkIssue(s.ctx, BulkRequest{Records: records, Actor: testutil.Uploader(testutil.TestIDs.Institute1)})
	s.Require().NoError(err)
	s.Require().Len(rows, 4)

	for i, row := range rows {
		s.Equal(i, row.Index)
	}
	s.Require().NoError(rows[0].Err)
	s.Equal(domain.StudentID("S1"), rows[0].Credential.StudentID)
	s.ErrorIs(rows[1].Err, canonical.ErrMalformedRecord)
	s.Nil(rows[1].Credential)
	s.Require().NoError(rows[2].Err)
	s.Equal(domain.StudentID("S3"), rows[2].Credential.StudentID)
	s.True(dErrors.HasCode(rows[3].Err, dErrors.CodeForbidden))

	_, err = s.service.BulkIssue(s.ctx, BulkRequest{Records: records, Actor: testutil.Verifier()})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *IssuerSuite) TestListUploadsScopesUploaders() {
	mine := s.issue(testutil.NewRecordBuilder().Build())
	_, err := s.service.IssueWithRetry(s.ctx, IssueRequest{
		Record: testutil.NewRecordBuilder().WithInstitute(testutil.TestIDs.Institute2).Build(),
		Actor:  testutil.Admin(),
	})
	s.Require().NoError(err)

	list, err := s.service.ListUploads(s.ctx, testutil.Uploader(testutil.TestIDs.Institute1), models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(mine.ID, list[0].ID)

	_, err = s.service.ListUploads(s.ctx, testutil.Uploader(testutil.TestIDs.Institute1), models.ListFilter{InstituteID: testutil.TestIDs.Institute2})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	all, err := s.service.ListUploads(s.ctx, testutil.Admin(), models.ListFilter{})
	s.Require().NoError(err)
	s.Len(all, 2)

	_, err = s.service.Get(s.ctx, testutil.Uploader(testutil.TestIDs.Institute2), mine.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
