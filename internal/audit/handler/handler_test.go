package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"degreeproof/internal/audit"
	"degreeproof/internal/audit/handler"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	"degreeproof/pkg/requestcontext"
	"degreeproof/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	store    *audit.InMemoryStore
	tampered domain.ResultID
	verified domain.ResultID
	other    domain.ResultID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = audit.NewInMemoryStore()
	s.tampered = s.append(models.OutcomeTampered, models.MethodDocumentExtraction, testutil.TestIDs.Verifier1, testutil.FixedTime)
	s.verified = s.append(models.OutcomeVerified, models.MethodProofScan, testutil.TestIDs.Verifier1, testutil.FixedTime.Add(time.Hour))
	s.other = s.append(models.OutcomeNotFound, models.MethodProofScan, "verifier-2", testutil.FixedTime.Add(2*time.Hour))
}

func (s *HandlerSuite) append(o models.Outcome, m models.Method, actorID string, at time.Time) domain.ResultID {
	id := domain.NewResultID()
	s.Require().NoError(s.store.Append(context.Background(), audit.Entry{
		Result:  models.Result{ID: id, Outcome: o, Method: m, Timestamp: at},
		Context: models.AuditContext{ActorID: actorID, ActorRole: domain.RoleVerifier},
	}))
	return id
}

func (s *HandlerSuite) do(actor domain.Actor, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(requestcontext.WithActor(req.Context(), actor)))
		})
	})
	h := handler.New(audit.NewService(s.store), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Register(r)
	h.RegisterAdmin(r)

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestVerifierSeesOwnHistory() {
	rec := s.do(testutil.Verifier(), http.MethodGet, "/verifications", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp handler.ListResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Require().Len(resp.Verifications, 2)
	s.Equal(s.verified, resp.Verifications[0].Result.ID, "newest first")

	rec = s.do(testutil.Verifier(), http.MethodGet, "/verifications?actor=verifier-2", nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(testutil.Verifier(), http.MethodGet, "/verifications/"+s.other.String(), nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestAdminFilters() {
	rec := s.do(testutil.Admin(), http.MethodGet, "/verifications?outcome=tampered&method=document_extraction", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp handler.ListResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Require().Len(resp.Verifications, 1)
	s.Equal(s.tampered, resp.Verifications[0].Result.ID)

	for _, q := range []string{"outcome=MAYBE", "method=fax", "limit=-1", "since=yesterday", "credential_id=x"} {
		rec = s.do(testutil.Admin(), http.MethodGet, "/verifications?"+q, nil)
		s.Equal(http.StatusBadRequest, rec.Code, q)
	}
}

func (s *HandlerSuite) TestOverrideKeepsEngineResult() {
	path := "/verifications/" + s.tampered.String()
	rec := s.do(testutil.Verifier(), http.MethodPost, path+"/override", map[string]string{
		"outcome": "verified",
		"note":    "checked with registrar",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(testutil.Verifier(), http.MethodGet, path, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var got handler.RecordResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&got))
	s.Equal(models.OutcomeTampered, got.Result.Outcome)
	s.Equal(models.OutcomeVerified, got.FinalOutcome)
	s.Require().Len(got.Overrides, 1)
	s.Equal("checked with registrar", got.Overrides[0].Note)
}

func (s *HandlerSuite) TestOverrideRejects() {
	cases := []struct {
		name   string
		actor  domain.Actor
		path   string
		body   map[string]string
		status int
	}{
		{"uploader", testutil.Uploader("I1"), "/verifications/" + s.tampered.String() + "/override", map[string]string{"outcome": "VERIFIED"}, http.StatusForbidden},
		{"unknown outcome", testutil.Verifier(), "/verifications/" + s.tampered.String() + "/override", map[string]string{"outcome": "FINE"}, http.StatusBadRequest},
		{"missing outcome", testutil.Verifier(), "/verifications/" + s.tampered.String() + "/override", map[string]string{}, http.StatusBadRequest},
		{"unknown result", testutil.Verifier(), "/verifications/" + uuid.NewString() + "/override", map[string]string{"outcome": "VERIFIED"}, http.StatusNotFound},
		{"bad id", testutil.Verifier(), "/verifications/123/override", map[string]string{"outcome": "VERIFIED"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := s.do(tc.actor, http.MethodPost, tc.path, tc.body)
			s.Equal(tc.status, rec.Code, rec.Body.String())
		})
	}
}

func (s *HandlerSuite) TestFraudReports() {
	rec := s.do(testutil.Verifier(), http.MethodGet, "/admin/fraud-reports", nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(testutil.Admin(), http.MethodGet, "/admin/fraud-reports", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp handler.FraudReportResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Require().Len(resp.Reports, 1)
	s.Equal(s.tampered, resp.Reports[0].Result.ID)
	s.Equal(models.OutcomeTampered, resp.Reports[0].FinalOutcome)
	s.NotNil(resp.Reports[0].Overrides)
}

func (s *HandlerSuite) TestStats() {
	since := testutil.FixedTime.Add(30 * time.Minute).Format(time.RFC3339)
	rec := s.do(testutil.Admin(), http.MethodGet, "/admin/stats?since="+since, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var stats audit.Stats
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&stats))
	s.Equal(2, stats.Total)
	s.Equal(1, stats.ByOutcome[models.OutcomeVerified])
	s.Equal(1, stats.ByOutcome[models.OutcomeNotFound])
	s.Equal(0, stats.ByOutcome[models.OutcomeTampered])
	s.Equal(2, stats.ByMethod[models.MethodProofScan])
}
