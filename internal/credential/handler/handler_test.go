package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"degreeproof/internal/credential/handler"
	"degreeproof/internal/credential/handler/mocks"
	"degreeproof/internal/credential/issuer"
	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/proof"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/sentinel"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	"degreeproof/pkg/requestcontext"
	"degreeproof/pkg/testutil"
)

const actorHeader = "X-Test-Actor"

// withTestActor stands in for the JWT middleware.
func withTestActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor domain.Actor
		switch r.Header.Get(actorHeader) {
		case "uploader-I1":
			actor = testutil.Uploader(testutil.TestIDs.Institute1)
		case "uploader-I2":
			actor = domain.Actor{ID: "uploader-2", Role: domain.RoleUploader, InstituteID: testutil.TestIDs.Institute2}
		case "verifier":
			actor = testutil.Verifier()
		case "admin":
			actor = testutil.Admin()
		default:
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), actor)))
	})
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	store  *store.InMemoryStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	keyring := keys.NewStaticKeyring()
	_, err := keyring.Generate(testutil.TestIDs.Institute1, nil)
	s.Require().NoError(err)
	_, err = keyring.Generate(testutil.TestIDs.Institute2, nil)
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := issuer.New(s.store, keyring, issuer.WithLogger(logger))
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(withTestActor)
	handler.New(svc, logger, 3).Register(r)
	s.router = r
}

func (s *HandlerSuite) do(method, path, actor string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) doJSON(method, path, actor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	return s.do(method, path, actor, &buf, "application/json")
}

func (s *HandlerSuite) issue(actor string) handler.IssueResponse {
	rec := s.doJSON(http.MethodPost, "/credentials", actor, map[string]any{
		"student_id":   "S1",
		"student_name": "Ada Lovelace",
		"degree_name":  "B.Sc.",
		"institute_id": "I1",
		"issued_at":    "2024-06-15",
		"extra":        map[string]string{"honours": "first"},
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var resp handler.IssueResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func (s *HandlerSuite) TestIssueReturnsDecodableProof() {
	resp := s.issue("uploader-I1")

	s.Equal(models.StatusActive, resp.Status)
	s.Equal("I1", resp.InstituteID)
	s.Equal("/credentials/"+resp.CredentialID+"/qr.png", resp.QRURL)

	payload, err := proof.DecodeText(resp.Proof)
	s.Require().NoError(err)
	s.Equal(resp.CredentialID, payload.CredentialID.String())
	s.Equal(domain.InstituteID("I1"), payload.InstituteID)
}

func (s *HandlerSuite) TestIssueRequiresAuthentication() {
	rec := s.doJSON(http.MethodPost, "/credentials", "", map[string]string{"student_id": "S1"})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestIssueRejects() {
	cases := []struct {
		name   string
		actor  string
		body   map[string]any
		status int
	}{
		{"verifier may not issue", "verifier", map[string]any{"student_id": "S1", "degree_name": "B.Sc.", "institute_id": "I1"}, http.StatusForbidden},
		{"foreign institute", "uploader-I1", map[string]any{"student_id": "S1", "degree_name": "B.Sc.", "institute_id": "I2"}, http.StatusForbidden},
		{"missing degree", "uploader-I1", map[string]any{"student_id": "S1", "institute_id": "I1"}, http.StatusBadRequest},
		{"bad date", "uploader-I1", map[string]any{"student_id": "S1", "degree_name": "B.Sc.", "institute_id": "I1", "issued_at": "15/06/2024"}, http.StatusBadRequest},
		{"bad ttl", "uploader-I1", map[string]any{"student_id": "S1", "degree_name": "B.Sc.", "institute_id": "I1", "ttl": "-1h"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := s.doJSON(http.MethodPost, "/credentials", tc.actor, tc.body)
			s.Equal(tc.status, rec.Code, rec.Body.String())
		})
	}
}

func (s *HandlerSuite) TestProofAndQR() {
	issued := s.issue("uploader-I1")

	rec := s.do(http.MethodGet, "/credentials/"+issued.CredentialID+"/proof", "uploader-I1", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var p handler.ProofResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&p))
	s.Equal(issued.Proof, p.Payload)

	rec = s.do(http.MethodGet, "/credentials/"+issued.CredentialID+"/qr.png?size=200", "uploader-I1", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("image/png", rec.Header().Get("Content-Type"))
	s.True(bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = s.do(http.MethodGet, "/credentials/"+issued.CredentialID+"/qr.png?size=5", "uploader-I1", nil, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestOtherInstituteSeesNotFound() {
	issued := s.issue("uploader-I1")
	rec := s.do(http.MethodGet, "/credentials/"+issued.CredentialID, "uploader-I2", nil, "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestMalformedIDIsBadRequest() {
	rec := s.do(http.MethodGet, "/credentials/not-an-id", "admin", nil, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestRevokeFlow() {
	issued := s.issue("uploader-I1")
	path := "/credentials/" + issued.CredentialID + "/revoke"

	rec := s.doJSON(http.MethodPost, path, "uploader-I1", map[string]string{"reason": "fraud"})
	s.Equal(http.StatusForbidden, rec.Code, "uploaders cannot revoke")

	rec = s.doJSON(http.MethodPost, path, "admin", map[string]string{"reason": ""})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPost, path, "admin", map[string]string{"reason": "fraud"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var c handler.CredentialResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&c))
	s.Equal(models.StatusRevoked, c.Status)
	s.Equal("fraud", c.StatusReason)

	rec = s.doJSON(http.MethodPost, path, "admin", map[string]string{"reason": "again"})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/credentials/"+issued.CredentialID+"/history", "verifier", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var h handler.HistoryResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&h))
	s.Require().Len(h.Changes, 1)
	s.Equal(models.StatusRevoked, h.Changes[0].To)
}

func (s *HandlerSuite) TestReissue() {
	issued := s.issue("uploader-I1")

	rec := s.doJSON(http.MethodPost, "/credentials/"+issued.CredentialID+"/reissue", "uploader-I1", map[string]any{
		"student_id":   "S1",
		"student_name": "Ada Lovelace",
		"degree_name":  "M.Sc.",
		"institute_id": "I1",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp handler.ReissueResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(models.StatusActive, resp.Credential.Status)
	s.Equal(models.StatusRevoked, resp.Previous.Status)
	s.Equal(resp.Credential.CredentialID, resp.Previous.ReplacedBy)
	s.Equal(models.ReissuedReasonPrefix+resp.Credential.CredentialID, resp.Previous.StatusReason)
}

func (s *HandlerSuite) TestListScopesUploaders() {
	s.issue("uploader-I1")
	s.issue("uploader-I1")

	rec := s.do(http.MethodGet, "/credentials?status=active&limit=10", "uploader-I1", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var list handler.ListResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&list))
	s.Len(list.Credentials, 2)

	rec = s.do(http.MethodGet, "/credentials", "uploader-I2", nil, "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&list))
	s.Empty(list.Credentials)

	rec = s.do(http.MethodGet, "/credentials?institute_id=I1", "uploader-I2", nil, "")
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/credentials?status=expired", "admin", nil, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestBulkUploadReportsEachRow() {
	csv := "student_id,student_name,degree_name,institute_id,issued_at,honours\n" +
		"S1,Ada Lovelace,B.Sc.,I1,2024-06-15,first\n" +
		"S2,Alan Turing,B.Sc.,I2,2024-06-15,\n" +
		"S3,Grace Hopper,Ph.D.,I1,,\n"

	rec := s.do(http.MethodPost, "/credentials/bulk", "uploader-I1", strings.NewReader(csv), "text/csv")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp handler.BulkResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(2, resp.Issued)
	s.Equal(1, resp.Failed)
	s.Require().Len(resp.Rows, 3)
	s.NotEmpty(resp.Rows[0].Proof)
	s.Equal(2, resp.Rows[1].Row)
	s.NotEmpty(resp.Rows[1].Error)
	s.NotEmpty(resp.Rows[2].CredentialID)

	stored, err := s.store.Get(context.Background(), domain.CredentialID(resp.Rows[0].CredentialID))
	s.Require().NoError(err)
	s.Equal("first", stored.Record.Extra["honours"])
}

func (s *HandlerSuite) TestBulkUploadRejectsWholeFile() {
	cases := map[string]struct {
		body   string
		status int
	}{
		"empty":          {"", http.StatusBadRequest},
		"missing column": {"student_id,degree_name\nS1,B.Sc.\n", http.StatusBadRequest},
		"bad date":       {"student_id,degree_name,institute_id,issued_at\nS1,B.Sc.,I1,yesterday\n", http.StatusBadRequest},
		"too many rows":  {"student_id,degree_name,institute_id\nS1,a,I1\nS2,b,I1\nS3,c,I1\nS4,d,I1\n", http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			rec := s.do(http.MethodPost, "/credentials/bulk", "uploader-I1", strings.NewReader(tc.body), "text/csv")
			s.Equal(tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	outage := dErrors.Wrap(errors.Join(issuer.ErrStoreUnavailable, sentinel.ErrUnavailable), dErrors.CodeUnavailable, "credential store unavailable")
	svc.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, outage)

	r := chi.NewRouter()
	r.Use(withTestActor)
	handler.New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), 0).Register(r)

	req := httptest.NewRequest(http.MethodGet, "/credentials/cred_00000000000000000000000000000001", nil)
	req.Header.Set(actorHeader, "admin")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}
