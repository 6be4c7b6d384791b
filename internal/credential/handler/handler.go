// Package handler exposes credential issuance, lifecycle and proof rendering over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"degreeproof/internal/credential/issuer"
	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/proof"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	"degreeproof/pkg/platform/httputil"
	"degreeproof/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the credential operations used by the handler.
type Service interface {
	IssueWithRetry(ctx context.Context, req issuer.IssueRequest) (*models.Credential, error)
	BulkIssue(ctx context.Context, req issuer.BulkRequest) ([]issuer.BulkRow, error)
	Get(ctx context.Context, actor domain.Actor, id domain.CredentialID) (*models.Credential, error)
	ListUploads(ctx context.Context, actor domain.Actor, filter models.ListFilter) ([]models.Credential, error)
	History(ctx context.Context, actor domain.Actor, id domain.CredentialID) ([]models.StatusChange, error)
	Revoke(ctx context.Context, actor domain.Actor, id domain.CredentialID, reason string) (*models.Credential, error)
	Reissue(ctx context.Context, req issuer.ReissueRequest) (*issuer.ReissueResult, error)
}

// Handler wires credential endpoints to the issuer.
type Handler struct {
	service     Service
	logger      *slog.Logger
	maxBulkRows int
}

// New constructs a credential handler. maxBulkRows bounds CSV uploads; zero
// means DefaultMaxBulkRows.
func New(service Service, logger *slog.Logger, maxBulkRows int) *Handler {
	if maxBulkRows <= 0 {
		maxBulkRows = DefaultMaxBulkRows
	}
	return &Handler{service: service, logger: logger, maxBulkRows: maxBulkRows}
}

// Register mounts credential endpoints on the router. Callers wrap r with
// authentication; capability checks happen in the issuer.
func (h *Handler) Register(r chi.Router) {
	r.Post("/credentials", h.HandleIssue)
	r.Post("/credentials/bulk", h.HandleBulkIssue)
	r.Get("/credentials", h.HandleList)
	r.Get("/credentials/{id}", h.HandleGet)
	r.Get("/credentials/{id}/proof", h.HandleProof)
	r.Get("/credentials/{id}/qr.png", h.HandleQR)
	r.Get("/credentials/{id}/history", h.HandleHistory)
	r.Post("/credentials/{id}/revoke", h.HandleRevoke)
	r.Post("/credentials/{id}/reissue", h.HandleReissue)
}

// HandleIssue handles POST /credentials.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	c, err := h.service.IssueWithRetry(ctx, issuer.IssueRequest{
		Record: req.Record(),
		TTL:    req.TTL(),
		Actor:  actor,
	})
	if err != nil {
		h.fail(ctx, w, "failed to issue credential", err, "institute_id", req.InstituteID)
		return
	}

	resp, err := toIssueResponse(c)
	if err != nil {
		h.fail(ctx, w, "failed to encode proof", err, "credential_id", c.ID)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// HandleBulkIssue handles POST /credentials/bulk with a CSV body.
func (h *Handler) HandleBulkIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, MaxBulkBodyBytes)
	records, err := ParseCSV(body, h.maxBulkRows)
	if err != nil {
		h.logger.WarnContext(ctx, "rejected bulk upload",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil || ttl < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "ttl must be a positive duration"))
			return
		}
	}

	rows, err := h.service.BulkIssue(ctx, issuer.BulkRequest{Records: records, TTL: ttl, Actor: actor})
	if err != nil {
		h.fail(ctx, w, "bulk issuance refused", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBulkResponse(rows))
}

// HandleList handles GET /credentials?status=&institute_id=&limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, err := h.service.ListUploads(ctx, actor, filter)
	if err != nil {
		h.fail(ctx, w, "failed to list credentials", err)
		return
	}

	resp := ListResponse{Credentials: make([]CredentialResponse, 0, len(out))}
	for _, c := range out {
		resp.Credentials = append(resp.Credentials, toCredentialResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleGet handles GET /credentials/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCredentialResponse(*c))
}

// HandleProof handles GET /credentials/{id}/proof.
func (h *Handler) HandleProof(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	text, err := proof.EncodeText(*c)
	if err != nil {
		h.fail(r.Context(), w, "failed to encode proof", err, "credential_id", c.ID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProofResponse{CredentialID: c.ID.String(), Payload: text})
}

// HandleQR handles GET /credentials/{id}/qr.png?size=.
func (h *Handler) HandleQR(w http.ResponseWriter, r *http.Request) {
	size := proof.DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < MinQRSize || n > MaxQRSize {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation,
				"size must be between "+strconv.Itoa(MinQRSize)+" and "+strconv.Itoa(MaxQRSize)))
			return
		}
		size = n
	}

	c, ok := h.load(w, r)
	if !ok {
		return
	}
	text, err := proof.EncodeText(*c)
	if err != nil {
		h.fail(r.Context(), w, "failed to encode proof", err, "credential_id", c.ID)
		return
	}
	png, err := proof.RenderQR(text, size)
	if err != nil {
		h.fail(r.Context(), w, "failed to render qr code", err, "credential_id", c.ID)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// HandleHistory handles GET /credentials/{id}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, ok := credentialID(w, r)
	if !ok {
		return
	}
	changes, err := h.service.History(ctx, actor, id)
	if err != nil {
		h.fail(ctx, w, "failed to load status history", err, "credential_id", id)
		return
	}
	if changes == nil {
		changes = []models.StatusChange{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{CredentialID: id.String(), Changes: changes})
}

// HandleRevoke handles POST /credentials/{id}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, ok := credentialID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	c, err := h.service.Revoke(ctx, actor, id, req.Reason)
	if err != nil {
		h.fail(ctx, w, "failed to revoke credential", err, "credential_id", id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCredentialResponse(*c))
}

// HandleReissue handles POST /credentials/{id}/reissue.
func (h *Handler) HandleReissue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, ok := credentialID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res, err := h.service.Reissue(ctx, issuer.ReissueRequest{
		PreviousID: id,
		Record:     req.Record(),
		TTL:        req.TTL(),
		Actor:      actor,
	})
	if err != nil {
		h.fail(ctx, w, "failed to re-issue credential", err, "credential_id", id)
		return
	}

	issued, err := toIssueResponse(res.Credential)
	if err != nil {
		h.fail(ctx, w, "failed to encode proof", err, "credential_id", res.Credential.ID)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ReissueResponse{
		Credential: issued,
		Previous:   toCredentialResponse(*res.Previous),
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.Credential, bool) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return nil, false
	}
	id, ok := credentialID(w, r)
	if !ok {
		return nil, false
	}
	c, err := h.service.Get(ctx, actor, id)
	if err != nil {
		h.fail(ctx, w, "failed to load credential", err, "credential_id", id)
		return nil, false
	}
	return c, true
}

func (h *Handler) actor(w http.ResponseWriter, ctx context.Context) (domain.Actor, bool) {
	actor, ok := requestcontext.Actor(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}

// fail logs server-side failures at error level and client mistakes at warn.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeUnavailable) {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func credentialID(w http.ResponseWriter, r *http.Request) (domain.CredentialID, bool) {
	id, err := domain.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return id, true
}

func parseListFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	var f models.ListFilter
	if s := q.Get("status"); s != "" {
		status, err := models.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	if inst := q.Get("institute_id"); inst != "" {
		id, err := domain.ParseInstituteID(inst)
		if err != nil {
			return f, err
		}
		f.InstituteID = id
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

var _ Service = (*issuer.Service)(nil)
