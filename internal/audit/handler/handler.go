// Package handler serves verification history, verifier overrides and the
// admin fraud and analytics reports.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"degreeproof/internal/audit"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	"degreeproof/pkg/platform/httputil"
	"degreeproof/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the audit queries used by the handler.
type Service interface {
	List(ctx context.Context, actor domain.Actor, filter audit.ListFilter) ([]audit.Entry, error)
	Get(ctx context.Context, actor domain.Actor, id domain.ResultID) (audit.Record, error)
	Override(ctx context.Context, actor domain.Actor, id domain.ResultID, outcome models.Outcome, note string) (audit.Override, error)
	FraudReports(ctx context.Context, actor domain.Actor, since time.Time, limit int) ([]audit.Record, error)
	Stats(ctx context.Context, actor domain.Actor, since time.Time) (audit.Stats, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts verifier-facing history routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/verifications", h.HandleList)
	r.Get("/verifications/{id}", h.HandleGet)
	r.Post("/verifications/{id}/override", h.HandleOverride)
}

// RegisterAdmin mounts the reporting routes.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/fraud-reports", h.HandleFraudReports)
	r.Get("/admin/stats", h.HandleStats)
}

type ListResponse struct {
	Verifications []audit.Entry `json:"verifications"`
}

// RecordResponse is an entry with its overrides and the outcome that stands.
type RecordResponse struct {
	audit.Record
	FinalOutcome models.Outcome `json:"final_outcome"`
}

func toRecordResponse(r audit.Record) RecordResponse {
	if r.Overrides == nil {
		r.Overrides = []audit.Override{}
	}
	return RecordResponse{Record: r, FinalOutcome: r.FinalOutcome()}
}

type FraudReportResponse struct {
	Reports []RecordResponse `json:"reports"`
}

// OverrideRequest is the body of POST /verifications/{id}/override.
type OverrideRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note"`

	outcome models.Outcome
}

func (r *OverrideRequest) Normalize() {
	if r == nil {
		return
	}
	r.Outcome = strings.ToUpper(strings.TrimSpace(r.Outcome))
	r.Note = strings.TrimSpace(r.Note)
}

func (r *OverrideRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Note) > audit.MaxNoteLength {
		return dErrors.New(dErrors.CodeValidation, "note is too long")
	}
	if r.Outcome == "" {
		return dErrors.New(dErrors.CodeValidation, "outcome is required")
	}
	o, err := models.ParseOutcome(r.Outcome)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	r.outcome = o
	return nil
}

// HandleList handles GET /verifications?outcome=&method=&actor=&credential_id=&since=&limit=.
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
	entries, err := h.service.List(ctx, actor, filter)
	if err != nil {
		h.fail(ctx, w, "failed to list verifications", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Verifications: entries})
}

// HandleGet handles GET /verifications/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, err := domain.ParseResultID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(ctx, actor, id)
	if err != nil {
		h.fail(ctx, w, "failed to load verification", err, "result_id", id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleOverride handles POST /verifications/{id}/override.
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	id, err := domain.ParseResultID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[OverrideRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	o, err := h.service.Override(ctx, actor, id, req.outcome, req.Note)
	if err != nil {
		h.fail(ctx, w, "failed to record override", err, "result_id", id)
		return
	}
	h.logger.InfoContext(ctx, "verification overridden",
		"request_id", requestcontext.RequestID(ctx),
		"result_id", id,
		"outcome", o.Outcome,
		"actor_id", actor.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, o)
}

// HandleFraudReports handles GET /admin/fraud-reports?since=&limit=.
func (h *Handler) HandleFraudReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.FraudReports(ctx, actor, since, limit)
	if err != nil {
		h.fail(ctx, w, "failed to list fraud reports", err)
		return
	}
	resp := FraudReportResponse{Reports: make([]RecordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Reports = append(resp.Reports, toRecordResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /admin/stats?since=.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, ctx)
	if !ok {
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	stats, err := h.service.Stats(ctx, actor, since)
	if err != nil {
		h.fail(ctx, w, "failed to aggregate verifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) actor(w http.ResponseWriter, ctx context.Context) (domain.Actor, bool) {
	actor, ok := requestcontext.Actor(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	if dErrors.HasCode(err, dErrors.CodeInternal) || dErrors.HasCode(err, dErrors.CodeUnavailable) {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func parseListFilter(r *http.Request) (audit.ListFilter, error) {
	q := r.URL.Query()
	var f audit.ListFilter
	var err error
	if v := q.Get("outcome"); v != "" {
		if f.Outcome, err = models.ParseOutcome(strings.ToUpper(v)); err != nil {
			return f, err
		}
	}
	if v := q.Get("method"); v != "" {
		if f.Method, err = models.ParseMethod(v); err != nil {
			return f, err
		}
	}
	f.ActorID = strings.TrimSpace(q.Get("actor"))
	if v := q.Get("credential_id"); v != "" {
		if f.CredentialID, err = domain.ParseCredentialID(v); err != nil {
			return f, err
		}
	}
	if f.Since, err = parseSince(q.Get("since")); err != nil {
		return f, err
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		return f, err
	}
	return f, nil
}

// parseSince accepts RFC 3339 instants, plain dates and relative durations such as "24h".
func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, "since must be an RFC 3339 timestamp, a date or a duration")
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer")
	}
	return n, nil
}

var _ Service = (*audit.Service)(nil)
