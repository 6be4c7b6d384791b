// Package handler exposes the verification engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"degreeproof/internal/verification/engine"
	"degreeproof/internal/verification/extraction"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	"degreeproof/pkg/platform/httputil"
	"degreeproof/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Engine

// Engine defines the verification operations used by the handler.
type Engine interface {
	VerifyByProofText(ctx context.Context, text string, actx models.AuditContext) (models.Result, error)
	VerifyByDocument(ctx context.Context, raw []byte, x extraction.Extractor, actx models.AuditContext) (models.Result, error)
	Reject(ctx context.Context, method models.Method, reason string, input []byte, actx models.AuditContext) models.Result
	Policy() engine.Policy
}

// DocumentField is the multipart field carrying the uploaded document.
const DocumentField = "document"

// multipartOverhead covers boundaries and part headers around the document.
const multipartOverhead = 1 << 20

// DefaultAllowedContentTypes are the document types accepted for extraction.
var DefaultAllowedContentTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"text/plain",
}

// Handler wires verification endpoints to the engine.
type Handler struct {
	engine    Engine
	extractor extraction.Extractor
	allowed   map[string]bool
	logger    *slog.Logger
}

// New constructs a verification handler. An empty allowed list means
// DefaultAllowedContentTypes.
func New(e Engine, x extraction.Extractor, allowedContentTypes []string, logger *slog.Logger) *Handler {
	if len(allowedContentTypes) == 0 {
		allowedContentTypes = DefaultAllowedContentTypes
	}
	allowed := make(map[string]bool, len(allowedContentTypes))
	for _, ct := range allowedContentTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = true
	}
	return &Handler{engine: e, extractor: x, allowed: allowed, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/verify/proof", h.HandleVerifyProof)
	r.Post("/verify/document", h.HandleVerifyDocument)
}

// ProofRequest is the body of POST /verify/proof.
type ProofRequest struct {
	Payload string `json:"payload"`
}

func (r *ProofRequest) Normalize() {
	if r != nil {
		r.Payload = strings.TrimSpace(r.Payload)
	}
}

// HandleVerifyProof handles POST /verify/proof. Every classification answers
// 200 with the result; only infrastructure faults are errors.
func (h *Handler) HandleVerifyProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.verifier(w, ctx)
	if !ok {
		return
	}

	// An unreadable body is still an attempt and is answered with an audited result.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxJSONBodyBytes))
	var req ProofRequest
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		h.logger.WarnContext(ctx, "undecodable proof request",
			"request_id", requestID,
			"error", err,
		)
		result := h.engine.Reject(ctx, models.MethodProofScan, models.ReasonInvalidRequest, body, auditContext(ctx, actor, ""))
		httputil.WriteJSON(w, http.StatusOK, result)
		return
	}
	req.Normalize()

	result, err := h.engine.VerifyByProofText(ctx, req.Payload, auditContext(ctx, actor, ""))
	if err != nil {
		h.logger.ErrorContext(ctx, "proof verification failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleVerifyDocument handles POST /verify/document with a multipart upload.
// A document type outside the allowed list is recorded as MALFORMED_INPUT.
func (h *Handler) HandleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, ok := h.verifier(w, ctx)
	if !ok {
		return
	}

	maxDoc := h.engine.Policy().MaxDocumentBytes
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxDoc)+multipartOverhead)
	file, header, err := r.FormFile(DocumentField)
	if err != nil {
		httputil.WriteError(w, uploadError(err))
		return
	}
	defer file.Close()

	// One byte past the limit lets the engine report the document as too large.
	raw, err := io.ReadAll(io.LimitReader(file, int64(maxDoc)+1))
	if err != nil {
		httputil.WriteError(w, uploadError(err))
		return
	}
	actx := auditContext(ctx, actor, filepath.Base(header.Filename))
	if len(raw) > 0 {
		if err := h.checkContentType(header, raw); err != nil {
			h.logger.WarnContext(ctx, "rejected document upload",
				"request_id", requestID,
				"error", err,
			)
			result := h.engine.Reject(ctx, models.MethodDocumentExtraction, models.ReasonUnsupportedType, raw, actx)
			httputil.WriteJSON(w, http.StatusOK, result)
			return
		}
	}

	result, err := h.engine.VerifyByDocument(ctx, raw, h.extractor, actx)
	if err != nil {
		h.logger.ErrorContext(ctx, "document verification failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// checkContentType sniffs the bytes; the declared part type only has to agree
// when it names something other than a generic binary stream.
func (h *Handler) checkContentType(header *multipart.FileHeader, raw []byte) error {
	sniffed := mediaType(http.DetectContentType(raw))
	if !h.allowed[sniffed] {
		return fmt.Errorf("document type %s is not accepted", sniffed)
	}
	declared := mediaType(header.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" && declared != sniffed {
		return fmt.Errorf("declared type %s does not match document content", declared)
	}
	return nil
}

func (h *Handler) verifier(w http.ResponseWriter, ctx context.Context) (domain.Actor, bool) {
	actor, ok := requestcontext.Actor(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return domain.Actor{}, false
	}
	if err := actor.Require(domain.CapVerify); err != nil {
		httputil.WriteError(w, err)
		return domain.Actor{}, false
	}
	return actor, true
}

func auditContext(ctx context.Context, actor domain.Actor, fileName string) models.AuditContext {
	client := requestcontext.ClientInfo(ctx)
	return models.AuditContext{
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		InstituteID: actor.InstituteID,
		RequestID:   requestcontext.RequestID(ctx),
		ClientIP:    client.IP,
		UserAgent:   client.UserAgent,
		FileName:    fileName,
	}
}

func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
		return dErrors.New(dErrors.CodeTooLarge, "document upload is too large")
	case errors.Is(err, http.ErrMissingFile):
		return dErrors.New(dErrors.CodeValidation, "multipart field "+DocumentField+" is required")
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, multipart.ErrMessageTooLarge):
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "request must be multipart/form-data")
	default:
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read document upload")
	}
}

var _ Engine = (*engine.Engine)(nil)
