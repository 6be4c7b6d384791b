// Package engine classifies presented proofs and documents against the
// record store. Every classification is a Result; only store and key
// infrastructure faults surface as errors.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"degreeproof/internal/audit"
	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/verification/metrics"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
	"degreeproof/pkg/platform/tracer"
)

// ErrStoreUnavailable means the record store or key provider could not be
// reached. It is never reported as NOT_FOUND. Callers may retry.
var ErrStoreUnavailable = errors.New("record store unavailable")

// Policy holds the tunable parts of document matching.
type Policy struct {
	// MatchThreshold is the inclusive minimum similarity for a document match.
	MatchThreshold float64
	// CompareFields restricts similarity to these canonical field names.
	// Empty compares every field of the stored record.
	CompareFields []string
	// ExtractionTimeout bounds one extractor call.
	ExtractionTimeout time.Duration
	// MaxDocumentBytes rejects larger documents before extraction.
	MaxDocumentBytes int
}

func DefaultPolicy() Policy {
	return Policy{
		MatchThreshold:    0.9,
		ExtractionTimeout: 10 * time.Second,
		MaxDocumentBytes:  10 << 20,
	}
}

// Engine is stateless; it may be shared across goroutines.
type Engine struct {
	store   store.Store
	keys    keys.Provider
	audit   audit.Sink
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

// Option configures the Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithAuditSink sets where results are appended. Without one results are not audited.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) {
		e.audit = sink
	}
}

func New(st store.Store, kp keys.Provider, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("credential store is required")
	}
	if kp == nil {
		return nil, errors.New("key provider is required")
	}
	e := &Engine{
		store:  st,
		keys:   kp,
		policy: DefaultPolicy(),
		logger: slog.Default(),
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.ExtractionTimeout <= 0 {
		e.policy.ExtractionTimeout = DefaultPolicy().ExtractionTimeout
	}
	if e.policy.MaxDocumentBytes <= 0 {
		e.policy.MaxDocumentBytes = DefaultPolicy().MaxDocumentBytes
	}
	return e, nil
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy { return e.policy }

// verdict is a classification before it is stamped and audited.
type verdict struct {
	outcome    models.Outcome
	reason     string
	credential domain.CredentialID
	confidence int
	similarity *float64
}

// finish stamps the verdict, appends it to the audit sink and records metrics.
// Audit failures are logged and counted but never change the result.
func (e *Engine) finish(ctx context.Context, span tracer.Span, method models.Method, v verdict, actx models.AuditContext, start time.Time) models.Result {
	res := models.Result{
		ID:                  domain.NewResultID(),
		Outcome:             v.outcome,
		MatchedCredentialID: v.credential,
		Confidence:          v.confidence,
		Timestamp:           requesttime.Now(ctx),
		Method:              method,
		Reason:              v.reason,
		Similarity:          v.similarity,
	}

	span.SetAttributes(
		tracer.String(tracer.AttrOutcome, string(res.Outcome)),
		tracer.String(tracer.AttrReason, res.Reason),
		tracer.Int64(tracer.AttrConfidence, int64(res.Confidence)),
	)
	if !res.MatchedCredentialID.IsNil() {
		span.SetAttributes(tracer.String(tracer.AttrCredentialID, res.MatchedCredentialID.String()))
	}

	if e.audit != nil {
		if err := e.audit.Append(ctx, audit.Entry{Result: res, Context: actx}); err != nil {
			e.metrics.IncAuditFailure()
			span.AddEvent(tracer.EventAuditFailed)
			e.logger.ErrorContext(ctx, "failed to append verification result to audit log",
				"result_id", res.ID.String(),
				"outcome", res.Outcome,
				"error", err,
			)
		} else {
			span.AddEvent(tracer.EventAuditAppended)
		}
	}

	e.metrics.IncVerification(string(res.Outcome), string(res.Method))
	e.metrics.ObserveDuration(string(method), time.Since(start).Seconds())
	e.logger.InfoContext(ctx, "verification completed",
		"result_id", res.ID.String(),
		"method", res.Method,
		"outcome", res.Outcome,
		"reason", res.Reason,
		"confidence", res.Confidence,
		"credential_id", res.MatchedCredentialID.String(),
	)
	return res
}

// Reject records an attempt refused before classification, such as an
// undecodable request or a document type the extractor does not accept, as a
// MALFORMED_INPUT result.
func (e *Engine) Reject(ctx context.Context, method models.Method, reason string, input []byte, actx models.AuditContext) models.Result {
	v := verdict{outcome: models.OutcomeMalformedInput, reason: reason}
	return e.reject(ctx, method, v, withInputDigest(actx, input))
}

func (e *Engine) reject(ctx context.Context, method models.Method, v verdict, actx models.AuditContext) models.Result {
	start := time.Now()
	name := tracer.SpanVerifyProof
	if method == models.MethodDocumentExtraction {
		name = tracer.SpanVerifyDocument
	}
	ctx, span := e.tracer.Start(ctx, name)
	res := e.finish(ctx, span, method, v, actx, start)
	span.End(nil)
	return res
}

// unavailable wraps an infrastructure fault once, counting and logging it.
func (e *Engine) unavailable(ctx context.Context, op string, err error) error {
	e.metrics.IncStoreUnavailable()
	e.logger.ErrorContext(ctx, "verification aborted: dependency unavailable", "op", op, "error", err)
	return dErrors.Wrap(errors.Join(ErrStoreUnavailable, err), dErrors.CodeUnavailable, "record store unavailable")
}

func withInputDigest(actx models.AuditContext, input []byte) models.AuditContext {
	if actx.InputDigest == "" {
		sum := sha256.Sum256(input)
		actx.InputDigest = hex.EncodeToString(sum[:])
	}
	return actx
}
