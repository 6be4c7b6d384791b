// Package tracer is a small tracing abstraction over OpenTelemetry used by
// issuance, verification and the extraction adapter.
//
// Implementations:
//   - NoopTracer: tests and deployments without a collector
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
//
//	ctx, span := tr.Start(ctx, tracer.SpanVerifyProof,
//	    tracer.String(tracer.AttrCredentialID, id.String()),
//	)
//	defer span.End(nil)
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records the value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashStudentID returns a short SHA-256 prefix so traces correlate without carrying the id.
func HashStudentID(studentID string) string {
	if studentID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(studentID))
	return hex.EncodeToString(sum[:8])
}

const (
	SpanIssue          = "credential.issue"
	SpanRevoke         = "credential.revoke"
	SpanReissue        = "credential.reissue"
	SpanBulkIssue      = "credential.bulk_issue"
	SpanVerifyProof    = "verification.proof"
	SpanVerifyDocument = "verification.document"
	SpanExtract        = "verification.extract"
)

const (
	AttrCredentialID = "credential.id"
	AttrInstituteID  = "institute.id"
	AttrStudentHash  = "student.hash"
	AttrOutcome      = "verification.outcome"
	AttrReason       = "verification.reason"
	AttrConfidence   = "verification.confidence"
	AttrSimilarity   = "verification.similarity"
	AttrCandidates   = "verification.candidates"
	AttrAttempt      = "issue.attempt"
	AttrRows         = "bulk.rows"
)

const (
	EventAuditAppended = "audit.appended"
	EventAuditFailed   = "audit.failed"
	EventConflictRetry = "issue.conflict_retry"
)
