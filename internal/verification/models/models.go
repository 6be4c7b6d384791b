// Package models defines verification outcomes and the audit context that
// travels with every result.
package models

import (
	"time"

	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
)

// Outcome is the engine's classification of a presented input.
type Outcome string

const (
	OutcomeVerified       Outcome = "VERIFIED"
	OutcomeTampered       Outcome = "TAMPERED"
	OutcomeNotFound       Outcome = "NOT_FOUND"
	OutcomeExpired        Outcome = "EXPIRED"
	OutcomeRevoked        Outcome = "REVOKED"
	OutcomeMalformedInput Outcome = "MALFORMED_INPUT"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeVerified, OutcomeTampered, OutcomeNotFound,
	OutcomeExpired, OutcomeRevoked, OutcomeMalformedInput,
}

func ParseOutcome(s string) (Outcome, error) {
	for _, o := range Outcomes {
		if string(o) == s {
			return o, nil
		}
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown outcome "+s)
}

// Method is how the input reached the engine.
type Method string

const (
	MethodProofScan          Method = "proof_scan"
	MethodDocumentExtraction Method = "document_extraction"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodProofScan, MethodDocumentExtraction:
		return Method(s), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown method "+s)
}

// Machine-readable reasons attached to results.
const (
	ReasonMatch            = "match"
	ReasonDecodeFailed     = "decode_failed"
	ReasonUnknownID        = "unknown_credential"
	ReasonRevoked          = "revoked"
	ReasonExpired          = "expired"
	ReasonHashMismatch     = "hash_mismatch"
	ReasonBadSignature     = "signature_invalid"
	ReasonFieldMismatch    = "payload_field_mismatch"
	ReasonUnknownKey       = "unknown_institute_key"
	ReasonEmptyDocument    = "empty_document"
	ReasonDocumentTooLarge = "document_too_large"
	ReasonExtraction       = "extraction_failed"
	ReasonNoNaturalKey     = "missing_natural_key"
	ReasonNoCandidate      = "no_candidate"
	ReasonBelowThreshold   = "below_threshold"
	ReasonUnsupportedType  = "unsupported_document_type"
	ReasonInvalidRequest   = "invalid_request_body"
)

// Result is immutable once produced.
type Result struct {
	ID                  domain.ResultID     `json:"id"`
	Outcome             Outcome             `json:"outcome"`
	MatchedCredentialID domain.CredentialID `json:"matched_credential_id,omitempty"`
	Confidence          int                 `json:"confidence"`
	Timestamp           time.Time           `json:"timestamp"`
	Method              Method              `json:"method"`
	Reason              string              `json:"reason,omitempty"`
	// Similarity is the best candidate's field match ratio on the document path.
	Similarity *float64 `json:"similarity,omitempty"`
}

// Verified reports whether the outcome is VERIFIED.
func (r Result) Verified() bool { return r.Outcome == OutcomeVerified }

// AuditContext describes who presented the input and how.
type AuditContext struct {
	ActorID     string             `json:"actor_id,omitempty"`
	ActorRole   domain.Role        `json:"actor_role,omitempty"`
	InstituteID domain.InstituteID `json:"institute_id,omitempty"`
	RequestID   string             `json:"request_id,omitempty"`
	ClientIP    string             `json:"client_ip,omitempty"`
	UserAgent   string             `json:"user_agent,omitempty"`
	// InputDigest is the hex sha256 of the raw presented input.
	InputDigest string `json:"input_digest,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}
