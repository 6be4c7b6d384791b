package engine

import (
	"bytes"
	"context"
	"errors"
	"time"

	"degreeproof/internal/credential/canonical"
	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/proof"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/verification/models"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
	"degreeproof/pkg/platform/tracer"
)

// proofConfidence is reported for every proof-path result that located a credential.
const proofConfidence = 100

// VerifyByProof classifies a binary proof envelope.
//
// Precedence: decode failure, unknown id, revoked, expired, then tampering
// (payload fields, record hash and signature checked independently).
func (e *Engine) VerifyByProof(ctx context.Context, encoded []byte, actx models.AuditContext) (models.Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, tracer.SpanVerifyProof)
	actx = withInputDigest(actx, encoded)

	var v verdict
	payload, err := proof.Decode(encoded)
	if err != nil {
		v = malformedProof(err)
	} else {
		v, err = e.classifyProof(ctx, payload)
		if err != nil {
			span.End(err)
			return models.Result{}, err
		}
	}
	res := e.finish(ctx, span, models.MethodProofScan, v, actx, start)
	span.End(nil)
	return res, nil
}

// VerifyByProofText strips the multibase text layer scanned from a QR code
// and classifies the envelope. Text that is not multibase is MALFORMED_INPUT.
func (e *Engine) VerifyByProofText(ctx context.Context, text string, actx models.AuditContext) (models.Result, error) {
	actx = withInputDigest(actx, []byte(text))
	raw, err := proof.TextToBinary(text)
	if err != nil {
		return e.reject(ctx, models.MethodProofScan, malformedProof(err), actx), nil
	}
	return e.VerifyByProof(ctx, raw, actx)
}

func malformedProof(err error) verdict {
	reason := models.ReasonDecodeFailed
	var de *proof.DecodeError
	if errors.As(err, &de) && de.Reason != "" {
		reason = de.Reason
	}
	return verdict{outcome: models.OutcomeMalformedInput, reason: reason}
}

func (e *Engine) classifyProof(ctx context.Context, p proof.Payload) (verdict, error) {
	c, err := e.store.Get(ctx, p.CredentialID)
	if errors.Is(err, store.ErrNotFound) {
		return verdict{outcome: models.OutcomeNotFound, reason: models.ReasonUnknownID}, nil
	}
	if err != nil {
		return verdict{}, e.unavailable(ctx, "get", err)
	}

	found := func(o models.Outcome, reason string) verdict {
		return verdict{outcome: o, reason: reason, credential: c.ID, confidence: proofConfidence}
	}

	if c.IsRevoked() {
		return found(models.OutcomeRevoked, models.ReasonRevoked), nil
	}
	if c.IsExpiredAt(requesttime.Now(ctx)) {
		return found(models.OutcomeExpired, models.ReasonExpired), nil
	}

	if p.InstituteID != c.InstituteID || p.IssuedAt.Unix() != c.IssuedAt.Unix() {
		return found(models.OutcomeTampered, models.ReasonFieldMismatch), nil
	}

	hash, err := canonical.DigestRecord(c.Record)
	if err != nil {
		// A stored record that no longer canonicalizes cannot vouch for anything.
		e.logger.ErrorContext(ctx, "stored record failed to canonicalize", "credential_id", c.ID.String(), "error", err)
		return found(models.OutcomeTampered, models.ReasonHashMismatch), nil
	}
	hashOK := bytes.Equal(hash, p.RecordHash)

	msg := keys.SigningMessage(p.RecordHash, p.CredentialID, p.IssuedAt, p.InstituteID)
	sigOK, err := keys.Verify(ctx, e.keys, c.InstituteID, msg, p.Signature)
	if err != nil {
		if keys.IsUnknownInstitute(err) {
			return found(models.OutcomeTampered, models.ReasonUnknownKey), nil
		}
		return verdict{}, e.unavailable(ctx, "public_key", err)
	}

	switch {
	case !hashOK:
		return found(models.OutcomeTampered, models.ReasonHashMismatch), nil
	case !sigOK:
		return found(models.OutcomeTampered, models.ReasonBadSignature), nil
	}
	return found(models.OutcomeVerified, models.ReasonMatch), nil
}
