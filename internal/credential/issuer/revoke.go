package issuer

import (
	"context"
	"errors"
	"strings"
	"time"

	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/store"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
	"degreeproof/pkg/platform/tracer"
)

// MaxReasonLength bounds revocation reasons.
const MaxReasonLength = 500

// Revoke moves an active credential to revoked in one conditional store update.
func (s *Service) Revoke(ctx context.Context, actor domain.Actor, id domain.CredentialID, reason string) (*models.Credential, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRevoke, tracer.String(tracer.AttrCredentialID, id.String()))
	c, err := s.revoke(ctx, actor, id, reason)
	span.End(err)
	return c, err
}

func (s *Service) revoke(ctx context.Context, actor domain.Actor, id domain.CredentialID, reason string) (*models.Credential, error) {
	if err := actor.Require(domain.CapRevoke); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(reason) > MaxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is too long")
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		s.observeStoreError(ctx, "get", err)
		return nil, translateStoreError(err, "load credential")
	}
	if !actor.ActsFor(current.InstituteID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor may not revoke for this institute")
	}

	updated, err := s.store.SetStatus(ctx, id, models.Transition{
		From:    models.StatusActive,
		To:      models.StatusRevoked,
		Reason:  reason,
		ActorID: actor.ID,
		At:      requesttime.Now(ctx),
	})
	if err != nil {
		s.observeStoreError(ctx, "set_status", err)
		return nil, translateStoreError(err, "revoke credential")
	}

	s.metrics.IncRevoked("revoke")
	s.logger.InfoContext(ctx, "credential revoked",
		"credential_id", id,
		"actor_id", actor.ID,
	)
	return &updated, nil
}

// ReissueRequest replaces PreviousID with a credential over Record.
type ReissueRequest struct {
	PreviousID domain.CredentialID
	Record     models.DegreeRecord
	TTL        time.Duration
	Actor      domain.Actor
}

// ReissueResult carries both sides of a re-issuance.
type ReissueResult struct {
	Credential *models.Credential
	Previous   *models.Credential
}

// Reissue issues a new credential first, then revokes the previous one with
// reason "reissued:<newId>" and replacedBy set. The previous credential is
// never mutated otherwise. A concurrent revoke of the previous credential
// leaves the same end state and is not an error.
func (s *Service) Reissue(ctx context.Context, req ReissueRequest) (*ReissueResult, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanReissue, tracer.String(tracer.AttrCredentialID, req.PreviousID.String()))
	res, err := s.reissue(ctx, req)
	span.End(err)
	return res, err
}

func (s *Service) reissue(ctx context.Context, req ReissueRequest) (*ReissueResult, error) {
	if err := req.Actor.Require(domain.CapReissue); err != nil {
		return nil, err
	}

	previous, err := s.store.Get(ctx, req.PreviousID)
	if err != nil {
		s.observeStoreError(ctx, "get", err)
		return nil, translateStoreError(err, "load credential")
	}
	if !req.Actor.ActsFor(previous.InstituteID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "actor may not re-issue for this institute")
	}
	if !previous.IsActive() {
		return nil, dErrors.Wrap(ErrAlreadyRevoked, dErrors.CodeConflict, "credential is already revoked")
	}
	if req.Record.NaturalKey().InstituteID != previous.InstituteID {
		return nil, dErrors.New(dErrors.CodeValidation, "re-issued record must belong to the same institute")
	}

	next, err := s.issueWithRetry(ctx, IssueRequest{
		Record: req.Record,
		TTL:    req.TTL,
		Actor:  req.Actor,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncIssued("reissue")

	revoked, err := s.store.SetStatus(ctx, previous.ID, models.Transition{
		From:       models.StatusActive,
		To:         models.StatusRevoked,
		Reason:     models.ReissuedReasonPrefix + next.ID.String(),
		ActorID:    req.Actor.ID,
		At:         requesttime.Now(ctx),
		ReplacedBy: next.ID,
	})
	switch {
	case err == nil:
		s.metrics.IncRevoked("reissue")
		previous = revoked
	case errors.Is(err, store.ErrStatusConflict):
		s.logger.WarnContext(ctx, "previous credential revoked concurrently during re-issue",
			"credential_id", previous.ID,
			"replacement_id", next.ID,
		)
		if latest, getErr := s.store.Get(ctx, previous.ID); getErr == nil {
			previous = latest
		}
	default:
		s.observeStoreError(ctx, "set_status", err)
		s.logger.ErrorContext(ctx, "re-issue left previous credential active",
			"credential_id", previous.ID,
			"replacement_id", next.ID,
			"error", err,
		)
		return nil, translateStoreError(err, "revoke replaced credential")
	}

	s.logger.InfoContext(ctx, "credential re-issued",
		"credential_id", next.ID,
		"previous_id", previous.ID,
		"actor_id", req.Actor.ID,
	)
	return &ReissueResult{Credential: next, Previous: &previous}, nil
}
