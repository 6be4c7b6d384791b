package issuer

import (
	"context"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
)

// Get returns a credential the actor may manage: uploaders of its institute or admins.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.CredentialID) (*models.Credential, error) {
	if err := actor.Require(domain.CapListUploads); err != nil {
		return nil, err
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		s.observeStoreError(ctx, "get", err)
		return nil, translateStoreError(err, "load credential")
	}
	if !actor.ActsFor(c.InstituteID) {
		// Same answer as a missing id so ids of other institutes are not disclosed.
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	return &c, nil
}

// ListUploads lists credentials newest first. Uploaders only see what they
// uploaded themselves; admins may filter freely.
func (s *Service) ListUploads(ctx context.Context, actor domain.Actor, filter models.ListFilter) ([]models.Credential, error) {
	if err := actor.Require(domain.CapListUploads); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		if filter.InstituteID != "" && filter.InstituteID != actor.InstituteID {
			return nil, dErrors.New(dErrors.CodeForbidden, "actor may not list another institute")
		}
		filter.InstituteID = actor.InstituteID
		filter.IssuedBy = actor.ID
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		s.observeStoreError(ctx, "list", err)
		return nil, translateStoreError(err, "list credentials")
	}
	return out, nil
}

// History returns the status history of a credential. Verifiers and admins
// read any history; uploaders read their own institute's.
func (s *Service) History(ctx context.Context, actor domain.Actor, id domain.CredentialID) ([]models.StatusChange, error) {
	if !actor.Can(domain.CapReadHistory) {
		if _, err := s.Get(ctx, actor, id); err != nil {
			return nil, err
		}
	}
	out, err := s.store.History(ctx, id)
	if err != nil {
		s.observeStoreError(ctx, "history", err)
		return nil, translateStoreError(err, "load status history")
	}
	return out, nil
}
