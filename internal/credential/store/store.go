package store

import (
	"context"
	"fmt"

	"degreeproof/internal/credential/models"
	"degreeproof/internal/sentinel"
	"degreeproof/pkg/domain"
)

var (
	// ErrNotFound is returned by Get, SetStatus and History for unknown ids.
	ErrNotFound = fmt.Errorf("credential %w", sentinel.ErrNotFound)
	// ErrConflict is returned by Put when the credential id is taken.
	ErrConflict = fmt.Errorf("credential id %w", sentinel.ErrConflict)
	// ErrStatusConflict is returned by SetStatus when the current status is not Transition.From.
	ErrStatusConflict = fmt.Errorf("credential status %w", sentinel.ErrInvalidState)
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

// Store persists credentials. Put is an insert-if-absent and SetStatus is a
// single conditional update that appends to the status history atomically.
// Failures other than the errors above mean the store could not be reached.
type Store interface {
	Put(ctx context.Context, c models.Credential) error
	Get(ctx context.Context, id domain.CredentialID) (models.Credential, error)
	FindByNaturalKey(ctx context.Context, key models.NaturalKey) ([]models.Credential, error)
	SetStatus(ctx context.Context, id domain.CredentialID, t models.Transition) (models.Credential, error)
	History(ctx context.Context, id domain.CredentialID) ([]models.StatusChange, error)
	List(ctx context.Context, filter models.ListFilter) ([]models.Credential, error)
}

// Unavailable marks infrastructure failures so callers can tell them from domain outcomes.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
