package issuer

import (
	"errors"
	"fmt"

	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/sentinel"
	dErrors "degreeproof/pkg/domain-errors"
)

var (
	// ErrStoreConflict is the only retryable issuance failure: the drawn id was taken.
	ErrStoreConflict = errors.New("credential id already exists")
	// ErrAlreadyRevoked is returned when revoking or re-issuing a credential that is not active.
	ErrAlreadyRevoked = errors.New("credential is not active")
	// ErrStoreUnavailable means the record store could not be reached. Callers may retry.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// translateStoreError maps store errors to coded domain errors exactly once.
func translateStoreError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return dErrors.Wrap(ErrStoreConflict, dErrors.CodeConflict, "credential id already exists")
	case errors.Is(err, store.ErrStatusConflict):
		return dErrors.Wrap(ErrAlreadyRevoked, dErrors.CodeConflict, "credential is already revoked")
	case errors.Is(err, store.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "credential not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err), dErrors.CodeUnavailable, "credential store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to %s", op))
	}
}

func translateKeyError(err error) error {
	switch {
	case keys.IsUnknownInstitute(err):
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "no signing key for institute")
	case errors.Is(err, keys.ErrVerifyOnly):
		return dErrors.Wrap(err, dErrors.CodeForbidden, "institute key is verify-only on this deployment")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve signing key")
	}
}
