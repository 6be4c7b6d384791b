package audit

import (
	"context"
	"fmt"
	"time"

	"degreeproof/internal/sentinel"
	"degreeproof/pkg/domain"
)

var (
	// ErrNotFound is returned for unknown result ids.
	ErrNotFound = fmt.Errorf("verification result %w", sentinel.ErrNotFound)
	// ErrDuplicate is returned when a result id is appended twice.
	ErrDuplicate = fmt.Errorf("verification result %w", sentinel.ErrConflict)
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Sink,Store

// Sink receives audit entries. Append must not retain e after returning.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Store is a queryable Sink.
type Store interface {
	Sink
	Get(ctx context.Context, id domain.ResultID) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
	AppendOverride(ctx context.Context, o Override) error
	Overrides(ctx context.Context, id domain.ResultID) ([]Override, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)
}
