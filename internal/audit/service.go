package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"degreeproof/internal/sentinel"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
)

// MaxNoteLength bounds override notes.
const MaxNoteLength = 1000

// Service answers history, override and reporting requests over a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns entries newest first. Verifiers see the attempts they made;
// actors with read_audit see every attempt.
func (s *Service) List(ctx context.Context, actor domain.Actor, filter ListFilter) ([]Entry, error) {
	if err := actor.Require(domain.CapReadHistory); err != nil {
		return nil, err
	}
	if !actor.Can(domain.CapReadAudit) {
		if filter.ActorID != "" && filter.ActorID != actor.ID {
			return nil, dErrors.New(dErrors.CodeForbidden, "actor may only read their own verifications")
		}
		filter.ActorID = actor.ID
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translate(err, "list verifications")
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.ResultID) (Record, error) {
	if err := actor.Require(domain.CapReadHistory); err != nil {
		return Record{}, err
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, translate(err, "load verification")
	}
	if !actor.Can(domain.CapReadAudit) && rec.Context.ActorID != actor.ID {
		return Record{}, dErrors.New(dErrors.CodeNotFound, "verification not found")
	}
	return rec, nil
}

// Override records a verifier's determination for a result. The engine's
// result is left untouched.
func (s *Service) Override(ctx context.Context, actor domain.Actor, id domain.ResultID, outcome models.Outcome, note string) (Override, error) {
	if err := actor.Require(domain.CapOverride); err != nil {
		return Override{}, err
	}
	if _, err := models.ParseOutcome(string(outcome)); err != nil {
		return Override{}, err
	}
	note = strings.TrimSpace(note)
	if len(note) > MaxNoteLength {
		return Override{}, dErrors.New(dErrors.CodeValidation, "note is too long")
	}
	o := Override{
		ID:       uuid.New(),
		ResultID: id,
		Outcome:  outcome,
		Note:     note,
		ActorID:  actor.ID,
		At:       requesttime.Now(ctx).UTC(),
	}
	if err := s.store.AppendOverride(ctx, o); err != nil {
		return Override{}, translate(err, "record override")
	}
	return o, nil
}

// FraudReports lists TAMPERED results with their overrides, newest first.
func (s *Service) FraudReports(ctx context.Context, actor domain.Actor, since time.Time, limit int) ([]Record, error) {
	if err := actor.Require(domain.CapReadAudit); err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, ListFilter{Outcome: models.OutcomeTampered, Since: since, Limit: limit})
	if err != nil {
		return nil, translate(err, "list fraud reports")
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		overrides, err := s.store.Overrides(ctx, e.Result.ID)
		if err != nil {
			return nil, translate(err, "load overrides")
		}
		out = append(out, Record{Entry: e, Overrides: overrides})
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context, actor domain.Actor, since time.Time) (Stats, error) {
	if err := actor.Require(domain.CapReadAudit); err != nil {
		return Stats{}, err
	}
	stats, err := s.store.Stats(ctx, since)
	if err != nil {
		return Stats{}, translate(err, "aggregate verifications")
	}
	return stats, nil
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "verification not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
	}
}
