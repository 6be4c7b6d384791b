// Package audit is the append-only log of verification attempts and the
// human overrides recorded against them.
package audit

import (
	"time"

	"github.com/google/uuid"

	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
)

// Entry is one audited verification: the engine's result and who asked for it.
type Entry struct {
	Result  models.Result       `json:"result"`
	Context models.AuditContext `json:"context"`
}

// Override is a verifier's determination recorded alongside, never in place
// of, the engine's result.
type Override struct {
	ID       uuid.UUID       `json:"id"`
	ResultID domain.ResultID `json:"result_id"`
	Outcome  models.Outcome  `json:"outcome"`
	Note     string          `json:"note,omitempty"`
	ActorID  string          `json:"actor_id"`
	At       time.Time       `json:"at"`
}

// Record is an entry with its overrides, oldest first.
type Record struct {
	Entry
	Overrides []Override `json:"overrides"`
}

// FinalOutcome is the latest override's outcome, or the engine's when none exists.
func (r Record) FinalOutcome() models.Outcome {
	if n := len(r.Overrides); n > 0 {
		return r.Overrides[n-1].Outcome
	}
	return r.Result.Outcome
}

// ListFilter narrows entry listings. Zero fields do not filter.
type ListFilter struct {
	Outcome      models.Outcome
	Method       models.Method
	ActorID      string
	CredentialID domain.CredentialID
	Since        time.Time
	Limit        int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

func (f ListFilter) Matches(e Entry) bool {
	if f.Outcome != "" && e.Result.Outcome != f.Outcome {
		return false
	}
	if f.Method != "" && e.Result.Method != f.Method {
		return false
	}
	if f.ActorID != "" && e.Context.ActorID != f.ActorID {
		return false
	}
	if f.CredentialID != "" && e.Result.MatchedCredentialID != f.CredentialID {
		return false
	}
	if !f.Since.IsZero() && e.Result.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Stats aggregates entries at or after Since.
type Stats struct {
	Since      time.Time              `json:"since"`
	Total      int                    `json:"total"`
	ByOutcome  map[models.Outcome]int `json:"by_outcome"`
	ByMethod   map[models.Method]int  `json:"by_method"`
	Overridden int                    `json:"overridden"`
}

func newStats(since time.Time) Stats {
	s := Stats{
		Since:     since,
		ByOutcome: make(map[models.Outcome]int, len(models.Outcomes)),
		ByMethod:  make(map[models.Method]int, 2),
	}
	for _, o := range models.Outcomes {
		s.ByOutcome[o] = 0
	}
	s.ByMethod[models.MethodProofScan] = 0
	s.ByMethod[models.MethodDocumentExtraction] = 0
	return s
}
