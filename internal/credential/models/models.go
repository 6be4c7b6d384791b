package models

import (
	"strings"
	"time"

	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
)

// Status is the lifecycle state of an issued credential.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusActive, StatusRevoked:
		return Status(value), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "status must be active or revoked")
}

// ReissuedReasonPrefix prefixes the revocation reason of a superseded credential.
const ReissuedReasonPrefix = "reissued:"

// DegreeRecord is the academic record a credential attests to.
// IssuedAt is the conferral date of the degree, part of the record itself.
type DegreeRecord struct {
	StudentID   string            `json:"student_id"`
	StudentName string            `json:"student_name,omitempty"`
	DegreeName  string            `json:"degree_name"`
	InstituteID string            `json:"institute_id"`
	IssuedAt    time.Time         `json:"issued_at,omitzero"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// NaturalKey identifies the records a document may refer to.
type NaturalKey struct {
	StudentID   domain.StudentID
	InstituteID domain.InstituteID
}

func (r DegreeRecord) NaturalKey() NaturalKey {
	return NaturalKey{
		StudentID:   domain.StudentID(strings.TrimSpace(r.StudentID)),
		InstituteID: domain.InstituteID(strings.TrimSpace(r.InstituteID)),
	}
}

// Clone returns a copy that shares no map with r.
func (r DegreeRecord) Clone() DegreeRecord {
	out := r
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Credential is the signed, persisted attestation over a DegreeRecord.
// Everything except Status, StatusReason and ReplacedBy is immutable after issuance.
type Credential struct {
	ID           domain.CredentialID `json:"credential_id"`
	RecordHash   []byte              `json:"record_hash"`
	Signature    []byte              `json:"signature"`
	IssuedAt     time.Time           `json:"issued_at"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	Status       Status              `json:"status"`
	StatusReason string              `json:"status_reason,omitempty"`
	InstituteID  domain.InstituteID  `json:"institute_id"`
	StudentID    domain.StudentID    `json:"student_id"`
	IssuedBy     string              `json:"issued_by"`
	ReplacedBy   domain.CredentialID `json:"replaced_by,omitempty"`
	Record       DegreeRecord        `json:"record"`
}

func (c Credential) IsActive() bool  { return c.Status == StatusActive }
func (c Credential) IsRevoked() bool { return c.Status == StatusRevoked }

// IsExpiredAt reports now > expiresAt. A credential without expiry never expires.
func (c Credential) IsExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// StatusChange is one append-only entry of a credential's status history.
type StatusChange struct {
	CredentialID domain.CredentialID `json:"credential_id"`
	From         Status              `json:"from"`
	To           Status              `json:"to"`
	Reason       string              `json:"reason,omitempty"`
	ActorID      string              `json:"actor_id"`
	At           time.Time           `json:"at"`
}

// Transition describes a conditional status update.
type Transition struct {
	From       Status
	To         Status
	Reason     string
	ActorID    string
	At         time.Time
	ReplacedBy domain.CredentialID
}

// ListFilter narrows credential listings. Zero fields do not filter.
type ListFilter struct {
	InstituteID domain.InstituteID
	IssuedBy    string
	Status      Status
	Limit       int
}

// DefaultListLimit applies when ListFilter.Limit is zero.
const DefaultListLimit = 100

// MaxListLimit caps ListFilter.Limit.
const MaxListLimit = 1000

func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Matches applies the filter in memory.
func (f ListFilter) Matches(c Credential) bool {
	if f.InstituteID != "" && c.InstituteID != f.InstituteID {
		return false
	}
	if f.IssuedBy != "" && c.IssuedBy != f.IssuedBy {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}
