// Package domain provides type-safe identifiers and the actor model shared by
// issuance, verification and audit.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	dErrors "degreeproof/pkg/domain-errors"
)

// CredentialIDPrefix marks credential identifiers.
const CredentialIDPrefix = "cred_"

// credentialIDBytes is the amount of randomness behind a credential id (128 bits).
const credentialIDBytes = 16

type (
	// CredentialID identifies an issued credential: "cred_" + 32 lowercase hex chars.
	CredentialID string
	// InstituteID identifies an issuing institute and selects its signing key.
	InstituteID string
	// StudentID is the institute-scoped student identifier.
	StudentID string
	// ResultID identifies a verification result in the audit log.
	ResultID uuid.UUID
)

// NewCredentialID draws 128 random bits from r. A nil reader means crypto/rand.
func NewCredentialID(r io.Reader) (CredentialID, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, credentialIDBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read credential id entropy: %w", err)
	}
	return CredentialID(CredentialIDPrefix + hex.EncodeToString(b)), nil
}

// ParseCredentialID validates the prefix and the 128-bit hex body.
func ParseCredentialID(s string) (CredentialID, error) {
	body, ok := strings.CutPrefix(s, CredentialIDPrefix)
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential ID must start with "+CredentialIDPrefix)
	}
	if len(body) != credentialIDBytes*2 || strings.ToLower(body) != body {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential ID must carry 32 lowercase hex characters")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential ID must carry 32 lowercase hex characters")
	}
	return CredentialID(s), nil
}

func ParseInstituteID(s string) (InstituteID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "institute ID cannot be empty")
	}
	return InstituteID(s), nil
}

func NewResultID() ResultID { return ResultID(uuid.New()) }

func ParseResultID(s string) (ResultID, error) {
	if s == "" {
		return ResultID{}, dErrors.New(dErrors.CodeInvalidInput, "result ID cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return ResultID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid result ID")
	}
	return ResultID(id), nil
}

func (id CredentialID) String() string { return string(id) }
func (id InstituteID) String() string  { return string(id) }
func (id StudentID) String() string    { return string(id) }
func (id ResultID) String() string     { return uuid.UUID(id).String() }

func (id CredentialID) IsNil() bool { return id == "" }
func (id ResultID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

func (id ResultID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ResultID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("parse result ID: %w", err)
	}
	*id = ResultID(parsed)
	return nil
}
