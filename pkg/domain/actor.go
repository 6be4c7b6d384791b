package domain

import (
	"fmt"

	dErrors "degreeproof/pkg/domain-errors"
)

// Role is the coarse role asserted by the identity provider.
type Role string

const (
	RoleUploader Role = "uploader"
	RoleVerifier Role = "verifier"
	RoleAdmin    Role = "admin"
)

// Capability is a single permission checked at an operation boundary.
type Capability string

const (
	CapIssue       Capability = "issue"
	CapReissue     Capability = "reissue"
	CapRevoke      Capability = "revoke"
	CapListUploads Capability = "list_uploads"
	CapVerify      Capability = "verify"
	CapOverride    Capability = "override"
	CapReadHistory Capability = "read_history"
	CapReadAudit   Capability = "read_audit"
)

var roleCapabilities = map[Role][]Capability{
	RoleUploader: {CapIssue, CapReissue, CapListUploads},
	RoleVerifier: {CapVerify, CapOverride, CapReadHistory},
	RoleAdmin: {
		CapIssue, CapReissue, CapRevoke, CapListUploads,
		CapVerify, CapOverride, CapReadHistory, CapReadAudit,
	},
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleCapabilities[r]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

// Actor is the authenticated principal performing an operation.
// InstituteID is empty for actors not bound to an institute (verifiers, admins).
type Actor struct {
	ID          string
	Role        Role
	InstituteID InstituteID
}

// Can reports whether the actor's role grants the capability.
func (a Actor) Can(c Capability) bool {
	for _, granted := range roleCapabilities[a.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

// Require returns a forbidden domain error when the capability is missing.
func (a Actor) Require(c Capability) error {
	if a.Can(c) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("role %q lacks capability %q", a.Role, c))
}

// ActsFor reports whether the actor may operate on the institute's records.
// Admins act for every institute; other roles only for their own.
func (a Actor) ActsFor(institute InstituteID) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.InstituteID != "" && a.InstituteID == institute
}

// System is the actor used by internal jobs such as bulk imports from the CLI.
func System() Actor {
	return Actor{ID: "system", Role: RoleAdmin}
}
