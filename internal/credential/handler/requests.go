package handler

import (
	"strings"
	"time"

	"degreeproof/internal/credential/issuer"
	"degreeproof/internal/credential/models"
	dErrors "degreeproof/pkg/domain-errors"
)

const (
	maxFieldLength  = 512
	maxExtraFields  = 64
	maxTTL          = 100 * 365 * 24 * time.Hour
	dateOnlyLayout  = time.DateOnly
	maxReasonLength = issuer.MaxReasonLength
)

// IssueRequest is the body of POST /credentials and POST /credentials/{id}/reissue.
type IssueRequest struct {
	StudentID   string            `json:"student_id"`
	StudentName string            `json:"student_name"`
	DegreeName  string            `json:"degree_name"`
	InstituteID string            `json:"institute_id"`
	IssuedAt    string            `json:"issued_at"`
	Extra       map[string]string `json:"extra"`
	// TTLValue is a Go duration such as "8760h". Empty uses the configured default.
	TTLValue string `json:"ttl"`

	issuedAt time.Time
	ttl      time.Duration
}

func (r *IssueRequest) Normalize() {
	if r == nil {
		return
	}
	r.StudentID = strings.TrimSpace(r.StudentID)
	r.StudentName = strings.TrimSpace(r.StudentName)
	r.DegreeName = strings.TrimSpace(r.DegreeName)
	r.InstituteID = strings.TrimSpace(r.InstituteID)
	r.IssuedAt = strings.TrimSpace(r.IssuedAt)
	r.TTLValue = strings.TrimSpace(r.TTLValue)
}

func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	for name, v := range map[string]string{
		"student_id":   r.StudentID,
		"student_name": r.StudentName,
		"degree_name":  r.DegreeName,
		"institute_id": r.InstituteID,
	} {
		if len(v) > maxFieldLength {
			return dErrors.New(dErrors.CodeValidation, name+" is too long")
		}
	}
	if len(r.Extra) > maxExtraFields {
		return dErrors.New(dErrors.CodeValidation, "too many extra fields")
	}

	if r.StudentID == "" {
		return dErrors.New(dErrors.CodeValidation, "student_id is required")
	}
	if r.DegreeName == "" {
		return dErrors.New(dErrors.CodeValidation, "degree_name is required")
	}
	if r.InstituteID == "" {
		return dErrors.New(dErrors.CodeValidation, "institute_id is required")
	}

	if r.IssuedAt != "" {
		t, err := ParseIssuedAt(r.IssuedAt)
		if err != nil {
			return err
		}
		r.issuedAt = t
	}
	if r.TTLValue != "" {
		ttl, err := time.ParseDuration(r.TTLValue)
		if err != nil || ttl <= 0 || ttl > maxTTL {
			return dErrors.New(dErrors.CodeValidation, "ttl must be a positive duration")
		}
		r.ttl = ttl
	}
	return nil
}

// Record returns the validated degree record.
func (r *IssueRequest) Record() models.DegreeRecord {
	return models.DegreeRecord{
		StudentID:   r.StudentID,
		StudentName: r.StudentName,
		DegreeName:  r.DegreeName,
		InstituteID: r.InstituteID,
		IssuedAt:    r.issuedAt,
		Extra:       r.Extra,
	}
}

func (r *IssueRequest) TTL() time.Duration { return r.ttl }

// ParseIssuedAt accepts RFC 3339 instants and plain dates (midnight UTC).
func ParseIssuedAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateOnlyLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, "issued_at must be an RFC 3339 timestamp or YYYY-MM-DD")
}

// RevokeRequest is the body of POST /credentials/{id}/revoke.
type RevokeRequest struct {
	Reason string `json:"reason"`
}

func (r *RevokeRequest) Normalize() {
	if r != nil {
		r.Reason = strings.TrimSpace(r.Reason)
	}
}

func (r *RevokeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}
