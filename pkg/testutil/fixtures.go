package testutil

import (
	"time"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
)

// TestIDs provides deterministic identifiers for tests.
var TestIDs = struct {
	Institute1 domain.InstituteID
	Institute2 domain.InstituteID
	Student1   domain.StudentID
	Student2   domain.StudentID
	Uploader1  string
	Verifier1  string
	Admin1     string
}{
	Institute1: "I1",
	Institute2: "I2",
	Student1:   "S1",
	Student2:   "S2",
	Uploader1:  "uploader-1",
	Verifier1:  "verifier-1",
	Admin1:     "admin-1",
}

// FixedTime is the reference instant used by fixtures.
var FixedTime = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

// Uploader returns an uploader actor scoped to inst.
func Uploader(inst domain.InstituteID) domain.Actor {
	return domain.Actor{ID: TestIDs.Uploader1, Role: domain.RoleUploader, InstituteID: inst}
}

// Verifier returns a verifier actor.
func Verifier() domain.Actor {
	return domain.Actor{ID: TestIDs.Verifier1, Role: domain.RoleVerifier}
}

// Admin returns an admin actor.
func Admin() domain.Actor {
	return domain.Actor{ID: TestIDs.Admin1, Role: domain.RoleAdmin}
}

// RecordBuilder provides a fluent interface for building degree records.
type RecordBuilder struct {
	record models.DegreeRecord
}

// NewRecordBuilder starts from the S1 / B.Sc. / I1 record.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{
		record: models.DegreeRecord{
			StudentID:   TestIDs.Student1.String(),
			StudentName: "Ada Lovelace",
			DegreeName:  "B.Sc.",
			InstituteID: TestIDs.Institute1.String(),
			IssuedAt:    FixedTime,
		},
	}
}

func (b *RecordBuilder) WithStudent(studentID string) *RecordBuilder {
	b.record.StudentID = studentID
	return b
}

func (b *RecordBuilder) WithStudentName(name string) *RecordBuilder {
	b.record.StudentName = name
	return b
}

func (b *RecordBuilder) WithDegree(degree string) *RecordBuilder {
	b.record.DegreeName = degree
	return b
}

func (b *RecordBuilder) WithInstitute(inst domain.InstituteID) *RecordBuilder {
	b.record.InstituteID = inst.String()
	return b
}

func (b *RecordBuilder) WithIssuedAt(at time.Time) *RecordBuilder {
	b.record.IssuedAt = at
	return b
}

func (b *RecordBuilder) WithExtra(key, value string) *RecordBuilder {
	if b.record.Extra == nil {
		b.record.Extra = make(map[string]string)
	}
	b.record.Extra[key] = value
	return b
}

func (b *RecordBuilder) Build() models.DegreeRecord {
	return b.record.Clone()
}

// CredentialBuilder builds stored credentials without signing, for store tests.
type CredentialBuilder struct {
	c models.Credential
}

func NewCredentialBuilder(id domain.CredentialID) *CredentialBuilder {
	record := NewRecordBuilder().Build()
	return &CredentialBuilder{
		c: models.Credential{
			ID:          id,
			RecordHash:  []byte{0x12, 0x20, 0x01},
			Signature:   []byte{0x02},
			IssuedAt:    FixedTime,
			Status:      models.StatusActive,
			InstituteID: domain.InstituteID(record.InstituteID),
			StudentID:   domain.StudentID(record.StudentID),
			IssuedBy:    TestIDs.Uploader1,
			Record:      record,
		},
	}
}

func (b *CredentialBuilder) WithRecord(r models.DegreeRecord) *CredentialBuilder {
	b.c.Record = r.Clone()
	b.c.InstituteID = domain.InstituteID(r.InstituteID)
	b.c.StudentID = domain.StudentID(r.StudentID)
	return b
}

func (b *CredentialBuilder) WithIssuedAt(at time.Time) *CredentialBuilder {
	b.c.IssuedAt = at
	return b
}

func (b *CredentialBuilder) WithExpiresAt(at time.Time) *CredentialBuilder {
	b.c.ExpiresAt = &at
	return b
}

func (b *CredentialBuilder) WithStatus(s models.Status) *CredentialBuilder {
	b.c.Status = s
	return b
}

func (b *CredentialBuilder) WithIssuedBy(actorID string) *CredentialBuilder {
	b.c.IssuedBy = actorID
	return b
}

func (b *CredentialBuilder) Build() models.Credential {
	c := b.c
	c.Record = c.Record.Clone()
	return c
}
