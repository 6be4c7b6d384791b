// Package canonical renders a DegreeRecord into the deterministic byte form
// that credentials hash and sign.
//
// Layout:
//
//	degreeproof-canonical/v1\n
//	<name>=<value>\n   (one line per present field, sorted by name)
//
// Backslash, '=', CR and LF are backslash-escaped in names and values, so the
// encoding is injective. Extras are namespaced as "extra.<key>" and never
// collide with core fields.
package canonical

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/multiformats/go-multihash"

	"degreeproof/internal/credential/models"
	dErrors "degreeproof/pkg/domain-errors"
)

// Header is the first line of every canonical form.
const Header = "degreeproof-canonical/v1"

// Field names of the core record.
const (
	FieldDegreeName  = "degree_name"
	FieldInstituteID = "institute_id"
	FieldIssuedAt    = "issued_at"
	FieldStudentID   = "student_id"
	FieldStudentName = "student_name"

	ExtraPrefix = "extra."
)

// ErrMalformedRecord is returned when a record cannot be canonicalized.
var ErrMalformedRecord = dErrors.New(dErrors.CodeInvalidInput, "malformed degree record")

// MalformedRecordError names the offending field.
type MalformedRecordError struct {
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed degree record: %s %s", e.Field, e.Reason)
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// Unwrap exposes the domain error so HTTP mapping sees invalid_input.
func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// Form is a canonical byte sequence.
type Form []byte

// Entry is one canonical field.
type Entry struct {
	Name  string
	Value string
}

var escaper = strings.NewReplacer(`\`, `\\`, "=", `\=`, "\n", `\n`, "\r", `\r`)

// Canonicalize validates r and renders its canonical form.
func Canonicalize(r models.DegreeRecord) (Form, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	entries := Entries(r)

	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for _, e := range entries {
		b.WriteString(escaper.Replace(e.Name))
		b.WriteByte('=')
		b.WriteString(escaper.Replace(e.Value))
		b.WriteByte('\n')
	}
	return Form(b.String()), nil
}

// Validate checks required fields, text encoding and extra keys.
func Validate(r models.DegreeRecord) error {
	required := []struct{ name, value string }{
		{FieldStudentID, r.StudentID},
		{FieldDegreeName, r.DegreeName},
		{FieldInstituteID, r.InstituteID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &MalformedRecordError{Field: f.name, Reason: "is required"}
		}
	}
	for name, value := range map[string]string{
		FieldStudentID:   r.StudentID,
		FieldStudentName: r.StudentName,
		FieldDegreeName:  r.DegreeName,
		FieldInstituteID: r.InstituteID,
	} {
		if err := checkText(name, value); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(r.Extra))
	for k, v := range r.Extra {
		if err := checkText(ExtraPrefix+k, k); err != nil {
			return err
		}
		if err := checkText(ExtraPrefix+k, v); err != nil {
			return err
		}
		key := strings.TrimSpace(k)
		if key == "" {
			if strings.TrimSpace(v) == "" {
				continue
			}
			return &MalformedRecordError{Field: "extra", Reason: "has an empty key"}
		}
		if _, dup := seen[key]; dup {
			return &MalformedRecordError{Field: ExtraPrefix + key, Reason: "is ambiguous after trimming"}
		}
		seen[key] = struct{}{}
	}
	return nil
}

// checkText rejects values no store can hold verbatim.
func checkText(field, value string) error {
	if !utf8.ValidString(value) {
		return &MalformedRecordError{Field: field, Reason: "is not valid UTF-8"}
	}
	if strings.IndexByte(value, 0) >= 0 {
		return &MalformedRecordError{Field: field, Reason: "contains a NUL byte"}
	}
	return nil
}

// Entries returns the record's present fields sorted by name, without validation.
// Values are trimmed; empty optional fields are omitted.
func Entries(r models.DegreeRecord) []Entry {
	entries := make([]Entry, 0, 5+len(r.Extra))
	add := func(name, value string) {
		if v := strings.TrimSpace(value); v != "" {
			entries = append(entries, Entry{Name: name, Value: v})
		}
	}
	add(FieldDegreeName, r.DegreeName)
	add(FieldInstituteID, r.InstituteID)
	if !r.IssuedAt.IsZero() {
		add(FieldIssuedAt, FormatTime(r.IssuedAt))
	}
	add(FieldStudentID, r.StudentID)
	add(FieldStudentName, r.StudentName)
	for k, v := range r.Extra {
		if key := strings.TrimSpace(k); key != "" {
			add(ExtraPrefix+key, v)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// FormatTime renders instants the way the canonical form stores them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Digest returns the sha2-256 multihash of the form.
func Digest(f Form) ([]byte, error) {
	sum, err := multihash.Sum(f, multihash.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("digest canonical form: %w", err)
	}
	return sum, nil
}

// DigestRecord canonicalizes and digests r.
func DigestRecord(r models.DegreeRecord) ([]byte, error) {
	form, err := Canonicalize(r)
	if err != nil {
		return nil, err
	}
	return Digest(form)
}
