package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialIsExpiredAt(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Credential{ExpiresAt: &exp}

	assert.False(t, c.IsExpiredAt(exp.Add(-time.Second)))
	assert.False(t, c.IsExpiredAt(exp), "expiry instant itself is still valid")
	assert.True(t, c.IsExpiredAt(exp.Add(time.Nanosecond)))
	assert.False(t, Credential{}.IsExpiredAt(exp.Add(100*365*24*time.Hour)))
}

func TestDegreeRecordClone(t *testing.T) {
	r := DegreeRecord{StudentID: "S1", Extra: map[string]string{"gpa": "3.8"}}
	c := r.Clone()
	c.Extra["gpa"] = "4.0"
	assert.Equal(t, "3.8", r.Extra["gpa"])
}

func TestNaturalKeyTrims(t *testing.T) {
	k := DegreeRecord{StudentID: " S1 ", InstituteID: "I1\n"}.NaturalKey()
	assert.Equal(t, NaturalKey{StudentID: "S1", InstituteID: "I1"}, k)
}

func TestListFilter(t *testing.T) {
	c := Credential{InstituteID: "I1", IssuedBy: "u1", Status: StatusActive}

	assert.True(t, ListFilter{}.Matches(c))
	assert.True(t, ListFilter{InstituteID: "I1", Status: StatusActive}.Matches(c))
	assert.False(t, ListFilter{InstituteID: "I2"}.Matches(c))
	assert.False(t, ListFilter{Status: StatusRevoked}.Matches(c))
	assert.False(t, ListFilter{IssuedBy: "u2"}.Matches(c))

	assert.Equal(t, DefaultListLimit, ListFilter{}.EffectiveLimit())
	assert.Equal(t, MaxListLimit, ListFilter{Limit: 5000}.EffectiveLimit())
	assert.Equal(t, 7, ListFilter{Limit: 7}.EffectiveLimit())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("revoked")
	assert.NoError(t, err)
	assert.Equal(t, StatusRevoked, s)
	_, err = ParseStatus("deleted")
	assert.Error(t, err)
}
