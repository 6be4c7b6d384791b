package canonical

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/suite"

	"degreeproof/internal/credential/models"
	dErrors "degreeproof/pkg/domain-errors"
)

type CanonicalSuite struct {
	suite.Suite
	record models.DegreeRecord
}

func TestCanonicalSuite(t *testing.T) {
	suite.Run(t, new(CanonicalSuite))
}

func (s *CanonicalSuite) SetupTest() {
	s.record = models.DegreeRecord{
		StudentID:   "S1",
		StudentName: "Ada Lovelace",
		DegreeName:  "B.Sc.",
		InstituteID: "I1",
		IssuedAt:    time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		Extra:       map[string]string{"gpa": "3.9", "major": "Mathematics"},
	}
}

func (s *CanonicalSuite) TestLayout() {
	form, err := Canonicalize(s.record)
	s.Require().NoError(err)
	s.Equal(
		"degreeproof-canonical/v1\n"+
			"degree_name=B.Sc.\n"+
			"extra.gpa=3.9\n"+
			"extra.major=Mathematics\n"+
			"institute_id=I1\n"+
			"issued_at=2024-06-30T00:00:00Z\n"+
			"student_id=S1\n"+
			"student_name=Ada Lovelace\n",
		string(form))
}

func (s *CanonicalSuite) TestDeterministic() {
	s.Run("map iteration order is irrelevant", func() {
		first, err := Canonicalize(s.record)
		s.Require().NoError(err)
		for range 50 {
			clone := s.record.Clone()
			clone.Extra = map[string]string{"major": "Mathematics", "gpa": "3.9"}
			again, err := Canonicalize(clone)
			s.Require().NoError(err)
			s.Equal(first, again)
		}
	})

	s.Run("surrounding whitespace is irrelevant", func() {
		padded := s.record.Clone()
		padded.StudentID = "  S1\t"
		padded.Extra[" gpa "] = "3.9 "
		delete(padded.Extra, "gpa")
		a, err := Canonicalize(s.record)
		s.Require().NoError(err)
		b, err := Canonicalize(padded)
		s.Require().NoError(err)
		s.Equal(a, b)
	})

	s.Run("time zone is irrelevant", func() {
		shifted := s.record.Clone()
		shifted.IssuedAt = s.record.IssuedAt.In(time.FixedZone("UTC+5", 5*3600))
		a, _ := Canonicalize(s.record)
		b, _ := Canonicalize(shifted)
		s.Equal(a, b)
	})

	s.Run("empty optional fields are omitted", func() {
		sparse := s.record.Clone()
		sparse.StudentName = ""
		sparse.Extra["note"] = "   "
		form, err := Canonicalize(sparse)
		s.Require().NoError(err)
		s.NotContains(string(form), "student_name")
		s.NotContains(string(form), "extra.note")
	})
}

func (s *CanonicalSuite) TestInjective() {
	cases := []struct {
		name string
		a, b models.DegreeRecord
	}{
		{
			name: "delimiter inside value",
			a:    models.DegreeRecord{StudentID: "S1", DegreeName: "B.Sc.\nstudent_id=S2", InstituteID: "I1"},
			b:    models.DegreeRecord{StudentID: "S1", DegreeName: "B.Sc.", InstituteID: "I1", Extra: map[string]string{"x": "y"}},
		},
		{
			name: "equals in extra key vs value",
			a:    models.DegreeRecord{StudentID: "S1", DegreeName: "D", InstituteID: "I1", Extra: map[string]string{"a=b": "c"}},
			b:    models.DegreeRecord{StudentID: "S1", DegreeName: "D", InstituteID: "I1", Extra: map[string]string{"a": "b=c"}},
		},
		{
			name: "extra cannot shadow core field",
			a:    models.DegreeRecord{StudentID: "S1", DegreeName: "D", InstituteID: "I1", StudentName: "N"},
			b:    models.DegreeRecord{StudentID: "S1", DegreeName: "D", InstituteID: "I1", Extra: map[string]string{"student_name": "N"}},
		},
		{
			name: "escaped backslash",
			a:    models.DegreeRecord{StudentID: `S\`, DegreeName: "n", InstituteID: "I1"},
			b:    models.DegreeRecord{StudentID: `S\n`, DegreeName: "n", InstituteID: "I1"},
		},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			fa, errA := Canonicalize(tc.a)
			fb, errB := Canonicalize(tc.b)
			if errA != nil || errB != nil {
				return
			}
			s.NotEqual(fa, fb)
		})
	}
}

func (s *CanonicalSuite) TestMalformed() {
	cases := []struct {
		name   string
		mutate func(*models.DegreeRecord)
		field  string
	}{
		{"missing student id", func(r *models.DegreeRecord) { r.StudentID = "" }, FieldStudentID},
		{"blank degree name", func(r *models.DegreeRecord) { r.DegreeName = "   " }, FieldDegreeName},
		{"missing institute", func(r *models.DegreeRecord) { r.InstituteID = "" }, FieldInstituteID},
		{"invalid utf-8", func(r *models.DegreeRecord) { r.StudentName = string([]byte{0xff, 0xfe}) }, FieldStudentName},
		{"nul in degree name", func(r *models.DegreeRecord) { r.DegreeName = "B.Sc.\x00" }, FieldDegreeName},
		{"nul in extra value", func(r *models.DegreeRecord) { r.Extra["gpa"] = "4\x000" }, "extra.gpa"},
		{"empty extra key with value", func(r *models.DegreeRecord) { r.Extra[" "] = "v" }, "extra"},
		{"ambiguous extra keys", func(r *models.DegreeRecord) { r.Extra["gpa "] = "4.0" }, "extra.gpa"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			r := s.record.Clone()
			tc.mutate(&r)
			_, err := Canonicalize(r)
			s.Require().Error(err)
			s.True(errors.Is(err, ErrMalformedRecord))
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
			var mre *MalformedRecordError
			s.Require().True(errors.As(err, &mre))
			s.Equal(tc.field, mre.Field)
		})
	}

	s.Run("empty extra key without value is ignored", func() {
		r := s.record.Clone()
		r.Extra[""] = ""
		_, err := Canonicalize(r)
		s.NoError(err)
	})
}

func (s *CanonicalSuite) TestDigest() {
	d1, err := DigestRecord(s.record)
	s.Require().NoError(err)
	s.Len(d1, 34)

	decoded, err := multihash.Decode(d1)
	s.Require().NoError(err)
	s.Equal(uint64(multihash.SHA2_256), decoded.Code)

	changed := s.record.Clone()
	changed.DegreeName = "M.Sc."
	d2, err := DigestRecord(changed)
	s.Require().NoError(err)
	s.False(bytes.Equal(d1, d2))

}

func (s *CanonicalSuite) TestEntriesSkipsValidation() {
	entries := Entries(models.DegreeRecord{StudentID: "S1", DegreeName: "  "})
	s.Equal([]Entry{{Name: FieldStudentID, Value: "S1"}}, entries)
}
