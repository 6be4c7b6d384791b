package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"degreeproof/internal/credential/canonical"
	"degreeproof/internal/credential/models"
	dErrors "degreeproof/pkg/domain-errors"
)

const (
	DefaultMaxBulkRows = 5000
	MaxBulkBodyBytes   = 10 << 20
	MinQRSize          = 128
	MaxQRSize          = 1024
)

var requiredColumns = []string{
	canonical.FieldStudentID,
	canonical.FieldDegreeName,
	canonical.FieldInstituteID,
}

// ParseCSV reads degree records from a CSV upload. The header row names the
// columns; student_id, degree_name and institute_id are required, student_name
// and issued_at are optional, and any other column becomes an extra field.
// Blank cells in extra columns are dropped.
func ParseCSV(r io.Reader, maxRows int) ([]models.DegreeRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, dErrors.New(dErrors.CodeValidation, "csv upload is empty")
	}
	if err != nil {
		return nil, csvError(err)
	}
	columns, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var records []models.DegreeRecord
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		if row > maxRows {
			return nil, dErrors.New(dErrors.CodeTooLarge, fmt.Sprintf("csv upload exceeds %d rows", maxRows))
		}
		rec, err := recordFromRow(columns, fields)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("row %d: %s", row, err.Error()))
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "csv upload has no data rows")
	}
	return records, nil
}

func parseHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "" {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("csv header column %d is empty", i+1))
		}
		if seen[name] {
			return nil, dErrors.New(dErrors.CodeValidation, "csv header repeats column "+name)
		}
		seen[name] = true
		columns[i] = name
	}
	for _, c := range requiredColumns {
		if !seen[c] {
			return nil, dErrors.New(dErrors.CodeValidation, "csv header is missing column "+c)
		}
	}
	return columns, nil
}

func recordFromRow(columns, fields []string) (models.DegreeRecord, error) {
	var rec models.DegreeRecord
	for i, name := range columns {
		value := strings.TrimSpace(fields[i])
		switch name {
		case canonical.FieldStudentID:
			rec.StudentID = value
		case canonical.FieldStudentName:
			rec.StudentName = value
		case canonical.FieldDegreeName:
			rec.DegreeName = value
		case canonical.FieldInstituteID:
			rec.InstituteID = value
		case canonical.FieldIssuedAt:
			if value == "" {
				continue
			}
			t, err := ParseIssuedAt(value)
			if err != nil {
				return rec, err
			}
			rec.IssuedAt = t
		default:
			if value == "" {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[name] = value
		}
	}
	return rec, nil
}

func csvError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return dErrors.New(dErrors.CodeTooLarge, "csv upload is too large")
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("csv line %d: %s", parseErr.Line, parseErr.Err))
	}
	return dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read csv upload")
}
