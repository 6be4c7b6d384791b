package extraction

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"unicode/utf8"
)

// fieldAliases maps normalized labels found on documents to canonical names.
var fieldAliases = map[string]string{
	"student_id":     "student_id",
	"student_number": "student_id",
	"student_no":     "student_id",
	"student_name":   "student_name",
	"name":           "student_name",
	"graduate":       "student_name",
	"degree":         "degree_name",
	"degree_name":    "degree_name",
	"institute":      "institute_id",
	"institute_id":   "institute_id",
	"institution":    "institute_id",
	"issued_at":      "issued_at",
	"conferred":      "issued_at",
	"date":           "issued_at",
}

// TextExtractor reads "Label: value" lines from plain-text documents.
// Unknown labels become extras. Every extracted field gets Confidence.
type TextExtractor struct {
	Confidence float64
}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{Confidence: 1}
}

func (x *TextExtractor) Extract(ctx context.Context, document []byte) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, newError(CategoryTimeout, "extraction cancelled", err)
	}
	if !utf8.Valid(document) {
		return Extraction{}, newError(CategoryUnreadable, "document is not UTF-8 text", nil)
	}
	out := ParseLabeledText(document)
	if len(out.Fields) == 0 {
		return Extraction{}, newError(CategoryUnreadable, "no labeled fields found", nil)
	}
	out.Confidence = make(map[string]float64, len(out.Fields))
	for k := range out.Fields {
		out.Confidence[k] = x.Confidence
	}
	return out, nil
}

// ParseLabeledText extracts "Label: value" (or "Label = value") pairs.
// The first occurrence of a field wins.
func ParseLabeledText(document []byte) Extraction {
	out := Extraction{Fields: make(map[string]string)}
	sc := bufio.NewScanner(bytes.NewReader(document))
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		label := normalizeLabel(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if label == "" || value == "" {
			continue
		}
		name, ok := fieldAliases[label]
		if !ok {
			name = label
		}
		if _, seen := out.Fields[name]; !seen {
			out.Fields[name] = value
		}
	}
	return out
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	}), "_")
}
