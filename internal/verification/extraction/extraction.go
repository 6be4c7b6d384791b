// Package extraction turns uploaded documents into untrusted, DegreeRecord-shaped
// field sets with per-field confidence.
package extraction

import (
	"context"
	"errors"
	"fmt"
)

// Extraction is best-effort output. Fields are keyed by canonical field name
// (student_id, degree_name, ...); anything else is treated as an extra.
// Confidence values are in [0, 1]; fields without a score count as certain.
type Extraction struct {
	Fields     map[string]string  `json:"fields"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
}

// Extractor is the boundary to an OCR or text-extraction capability.
type Extractor interface {
	Extract(ctx context.Context, document []byte) (Extraction, error)
}

// Category classifies extraction failures.
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryOutage     Category = "outage"
	CategoryCircuit    Category = "circuit_open"
	CategoryUnreadable Category = "unreadable"
	CategoryBadData    Category = "bad_data"
)

// ErrExtraction matches every *Error.
var ErrExtraction = errors.New("extraction failed")

// Error is a categorized extraction failure.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction [%s]: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("extraction [%s]: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrExtraction }

func newError(c Category, msg string, err error) *Error {
	return &Error{Category: c, Message: msg, Err: err}
}

// CategoryOf returns the failure category, or "" for foreign errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}
