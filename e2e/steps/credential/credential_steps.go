//go:build e2e

package credential

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	POSTRaw(path, contentType string, body []byte) error
	GET(path string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Unique(s string) string
	Save(key, value string)
	Saved(key string) (string, error)
}

// Extras completes a ten-field record together with the five core fields.
var Extras = map[string]string{
	"major":           "Mathematics",
	"honours":         "First Class",
	"gpa":             "3.9",
	"graduation_year": "2024",
	"program_code":    "MATH-101",
}

// RegisterSteps registers credential lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &credentialSteps{tc: tc}

	ctx.Step(`^I issue a credential for student "([^"]*)" with degree "([^"]*)" at institute "([^"]*)"$`, steps.issue)
	ctx.Step(`^I issue a ten-field credential for student "([^"]*)" at institute "([^"]*)"$`, steps.issueTenField)
	ctx.Step(`^I revoke the saved credential with reason "([^"]*)"$`, steps.revoke)
	ctx.Step(`^I reissue the saved credential with degree "([^"]*)"$`, steps.reissue)
	ctx.Step(`^I fetch the history of the saved credential$`, steps.history)
	ctx.Step(`^I fetch the QR code of the saved credential$`, steps.qr)
	ctx.Step(`^I fetch the saved credential$`, steps.get)
	ctx.Step(`^I upload the bulk file:$`, steps.bulk)
	ctx.Step(`^the response should be a PNG image$`, steps.responseIsPNG)
	ctx.Step(`^the saved credential should be replaced by the new one$`, steps.replacedByNew)
}

type credentialSteps struct {
	tc TestContext
}

func (s *credentialSteps) issue(_ context.Context, student, degree, institute string) error {
	return s.issueRecord(map[string]any{
		"student_id":   s.tc.Unique(student),
		"student_name": "Ada Lovelace",
		"degree_name":  degree,
		"institute_id": institute,
		"issued_at":    "2024-06-15",
	})
}

func (s *credentialSteps) issueTenField(_ context.Context, student, institute string) error {
	return s.issueRecord(map[string]any{
		"student_id":   s.tc.Unique(student),
		"student_name": "Ada Lovelace",
		"degree_name":  "B.Sc.",
		"institute_id": institute,
		"issued_at":    "2024-06-15",
		"extra":        Extras,
	})
}

func (s *credentialSteps) issueRecord(body map[string]any) error {
	if err := s.tc.POST("/credentials", body); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return nil
	}
	for key, field := range map[string]string{
		"credential_id": "credential_id",
		"proof":         "proof",
		"student_id":    "student_id",
		"institute_id":  "institute_id",
	} {
		if err := s.saveField(key, field); err != nil {
			return err
		}
	}
	return nil
}

func (s *credentialSteps) saveField(key, field string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(key, fmt.Sprint(v))
	return nil
}

func (s *credentialSteps) savedPath(suffix string) (string, error) {
	id, err := s.tc.Saved("credential_id")
	if err != nil {
		return "", err
	}
	return "/credentials/" + id + suffix, nil
}

func (s *credentialSteps) revoke(_ context.Context, reason string) error {
	path, err := s.savedPath("/revoke")
	if err != nil {
		return err
	}
	return s.tc.POST(path, map[string]string{"reason": reason})
}

func (s *credentialSteps) reissue(_ context.Context, degree string) error {
	path, err := s.savedPath("/reissue")
	if err != nil {
		return err
	}
	student, err := s.tc.Saved("student_id")
	if err != nil {
		return err
	}
	institute, err := s.tc.Saved("institute_id")
	if err != nil {
		return err
	}
	if err := s.tc.POST(path, map[string]any{
		"student_id":   student,
		"student_name": "Ada Lovelace",
		"degree_name":  degree,
		"institute_id": institute,
		"issued_at":    "2024-06-15",
	}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 201 {
		return s.saveField("new_credential_id", "credential.credential_id")
	}
	return nil
}

func (s *credentialSteps) replacedByNew(context.Context) error {
	next, err := s.tc.Saved("new_credential_id")
	if err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("replaced_by")
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != next {
		return fmt.Errorf("replaced_by is %v, want %s", got, next)
	}
	return nil
}

func (s *credentialSteps) history(context.Context) error {
	path, err := s.savedPath("/history")
	if err != nil {
		return err
	}
	return s.tc.GET(path)
}

func (s *credentialSteps) qr(context.Context) error {
	path, err := s.savedPath("/qr.png")
	if err != nil {
		return err
	}
	return s.tc.GET(path)
}

func (s *credentialSteps) get(context.Context) error {
	path, err := s.savedPath("")
	if err != nil {
		return err
	}
	return s.tc.GET(path)
}

// bulk replaces {run} in the document with the run suffix so rows stay unique.
func (s *credentialSteps) bulk(_ context.Context, doc *godog.DocString) error {
	body := strings.ReplaceAll(doc.Content, "{run}", s.tc.Unique(""))
	return s.tc.POSTRaw("/credentials/bulk", "text/csv", []byte(body))
}

func (s *credentialSteps) responseIsPNG(context.Context) error {
	if !bytes.HasPrefix(s.tc.GetLastResponseBody(), []byte("\x89PNG\r\n\x1a\n")) {
		return fmt.Errorf("response is not a PNG image")
	}
	return nil
}
