//go:build e2e

package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"degreeproof/e2e/steps/credential"
	"degreeproof/internal/credential/proof"
	"degreeproof/pkg/domain"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	Upload(path, field, filename, contentType string, content []byte) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	Saved(key string) (string, error)
	Save(key, value string)
}

// RegisterSteps registers verification step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &verificationSteps{tc: tc}

	ctx.Step(`^I verify the saved proof$`, steps.verifySavedProof)
	ctx.Step(`^I verify the saved proof with byte (\d+) of the record hash changed$`, steps.verifyTamperedProof)
	ctx.Step(`^I verify a proof for an unknown credential$`, steps.verifyUnknown)
	ctx.Step(`^I verify the proof text "([^"]*)"$`, steps.verifyText)
	ctx.Step(`^I verify a document matching (\d+) of the 10 fields of the saved credential$`, steps.verifyDocument)
	ctx.Step(`^I upload a "([^"]*)" document named "([^"]*)" containing "([^"]*)"$`, steps.uploadRaw)
	ctx.Step(`^the verification outcome should be "([^"]*)"$`, steps.outcomeShouldBe)
	ctx.Step(`^the verification confidence should be (\d+)$`, steps.confidenceShouldBe)
	ctx.Step(`^I save the verification id$`, steps.saveVerificationID)
	ctx.Step(`^I override the saved verification to "([^"]*)" with note "([^"]*)"$`, steps.override)
	ctx.Step(`^I fetch the saved verification$`, steps.fetchVerification)
}

type verificationSteps struct {
	tc TestContext
}

func (s *verificationSteps) verifyText(_ context.Context, text string) error {
	return s.tc.POST("/verify/proof", map[string]string{"payload": text})
}

func (s *verificationSteps) verifySavedProof(ctx context.Context) error {
	text, err := s.tc.Saved("proof")
	if err != nil {
		return err
	}
	return s.verifyText(ctx, text)
}

func (s *verificationSteps) verifyTamperedProof(ctx context.Context, index int) error {
	p, err := s.savedPayload()
	if err != nil {
		return err
	}
	if index >= len(p.RecordHash) {
		return fmt.Errorf("record hash has %d bytes", len(p.RecordHash))
	}
	p.RecordHash[index] ^= 0x01
	return s.verifyPayload(ctx, p)
}

func (s *verificationSteps) verifyUnknown(ctx context.Context) error {
	p, err := s.savedPayload()
	if err != nil {
		return err
	}
	id, err := domain.NewCredentialID(rand.Reader)
	if err != nil {
		return err
	}
	p.CredentialID = id
	return s.verifyPayload(ctx, p)
}

func (s *verificationSteps) savedPayload() (proof.Payload, error) {
	text, err := s.tc.Saved("proof")
	if err != nil {
		return proof.Payload{}, err
	}
	return proof.DecodeText(text)
}

func (s *verificationSteps) verifyPayload(ctx context.Context, p proof.Payload) error {
	text, err := proof.EncodePayloadText(p)
	if err != nil {
		return err
	}
	return s.verifyText(ctx, text)
}

// verifyDocument renders the saved ten-field record as labeled text and
// corrupts the extras beyond the first matching fields.
func (s *verificationSteps) verifyDocument(_ context.Context, matching int) error {
	student, err := s.tc.Saved("student_id")
	if err != nil {
		return err
	}
	institute, err := s.tc.Saved("institute_id")
	if err != nil {
		return err
	}
	if matching < 5 || matching > 10 {
		return fmt.Errorf("documents keep the 5 core fields; matching must be 5..10")
	}

	lines := []string{
		"Student ID: " + student,
		"Name: Ada Lovelace",
		"Degree: B.Sc.",
		"Institute: " + institute,
		"Conferred: 2024-06-15",
	}
	names := make([]string, 0, len(credential.Extras))
	for k := range credential.Extras {
		names = append(names, k)
	}
	sort.Strings(names)
	for i, name := range names {
		value := credential.Extras[name]
		if 5+i >= matching {
			value = "altered"
		}
		lines = append(lines, name+": "+value)
	}
	return s.tc.Upload("/verify/document", "document", "diploma.txt", "text/plain", []byte(strings.Join(lines, "\n")+"\n"))
}

func (s *verificationSteps) uploadRaw(_ context.Context, contentType, name, content string) error {
	return s.tc.Upload("/verify/document", "document", name, contentType, []byte(content))
}

func (s *verificationSteps) outcomeShouldBe(_ context.Context, want string) error {
	got, err := s.tc.GetResponseField("outcome")
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("outcome is %v, want %s", got, want)
	}
	return nil
}

func (s *verificationSteps) confidenceShouldBe(_ context.Context, want int) error {
	got, err := s.tc.GetResponseField("confidence")
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != strconv.Itoa(want) {
		return fmt.Errorf("confidence is %v, want %d", got, want)
	}
	return nil
}

func (s *verificationSteps) saveVerificationID(context.Context) error {
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("verification_id", fmt.Sprint(id))
	return nil
}

func (s *verificationSteps) override(_ context.Context, outcome, note string) error {
	id, err := s.tc.Saved("verification_id")
	if err != nil {
		return err
	}
	return s.tc.POST("/verifications/"+id+"/override", map[string]string{"outcome": outcome, "note": note})
}

func (s *verificationSteps) fetchVerification(context.Context) error {
	id, err := s.tc.Saved("verification_id")
	if err != nil {
		return err
	}
	return s.tc.GET("/verifications/" + id)
}
