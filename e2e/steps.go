//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"degreeproof/e2e/steps/credential"
	"degreeproof/e2e/steps/verification"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^the degreeproof service is running$`, tc.serviceIsRunning)

	// Identity steps
	ctx.Step(`^I am an uploader for institute "([^"]*)"$`, tc.actAsUploader)
	ctx.Step(`^I am a verifier$`, tc.actAsVerifier)
	ctx.Step(`^I am an admin$`, tc.actAsAdmin)
	ctx.Step(`^I am not authenticated$`, tc.actAnonymously)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)

	credential.RegisterSteps(ctx, tc)
	verification.RegisterSteps(ctx, tc)
}

func (tc *TestContext) serviceIsRunning(ctx context.Context) error {
	if err := tc.GET("/health/ready"); err != nil {
		return err
	}
	return tc.responseStatusShouldBe(ctx, 200)
}

func (tc *TestContext) actAsUploader(_ context.Context, institute string) error {
	tc.ActAs("uploader", institute)
	return nil
}

func (tc *TestContext) actAsVerifier(context.Context) error {
	tc.ActAs("verifier", "")
	return nil
}

func (tc *TestContext) actAsAdmin(context.Context) error {
	tc.ActAs("admin", "")
	return nil
}

func (tc *TestContext) actAnonymously(context.Context) error {
	tc.ActAs("", "")
	return nil
}

func (tc *TestContext) responseStatusShouldBe(_ context.Context, expectedStatus int) error {
	if got := tc.GetLastResponseStatus(); got != expectedStatus {
		return fmt.Errorf("expected status %d but got %d", expectedStatus, got)
	}
	return nil
}

func (tc *TestContext) responseShouldContain(_ context.Context, text string) error {
	if !strings.Contains(string(tc.LastResponseBody), text) {
		return fmt.Errorf("response does not contain %q\nResponse: %s", text, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(_ context.Context, field, expectedValue string) error {
	actualValue, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}
