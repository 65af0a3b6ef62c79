package e2e

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"matrix/e2e/steps/placement"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		tc.Reset()
		return ctx, nil
	})

	ctx.Step(`^the response status should be (\d+)$`, func(status int) error {
		if tc.StatusCode() != status {
			return fmt.Errorf("expected status %d, got %d", status, tc.StatusCode())
		}
		return nil
	})
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, func(field, want string) error {
		got, err := tc.GetResponseField(field)
		if err != nil {
			return err
		}
		if fmt.Sprint(got) != want {
			return fmt.Errorf("expected %s to be %q, got %v", field, want, got)
		}
		return nil
	})

	placement.RegisterSteps(ctx, tc)
}
