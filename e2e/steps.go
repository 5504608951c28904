package e2e

import (
	"github.com/cucumber/godog"

	"tutela/e2e/steps/attestation"
	"tutela/e2e/steps/auditlog"
	"tutela/e2e/steps/common"
	"tutela/e2e/steps/protection"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	protection.RegisterSteps(ctx, tc)
	attestation.RegisterSteps(ctx, tc)
	auditlog.RegisterSteps(ctx, tc)
}
