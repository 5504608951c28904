package protection

import (
	"context"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	POST(path string, body interface{}) error
}

// RegisterSteps wires the classification and redaction steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &protectionSteps{tc: tc}

	ctx.Step(`^operator "([^"]*)" classifies the value "([^"]*)"$`, steps.classifyValue)
	ctx.Step(`^an anonymous caller classifies the value "([^"]*)"$`, steps.classifyAnonymously)
	ctx.Step(`^operator "([^"]*)" redacts field "([^"]*)" holding "([^"]*)" for purpose "([^"]*)"$`, steps.redactField)
}

type protectionSteps struct {
	tc TestContext
}

func (s *protectionSteps) classifyValue(ctx context.Context, operator, value string) error {
	return s.tc.POST("/v1/classify", map[string]interface{}{
		"value":    value,
		"operator": operator,
	})
}

func (s *protectionSteps) classifyAnonymously(ctx context.Context, value string) error {
	return s.tc.POST("/v1/classify", map[string]interface{}{
		"value": value,
	})
}

func (s *protectionSteps) redactField(ctx context.Context, operator, field, value, purpose string) error {
	return s.tc.POST("/v1/redact", map[string]interface{}{
		"field": field,
		"value": value,
		"context": map[string]interface{}{
			"operator": operator,
			"purpose":  purpose,
		},
	})
}
