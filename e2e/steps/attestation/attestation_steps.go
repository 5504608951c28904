package attestation

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	POST(path string, body interface{}) error
	GetResponseField(field string) (interface{}, error)
	CaptureResponseField(field, name string) error
	Var(name string) (string, error)
}

// RegisterSteps wires signing-key custody and the attestation lifecycle.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &attestationSteps{tc: tc}

	ctx.Step(`^"([^"]*)" generates an? "([^"]*)" signing key$`, steps.generateSigningKey)
	ctx.Step(`^"([^"]*)" signs a "([^"]*)" attestation for subject "([^"]*)" with claim "([^"]*)" set to "([^"]*)"$`, steps.signAttestation)
	ctx.Step(`^"([^"]*)" verifies the signed attestation$`, steps.verifyAttestation)
	ctx.Step(`^the trust level should be at least "([^"]*)"$`, steps.trustLevelAtLeast)
	ctx.Step(`^"([^"]*)" revokes the signed attestation with reason "([^"]*)"$`, steps.revokeAttestation)
}

type attestationSteps struct {
	tc TestContext
}

func (s *attestationSteps) generateSigningKey(ctx context.Context, owner, algorithm string) error {
	if err := s.tc.POST("/v1/keys", map[string]interface{}{
		"algorithm": algorithm,
		"owner":     owner,
		"actor":     owner,
	}); err != nil {
		return err
	}
	return s.tc.CaptureResponseField("id", "key_id")
}

func (s *attestationSteps) signAttestation(ctx context.Context, attester, attType, subject, claim, value string) error {
	keyID, err := s.tc.Var("key_id")
	if err != nil {
		return err
	}
	if err := s.tc.POST("/v1/attestations/sign", map[string]interface{}{
		"type":         attType,
		"subject_id":   subject,
		"subject_kind": "user",
		"attester_id":  attester,
		"key_id":       keyID,
		"claims":       map[string]interface{}{claim: value},
	}); err != nil {
		return err
	}
	return s.tc.CaptureResponseField("attestation.id", "attestation_id")
}

func (s *attestationSteps) verifyAttestation(ctx context.Context, verifier string) error {
	id, err := s.tc.Var("attestation_id")
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/attestations/verify", map[string]interface{}{
		"attestation_id": id,
		"verifier":       verifier,
	})
}

var trustRank = map[string]int{"low": 0, "medium": 1, "high": 2, "maximum": 3}

func (s *attestationSteps) trustLevelAtLeast(ctx context.Context, floor string) error {
	got, err := s.tc.GetResponseField("trust_level")
	if err != nil {
		return err
	}
	level, ok := got.(string)
	if !ok {
		return fmt.Errorf("trust_level is %T, expected string", got)
	}
	floorRank, ok := trustRank[floor]
	if !ok {
		return fmt.Errorf("unknown trust level %q", floor)
	}
	gotRank, ok := trustRank[level]
	if !ok {
		return fmt.Errorf("unknown trust level %q in response", level)
	}
	if gotRank < floorRank {
		return fmt.Errorf("trust level %q is below %q", level, floor)
	}
	return nil
}

func (s *attestationSteps) revokeAttestation(ctx context.Context, revoker, reason string) error {
	id, err := s.tc.Var("attestation_id")
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/attestations/revoke", map[string]interface{}{
		"attestation_id": id,
		"reason":         reason,
		"revoked_by":     revoker,
	})
}
