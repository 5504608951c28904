package httptransport

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutela/internal/classify"
	"tutela/internal/redact"
)

func encryptTransportRule(name string) redact.Rule {
	return redact.Rule{
		ID:       uuid.New(),
		Name:     name,
		Version:  1,
		Priority: 1,
		Matcher: redact.Matcher{
			Kind:      redact.MatchDataTypes,
			DataTypes: []classify.DataType{classify.TypeTaxFileNumber},
		},
		Sensitivities: []classify.Sensitivity{classify.SensitivityRestricted},
		Operation:     redact.OperationEncrypt,
		Reversible:    true,
		AuditRequired: true,
	}
}

func TestRedactHandler_DefaultCardMask(t *testing.T) {
	env := newGovernanceEnv(t)

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/redact", map[string]any{
		"field": "payment_card",
		"value": "4532 0151 1283 0366",
		"context": map[string]any{
			"operator": "compliance.officer",
			"purpose":  "export run",
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, "4532 **** **** 0366", body["value"])
	assert.Equal(t, "credit_card", body["data_type"])
	assert.Equal(t, "default-card-mask", body["rule_name"])
	assert.Equal(t, false, body["reversible"])
}

func TestRedactHandler_TransformReverseRoundTrip(t *testing.T) {
	env := newGovernanceEnv(t)

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/transform", map[string]any{
		"field": "tfn",
		"value": "123 456 782",
		"rules": []redact.Rule{encryptTransportRule("tfn-encrypt")},
		"context": map[string]any{
			"operator": "compliance.officer",
			"subject":  "subject-42",
		},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["applied"])
	require.Equal(t, true, body["reversible"])
	assert.NotEqual(t, "123 456 782", body["value"])

	handle, ok := body["handle"].(string)
	require.True(t, ok)
	require.NotEmpty(t, handle)

	status, body = doJSON(t, env.router, http.MethodPost, "/v1/transform/reverse", map[string]any{
		"handle":        handle,
		"requester":     "privacy.officer",
		"justification": "subject access request 8841",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "123 456 782", body["value"])
}

func TestRedactHandler_ReverseRejections(t *testing.T) {
	env := newGovernanceEnv(t)

	t.Run("justification required", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/transform/reverse", map[string]any{
			"handle":    "some-handle",
			"requester": "privacy.officer",
		})
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_input", body["error"])
	})

	t.Run("unknown handle", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/transform/reverse", map[string]any{
			"handle":        "not-a-vault-handle",
			"requester":     "privacy.officer",
			"justification": "incident follow-up",
		})
		require.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", body["error"])
	})
}

func TestRedactHandler_CulturalApproval(t *testing.T) {
	env := newGovernanceEnv(t)

	t.Run("refused without authority", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/redact", map[string]any{
			"field": "notes",
			"value": "ceremony location shared by the elders",
			"context": map[string]any{
				"operator": "analyst.intern",
			},
		})
		require.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "cultural_approval_required", body["error"])
	})

	t.Run("approved authority passes", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/redact", map[string]any{
			"field": "notes",
			"value": "ceremony location shared by the elders",
			"context": map[string]any{
				"operator": "heritage.officer",
				"authority": map[string]any{
					"approved":     true,
					"authority_id": "elder-m-yunupingu",
					"role":         "elder",
				},
			},
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["applied"])
		assert.NotEqual(t, "ceremony location shared by the elders", body["value"])
	})
}

func TestRedactHandler_Batch(t *testing.T) {
	env := newGovernanceEnv(t)

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/redact/batch", map[string]any{
		"items": []map[string]any{
			{"field": "card", "value": "4532 0151 1283 0366"},
			{"field": "notes", "value": "sorry business arrangements"},
		},
		"context": map[string]any{
			"operator": "compliance.officer",
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["succeeded"])
	assert.Equal(t, float64(1), body["failed"])

	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)

	card := results[0].(map[string]any)
	assert.Equal(t, "card", card["field"])
	require.NotNil(t, card["result"])
	assert.Equal(t, "4532 **** **** 0366", card["result"].(map[string]any)["value"])

	notes := results[1].(map[string]any)
	assert.Contains(t, notes["error"], "cultural authority approval")
	assert.Nil(t, notes["result"])
}
