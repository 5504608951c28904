package httptransport

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offshoreGateBody = `
rules:
  - name: block-offshore
    when:
      - field: country
        op: not_in
        value: [AU]
    effect: deny
    reason: data stays onshore
default: allow
`

const offshoreDenyDefaultBody = `
rules:
  - name: block-offshore
    when:
      - field: country
        op: not_in
        value: [AU]
    effect: deny
    reason: data stays onshore
default: deny
`

const reviewLargeTransferBody = `
rules:
  - name: review-large
    when:
      - field: amount
        op: gt
        value: 10000
    effect: conditional
    conditions:
      - kind: approval_required
        ttl: 72h
default: allow
`

func createPolicyOverHTTP(t *testing.T, env *governanceEnv, name, policyBody string) string {
	t.Helper()

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies", map[string]any{
		"name":        name,
		"body":        policyBody,
		"syntax":      "yaml",
		"enforcement": "mandatory",
		"scopes":      []string{"governance:export"},
		"compliance":  map[string]any{"frameworks": []string{"APP"}, "owner": "data-governance"},
		"test_cases": []map[string]any{
			{"name": "domestic allowed", "input": map[string]any{"country": "AU"}, "expect": "allow"},
			{"name": "offshore denied", "input": map[string]any{"country": "US"}, "expect": "deny"},
		},
		"actor": "compliance.officer",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, "1.0.0", body["version"])

	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func TestPolicyHandler_LifecycleAndEvaluate(t *testing.T) {
	env := newGovernanceEnv(t)
	id := createPolicyOverHTTP(t, env, "offshore-export-gate", offshoreGateBody)
	actor := map[string]any{"actor": "compliance.officer"}

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/validate", actor)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "validated", body["status"])

	status, body = doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/tests", actor)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["all_passed"])
	assert.Equal(t, float64(2), body["passed"])
	assert.Equal(t, float64(0), body["failed"])

	status, body = doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/approve", actor)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "approved", body["status"])

	status, body = doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/deploy", map[string]any{
		"environment": "staging",
		"actor":       "platform.release",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "staging", body["environment"])
	assert.Equal(t, "1.0.0", body["version"])

	status, body = doJSON(t, env.router, http.MethodGet, "/v1/policies/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "deployed", body["status"])
	assert.Equal(t, "1.0.0", body["deployments"].(map[string]any)["staging"])

	status, body = doJSON(t, env.router, http.MethodGet, "/v1/policies/"+id+"/deployments", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["deployments"], 1)

	t.Run("offshore transfer denied", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/evaluate", map[string]any{
			"environment": "staging",
			"input":       map[string]any{"country": "US"},
			"actor":       "service.exporter",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "deny", body["outcome"])
		assert.Equal(t, "block-offshore", body["rule"])
	})

	t.Run("domestic transfer allowed", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/evaluate", map[string]any{
			"environment": "staging",
			"input":       map[string]any{"country": "AU"},
			"actor":       "service.exporter",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "allow", body["outcome"])
	})

	t.Run("undeployed environment is not found", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/evaluate", map[string]any{
			"environment": "production",
			"input":       map[string]any{"country": "AU"},
			"actor":       "service.exporter",
		})
		require.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", body["error"])
	})
}

func TestPolicyHandler_UpdateAndRollback(t *testing.T) {
	env := newGovernanceEnv(t)
	id := createPolicyOverHTTP(t, env, "offshore-export-gate", offshoreGateBody)

	status, body := doJSON(t, env.router, http.MethodPut, "/v1/policies/"+id, map[string]any{
		"body":  offshoreDenyDefaultBody,
		"actor": "compliance.officer",
	})
	require.Equal(t, http.StatusOK, status)
	bumped := body["version"].(string)
	assert.NotEqual(t, "1.0.0", bumped)
	assert.Equal(t, "draft", body["status"])

	status, body = doJSON(t, env.router, http.MethodGet, "/v1/policies/"+id+"/versions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["versions"], 2)

	status, body = doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/rollback", map[string]any{
		"target_version": "1.0.0",
		"actor":          "compliance.officer",
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, bumped, body["version"])
	assert.Equal(t, "approved", body["status"])
	assert.Contains(t, body["body"], "default: allow")

	t.Run("unknown target version", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies/"+id+"/rollback", map[string]any{
			"target_version": "9.9.9",
			"actor":          "compliance.officer",
		})
		require.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", body["error"])
	})
}

func TestPolicyHandler_EvaluateBundle(t *testing.T) {
	env := newGovernanceEnv(t)
	gateID := createPolicyOverHTTP(t, env, "offshore-export-gate", offshoreGateBody)

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies", map[string]any{
		"name":        "large-transfer-review",
		"body":        reviewLargeTransferBody,
		"syntax":      "yaml",
		"enforcement": "advisory",
		"actor":       "compliance.officer",
	})
	require.Equal(t, http.StatusCreated, status)
	reviewID := body["id"].(string)

	status, body = doJSON(t, env.router, http.MethodPost, "/v1/policies/evaluate", map[string]any{
		"policy_ids": []string{gateID, reviewID},
		"input":      map[string]any{"country": "US", "amount": 50000},
		"actor":      "service.exporter",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "deny", body["outcome"])
	assert.Equal(t, true, body["short_circuited"])
	assert.Equal(t, gateID, body["decided_by"])
	assert.Len(t, body["decisions"], 1)
}

func TestPolicyHandler_CreateRejections(t *testing.T) {
	env := newGovernanceEnv(t)
	createPolicyOverHTTP(t, env, "offshore-export-gate", offshoreGateBody)

	t.Run("duplicate name conflicts", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies", map[string]any{
			"name":        "offshore-export-gate",
			"body":        offshoreGateBody,
			"syntax":      "yaml",
			"enforcement": "mandatory",
			"actor":       "compliance.officer",
		})
		require.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "conflict", body["error"])
	})

	t.Run("name is validated at the edge", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies", map[string]any{
			"name":        "",
			"body":        offshoreGateBody,
			"syntax":      "yaml",
			"enforcement": "mandatory",
			"actor":       "compliance.officer",
		})
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_input", body["error"])
	})

	t.Run("unknown syntax", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodPost, "/v1/policies", map[string]any{
			"name":        "bad-syntax",
			"body":        offshoreGateBody,
			"syntax":      "prolog",
			"enforcement": "mandatory",
			"actor":       "compliance.officer",
		})
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_input", body["error"])
	})
}

func TestPolicyHandler_DeleteAndList(t *testing.T) {
	env := newGovernanceEnv(t)
	id := createPolicyOverHTTP(t, env, "offshore-export-gate", offshoreGateBody)

	status, body := doJSON(t, env.router, http.MethodGet, "/v1/policies?scope=governance:export", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["policies"], 1)

	rec := doRaw(t, env.router, jsonRequest(t, http.MethodDelete,
		"/v1/policies/"+id+"?actor=compliance.officer", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	status, body = doJSON(t, env.router, http.MethodGet, "/v1/policies/"+id, nil)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])

	t.Run("malformed id", func(t *testing.T) {
		status, body := doJSON(t, env.router, http.MethodGet, "/v1/policies/not-a-uuid", nil)
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "bad_request", body["error"])
	})

	t.Run("unknown id", func(t *testing.T) {
		status, _ := doJSON(t, env.router, http.MethodGet, "/v1/policies/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, status)
	})
}
