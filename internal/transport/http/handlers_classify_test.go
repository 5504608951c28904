package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutela/internal/audit"
)

func TestClassifyHandler_CreditCard(t *testing.T) {
	env := newGovernanceEnv(t)

	rec := doRaw(t, env.router, jsonRequest(t, http.MethodPost, "/v1/classify", map[string]any{
		"value":    "4532 0151 1283 0366",
		"operator": "compliance.officer",
		"subject":  "subject-42",
		"purpose":  "intake scan",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	body := parseBody(t, rec)
	assert.Equal(t, "credit_card", body["data_type"])
	assert.Equal(t, "restricted", body["sensitivity"])
	assert.Equal(t, false, body["culturally_sensitive"])
	assert.Greater(t, body["confidence"].(float64), 0.5)

	// The raw value must never travel back over the wire.
	assert.NotContains(t, rec.Body.String(), "4532")

	entries, err := env.auditor.Query(context.Background(), audit.QueryCriteria{
		EventTypes: []audit.EventType{audit.EventClassificationPerformed},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "compliance.officer", entries[0].Actor)
	assert.Equal(t, "subject-42", entries[0].SubjectID)
}

func TestClassifyHandler_CulturalContent(t *testing.T) {
	env := newGovernanceEnv(t)

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/classify", map[string]any{
		"value":    "sacred site survey notes for the bora ring",
		"operator": "heritage.officer",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cultural_content", body["data_type"])
	assert.Equal(t, "sacred", body["sensitivity"])
	assert.Equal(t, true, body["culturally_sensitive"])
}

func TestClassifyHandler_OperatorRequired(t *testing.T) {
	env := newGovernanceEnv(t)

	status, body := doJSON(t, env.router, http.MethodPost, "/v1/classify",
		map[string]any{"value": "plain text"})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])
	assert.Equal(t, "operator identity is required", body["error_description"])
}

func TestClassifyHandler_MalformedBody(t *testing.T) {
	env := newGovernanceEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := doRaw(t, env.router, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", parseBody(t, rec)["error"])
}
