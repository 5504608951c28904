package test

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutela/internal/attest"
	"tutela/internal/audit"
	"tutela/internal/policy"
	"tutela/internal/redact"
	httptransport "tutela/internal/transport/http"
	"tutela/pkg/testutil"
)

// newGovernanceRouter assembles the full API over memory stores, the same
// composition cmd/server performs without external backends.
func newGovernanceRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := audit.NewService(audit.NewMemoryStore())

	redactor, err := redact.NewService([]byte("smoke-test-master-key"), redact.NewMemoryVault(), auditor)
	require.NoError(t, err)

	policies, err := policy.NewService(policy.NewMemoryStore(), auditor)
	require.NoError(t, err)

	attester, err := attest.NewService([]byte("smoke-test-seal-secret"),
		attest.NewMemoryStore(), attest.NewMemoryKeyStore(), auditor,
		attest.WithPolicyGate(policies, ""))
	require.NoError(t, err)

	return httptransport.NewRouter(httptransport.Deps{
		Logger:     logger,
		Classifier: redactor,
		Redactor:   redactor,
		Attester:   attester,
		Policies:   policies,
		Auditor:    auditor,
	})
}

func TestGovernanceSmoke(t *testing.T) {
	router := newGovernanceRouter(t)

	testutil.Given(t, "the governance API over memory stores", func(t *testing.T) {
		testutil.When(t, "probing the health endpoint", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "it reports ok", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "status", "ok")
			})
		})

		testutil.When(t, "classifying a tax file number", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/classify", map[string]any{
				"value":    "123 456 782",
				"operator": "compliance.officer",
			}))

			testutil.Then(t, "it is recognised as restricted", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				cv := testutil.UnmarshalResponse[struct {
					DataType    string  `json:"data_type"`
					Sensitivity string  `json:"sensitivity"`
					Confidence  float64 `json:"confidence"`
				}](t, rr)
				assert.Equal(t, "tax_file_number", cv.DataType)
				assert.Equal(t, "restricted", cv.Sensitivity)
				assert.Greater(t, cv.Confidence, 0.5)
			})
		})

		testutil.When(t, "classifying without an operator identity", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/classify", map[string]any{
				"value": "123 456 782",
			}))

			testutil.Then(t, "the request is rejected", func(t *testing.T) {
				testutil.AssertError(t, rr, http.StatusBadRequest, "invalid_input")
			})
		})

		testutil.When(t, "redacting the value under the default rules", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/redact", map[string]any{
				"field": "tfn",
				"value": "123 456 782",
				"context": map[string]any{
					"operator": "compliance.officer",
					"purpose":  "smoke check",
				},
			}))

			testutil.Then(t, "the government id hash rule applies", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "applied", true)
				testutil.AssertJSONContains(t, rr, "rule_name", "default-government-id-hash")
			})

			testutil.And(t, "the audit trail holds both operations", func(t *testing.T) {
				rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/audit?actor=compliance.officer"))

				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONHasKey(t, rr, "entries")
				testutil.AssertJSONContains(t, rr, "count", float64(2))
			})
		})

		testutil.When(t, "calling a route that does not exist", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/v1/nope"))

			testutil.Then(t, "it responds with not found", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusNotFound)
			})
		})
	})
}
