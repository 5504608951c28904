package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	dErrors "tutela/pkg/domain-errors"
)

var exportSecret = []byte("test-export-secret")

func seedExportChain(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.Append(ctx, Record{
		EventType:           EventRedactionApplied,
		Actor:               "operator-1",
		SubjectID:           "subject-a",
		DataType:            "cultural_content",
		CulturallySensitive: true,
	})
	require.NoError(t, err)

	_, err = svc.Append(ctx, Record{
		EventType: EventRedactionApplied,
		Actor:     "operator-1",
		SubjectID: "subject-b",
		DataType:  "email",
	})
	require.NoError(t, err)

	_, err = svc.Append(ctx, Record{
		EventType: EventPolicyEvaluated,
		Actor:     "operator-2",
		SubjectID: "subject-c",
	})
	require.NoError(t, err)
}

func TestService_ExportJSON(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	result, err := svc.Export(context.Background(), ExportRequest{
		Format:      FormatJSON,
		RequestedBy: "compliance-officer",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.EntryCount)

	var entries []Entry
	require.NoError(t, json.Unmarshal(result.Data, &entries))
	assert.Len(t, entries, 3)

	require.NoError(t, VerifyExport(exportSecret, result))
}

func TestService_ExportFilters(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	t.Run("exclude cultural", func(t *testing.T) {
		result, err := svc.Export(context.Background(), ExportRequest{
			Format:          FormatJSON,
			ExcludeCultural: true,
			RequestedBy:     "compliance-officer",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.EntryCount)
	})

	t.Run("exclude personal", func(t *testing.T) {
		result, err := svc.Export(context.Background(), ExportRequest{
			Format:          FormatJSON,
			ExcludePersonal: true,
			RequestedBy:     "compliance-officer",
		})
		require.NoError(t, err)
		// The email entry drops; cultural_content is not a personal identifier.
		assert.Equal(t, result.EntryCount, 3-1)
	})
}

func TestService_ExportCSV(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	result, err := svc.Export(context.Background(), ExportRequest{
		Format:      FormatCSV,
		RequestedBy: "compliance-officer",
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	require.Len(t, lines, 4, "header plus three rows")
	assert.True(t, strings.HasPrefix(lines[0], "chain_id,sequence,timestamp"))
}

func TestService_ExportYAML(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	result, err := svc.Export(context.Background(), ExportRequest{
		Format:      FormatYAML,
		RequestedBy: "compliance-officer",
	})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(result.Data, &decoded))
	require.Len(t, decoded, 3)
	assert.Contains(t, decoded[0], "content_hash")
}

func TestService_ExportEncrypted(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	result, err := svc.Export(context.Background(), ExportRequest{
		Format:      FormatEncrypted,
		RequestedBy: "compliance-officer",
	})
	require.NoError(t, err)
	assert.NotContains(t, string(result.Data), "subject-a")

	plain, err := DecryptExport(exportSecret, result.Data)
	require.NoError(t, err)
	var entries []Entry
	require.NoError(t, json.Unmarshal(plain, &entries))
	assert.Len(t, entries, 3)

	_, err = DecryptExport([]byte("wrong-secret"), result.Data)
	assert.Error(t, err)
}

func TestService_ExportIsAudited(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	_, err := svc.Export(context.Background(), ExportRequest{
		Format:      FormatJSON,
		RequestedBy: "compliance-officer",
	})
	require.NoError(t, err)

	entries, err := svc.Query(context.Background(), QueryCriteria{
		EventTypes: []EventType{EventExportPerformed},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "compliance-officer", entries[0].Actor)
	assert.Equal(t, "json", entries[0].Detail["format"])
}

func TestVerifyExport_DetectsTampering(t *testing.T) {
	svc, _ := newTestService(t)
	seedExportChain(t, svc)

	result, err := svc.Export(context.Background(), ExportRequest{
		Format:      FormatJSON,
		RequestedBy: "compliance-officer",
	})
	require.NoError(t, err)

	result.Data = append(result.Data, ' ')
	err = VerifyExport(exportSecret, result)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityViolation))
}

func TestService_ExportValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Export(context.Background(), ExportRequest{Format: FormatJSON})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing requester")

	_, err = svc.Export(context.Background(), ExportRequest{Format: "parquet", RequestedBy: "x"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "unknown format")

	bare := NewService(NewMemoryStore())
	_, err = bare.Export(context.Background(), ExportRequest{Format: FormatJSON, RequestedBy: "x"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing secret")
}
