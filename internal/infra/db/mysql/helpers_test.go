package mysql

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

func TestResultJSON(t *testing.T) {
	in := analysis.AnalysisResult{
		PrimaryLabel:      "Abnormal",
		ConfidencePercent: 88,
		Description:       "Signs of lung disease detected: Mass",
		Conditions:        []analysis.Condition{{Label: "Mass", Percentage: 88}},
		Detected:          []string{"Mass"},
	}
	raw, err := encodeResult(in)
	require.NoError(t, err)

	out, err := decodeResult([]byte(raw))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResultJSON_EmptyColumn(t *testing.T) {
	out, err := decodeResult(nil)
	require.NoError(t, err)
	assert.NotNil(t, out.Conditions)

	raw, err := encodeResult(analysis.AnalysisResult{})
	require.NoError(t, err)
	assert.Contains(t, raw, `"conditions":[]`)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schema)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS users")
	assert.Contains(t, stmts[1], "xray_analyses")
}

func TestStringOrDash(t *testing.T) {
	assert.Equal(t, "-", stringOrDash("  "))
	assert.Equal(t, "x", stringOrDash("x"))
}

func TestDetailsJSON(t *testing.T) {
	assert.Equal(t, "{}", detailsJSON(" "))
	assert.Equal(t, `{"error":"x"}`, detailsJSON(`{"error":"x"}`))
	assert.JSONEq(t, `{"raw": "not json"}`, detailsJSON("not json"))
}
