package mysql

import (
	"encoding/json"
	"strings"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func splitStatements(s string) []string {
	var out []string
	for _, stmt := range strings.Split(s, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// result_json column requires valid JSON
func encodeResult(r analysis.AnalysisResult) (string, error) {
	b, err := json.Marshal(r.Clone())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeResult(raw []byte) (analysis.AnalysisResult, error) {
	var r analysis.AnalysisResult
	if len(strings.TrimSpace(string(raw))) == 0 {
		return r.Clone(), nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return analysis.AnalysisResult{}, err
	}
	return r.Clone(), nil
}
