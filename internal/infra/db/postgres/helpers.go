package postgres

import (
	"encoding/json"
	"strings"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

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
