package analysis

import (
	"slices"
	"time"
)

// Condition is one labelled probability, already converted to a whole percentage.
type Condition struct {
	Label      string `json:"label"`
	Percentage int    `json:"percentage"`
}

// AnalysisResult is the canonical display model produced by Normalize.
// Conditions are sorted by Percentage descending, backend order on ties.
type AnalysisResult struct {
	PrimaryLabel      string      `json:"primary_label"`
	ConfidencePercent int         `json:"confidence_percent"`
	Description       string      `json:"description"`
	Conditions        []Condition `json:"conditions"`
	Detected          []string    `json:"detected_conditions,omitempty"`
}

// Clone returns a copy that shares no slices with r.
func (r AnalysisResult) Clone() AnalysisResult {
	out := r
	out.Conditions = slices.Clone(r.Conditions)
	if out.Conditions == nil {
		out.Conditions = []Condition{}
	}
	out.Detected = slices.Clone(r.Detected)
	return out
}

// RecordID identifier type
type RecordID string

// Record is a finished analysis kept in the caller's history.
type Record struct {
	ID        RecordID       `json:"id"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	FileName  string         `json:"file_name"`
	Result    AnalysisResult `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}
