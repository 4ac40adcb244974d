package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

const (
	LabelNormal   = "Normal"
	LabelAbnormal = "Abnormal"

	DefaultPrimaryLabel = "Analysis Complete"
	DefaultDescription  = "Analysis completed successfully."

	noFindingsDescription = "No signs of lung disease detected."
	findingsPrefix        = "Signs of lung disease detected: "
)

// Prediction is one label→probability pair in the order the backend sent it.
type Prediction struct {
	Label       string
	Probability float64
}

// Response is the backend reply with every field optional.
// nil means absent or malformed; Predictions and DetectedConditions are
// non-nil (possibly empty) when the backend sent the field.
type Response struct {
	Primary            *string
	Confidence         *float64
	Description        *string
	Predictions        []Prediction
	DetectedConditions []string
}

// Normalize turns a raw backend body into an AnalysisResult. Only a body
// that is not JSON at all is an error; every other defect falls back to
// a default.
func Normalize(raw []byte) (AnalysisResult, error) {
	resp, err := ParseResponse(raw)
	if err != nil {
		return AnalysisResult{}, err
	}
	return Resolve(resp), nil
}

// ParseResponse decodes each known field independently so that one
// malformed field never hides the others.
func ParseResponse(raw []byte) (Response, error) {
	if !json.Valid(raw) {
		var v any
		err := json.Unmarshal(raw, &v)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return Response{}, &MalformedError{Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// valid JSON but not an object: nothing to resolve from
		return Response{}, nil
	}

	var r Response
	if v, ok := fields["primary"]; ok {
		r.Primary = decodeString(v)
	}
	if v, ok := fields["confidence"]; ok {
		r.Confidence = decodeNumber(v)
	}
	if v, ok := fields["description"]; ok {
		r.Description = decodeString(v)
	}
	if v, ok := fields["predictions"]; ok {
		r.Predictions = decodePredictions(v)
	}
	if v, ok := fields["detected_conditions"]; ok {
		r.DetectedConditions = decodeLabels(v)
	}
	return r, nil
}

// Resolve applies the field resolvers in order of preference.
func Resolve(r Response) AnalysisResult {
	return AnalysisResult{
		PrimaryLabel:      resolvePrimary(r),
		ConfidencePercent: resolveConfidence(r),
		Description:       resolveDescription(r),
		Conditions:        resolveConditions(r),
		Detected:          slices.Clone(r.DetectedConditions),
	}
}

func resolvePrimary(r Response) string {
	if r.Primary != nil && strings.TrimSpace(*r.Primary) != "" {
		return *r.Primary
	}
	if r.DetectedConditions != nil {
		if len(r.DetectedConditions) > 0 {
			return LabelAbnormal
		}
		return LabelNormal
	}
	return DefaultPrimaryLabel
}

func resolveConfidence(r Response) int {
	if r.Confidence != nil {
		return clampPercent(roundHalfUp(*r.Confidence))
	}
	if len(r.Predictions) > 0 {
		highest := r.Predictions[0].Probability
		for _, p := range r.Predictions[1:] {
			if p.Probability > highest {
				highest = p.Probability
			}
		}
		return Percent(highest)
	}
	return 0
}

func resolveDescription(r Response) string {
	if r.Description != nil && strings.TrimSpace(*r.Description) != "" {
		return *r.Description
	}
	if r.DetectedConditions != nil {
		if len(r.DetectedConditions) > 0 {
			return findingsPrefix + strings.Join(r.DetectedConditions, ", ")
		}
		return noFindingsDescription
	}
	return DefaultDescription
}

func resolveConditions(r Response) []Condition {
	out := make([]Condition, 0, len(r.Predictions))
	for _, p := range r.Predictions {
		out = append(out, Condition{Label: p.Label, Percentage: Percent(p.Probability)})
	}
	slices.SortStableFunc(out, func(a, b Condition) int {
		return b.Percentage - a.Percentage
	})
	return out
}

// Percent converts a probability in [0,1] into a whole percentage in [0,100].
func Percent(probability float64) int {
	return clampPercent(roundHalfUp(probability * 100))
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

func clampPercent(v float64) int {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func decodeNumber(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

// decodeLabels keeps string elements in order, dropping blanks and repeats.
func decodeLabels(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s := decodeString(it)
		if s == nil || strings.TrimSpace(*s) == "" || slices.Contains(out, *s) {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// decodePredictions walks the object token by token so document order
// survives. A repeated label keeps its first position and its last
// numeric value; a null or non-numeric repeat is skipped like any other junk.
func decodePredictions(raw json.RawMessage) []Prediction {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}

	out := []Prediction{}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		label, ok := tok.(string)
		if !ok {
			return nil
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil
		}
		p := decodeNumber(v)
		if p == nil {
			continue
		}
		if i, seen := index[label]; seen {
			out[i].Probability = *p
			continue
		}
		index[label] = len(out)
		out = append(out, Prediction{Label: label, Probability: *p})
	}
	return out
}

// String renders the result on one line, mostly for logs.
func (r AnalysisResult) String() string {
	return fmt.Sprintf("%s (%d%%) conditions=%d", r.PrimaryLabel, r.ConfidencePercent, len(r.Conditions))
}
