package homework

import (
	"encoding/json"
	"strings"
	"time"
)

// FieldHomeworks is the top-level key holding the submission list.
const FieldHomeworks = "homeworks"

// Validate checks the structural shape of a decoded API payload and returns
// its submissions in the order received (newest first by API contract).
//
// It does not interpret status values; see Format.
func Validate(raw any) ([]Submission, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, NewFault(KindMalformedResponse, "validate", nil, "payload is %s, want object", jsonType(raw))
	}
	v, ok := m[FieldHomeworks]
	if !ok {
		return nil, NewFault(KindMissingField, "validate", nil, "key %q not found", FieldHomeworks)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, NewFault(KindMalformedResponse, "validate", nil, "%q is %s, want array", FieldHomeworks, jsonType(v))
	}
	if len(list) == 0 {
		return nil, NewFault(KindEmptyResult, "validate", nil, "no submissions in window")
	}

	out := make([]Submission, 0, len(list))
	for i, el := range list {
		rec, ok := el.(map[string]any)
		if !ok {
			return nil, NewFault(KindMalformedResponse, "validate", nil, "%s[%d] is %s, want object", FieldHomeworks, i, jsonType(el))
		}
		out = append(out, submissionFromRecord(rec))
	}
	return out, nil
}

func submissionFromRecord(rec map[string]any) Submission {
	s := Submission{
		ID:              int64Field(rec, "id"),
		Name:            stringField(rec, "homework_name"),
		Status:          Status(stringField(rec, "status")),
		ReviewerComment: stringField(rec, "reviewer_comment"),
	}
	if s.Name == "" {
		s.Name = stringField(rec, "lesson_name")
	}
	if ts := stringField(rec, "date_updated"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			s.DateUpdated = t
		}
	}
	return s
}

func stringField(rec map[string]any, key string) string {
	v, _ := rec[key].(string)
	return strings.TrimSpace(v)
}

func int64Field(rec map[string]any, key string) int64 {
	switch v := rec[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number, int, int64:
		return "number"
	default:
		return "unknown"
	}
}

// CurrentDate returns the server clock ("current_date") carried by a raw
// payload, if any.
func CurrentDate(raw any) (int64, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, false
	}
	ts := int64Field(m, "current_date")
	return ts, ts > 0
}
