package testresult

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// reservedFields are the top-level JSON keys of a TestResult, lower-cased.
var reservedFields = map[string]struct{}{
	"_id":         {},
	"endpoint":    {},
	"status":      {},
	"statustext":  {},
	"headers":     {},
	"data":        {},
	"requestbody": {},
	"timestamp":   {},
	"project":     {},
	"spectitle":   {},
	"specversion": {},
	"duration":    {},
	"success":     {},
	"createdat":   {},
	"updatedat":   {},
}

// IsReservedField reports whether key names a fixed TestResult field and so
// cannot be used as an extra field. Matching ignores case, as encoding/json
// does when decoding.
func IsReservedField(key string) bool {
	_, ok := reservedFields[strings.ToLower(key)]

	return ok
}

// extraFields returns the top-level keys of the JSON object in data that are
// not reserved, or nil when there are none.
func extraFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	var extra map[string]json.RawMessage

	for key, value := range fields {
		if IsReservedField(key) {
			continue
		}

		if extra == nil {
			extra = make(map[string]json.RawMessage, len(fields))
		}

		extra[key] = value
	}

	return extra, nil
}

// UnmarshalJSON decodes a submission. Status may also be a numeric string
// and timestamp may be epoch milliseconds; unknown keys land in Extra.
func (s *Submission) UnmarshalJSON(data []byte) error {
	type plain Submission

	wire := struct {
		*plain
		Status    json.RawMessage `json:"status,omitempty"`
		Timestamp json.RawMessage `json:"timestamp,omitempty"`
	}{plain: (*plain)(s)}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	status, err := parseStatus(wire.Status)
	if err != nil {
		return err
	}

	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return err
	}

	extra, err := extraFields(data)
	if err != nil {
		return err
	}

	s.Status = status
	s.Timestamp = ts
	s.Extra = extra

	return nil
}

// MarshalJSON encodes r with its extra fields merged in at the top level.
func (r TestResult) MarshalJSON() ([]byte, error) {
	type plain TestResult

	data, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return data, err
	}

	merged := make(map[string]json.RawMessage, 16+len(r.Extra))
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}

	for key, value := range r.Extra {
		if IsReservedField(key) {
			continue
		}

		merged[key] = value
	}

	return json.Marshal(merged)
}

// UnmarshalJSON decodes r, collecting unknown keys into Extra.
func (r *TestResult) UnmarshalJSON(data []byte) error {
	type plain TestResult

	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}

	extra, err := extraFields(data)
	if err != nil {
		return err
	}

	r.Extra = extra

	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))

	return trimmed == "" || trimmed == "null"
}

// parseStatus accepts an integral JSON number or a string holding one.
func parseStatus(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}

	text := strings.TrimSpace(string(raw))

	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("decoding status: %w", err)
		}

		text = strings.TrimSpace(s)
		if text == "" {
			return 0, nil
		}
	}

	if n, err := strconv.Atoi(text); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("status must be an integer, got %s", text)
	}

	return int(f), nil
}

// parseTimestamp accepts an RFC 3339 string or epoch milliseconds, either
// as a number or a numeric string.
func parseTimestamp(raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}

	text := strings.TrimSpace(string(raw))

	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding timestamp: %w", err)
		}

		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}

		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts = ts.UTC()

			return &ts, nil
		}

		text = s
	}

	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		ts := time.UnixMilli(ms).UTC()

		return &ts, nil
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf(
			"timestamp must be an RFC 3339 time or epoch milliseconds, got %s", text,
		)
	}

	ts := time.UnixMilli(int64(math.Round(f))).UTC()

	return &ts, nil
}
