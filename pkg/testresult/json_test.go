package testresult

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmission_UnmarshalKeepsExtraFields(t *testing.T) {
	body := `{
		"_id": "ignored",
		"endpoint": {"path": "/users", "method": "get"},
		"status": 200,
		"runId": "r-42",
		"labels": {"team": "payments", "tags": ["smoke", 1]}
	}`

	var sub Submission
	require.NoError(t, json.Unmarshal([]byte(body), &sub))

	assert.Equal(t, 200, sub.Status)
	assert.Equal(t, "/users", sub.Endpoint.Path)
	require.Len(t, sub.Extra, 2)
	assert.JSONEq(t, `"r-42"`, string(sub.Extra["runId"]))
	assert.JSONEq(t, `{"team":"payments","tags":["smoke",1]}`, string(sub.Extra["labels"]))

	result := sub.Build(time.Now())
	assert.Equal(t, sub.Extra, result.Extra)
}

func TestSubmission_UnmarshalStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		want    int
		wantErr bool
	}{
		{name: "number", status: `201`, want: 201},
		{name: "numeric string", status: `"200"`, want: 200},
		{name: "padded string", status: `" 404 "`, want: 404},
		{name: "integral float", status: `200.0`, want: 200},
		{name: "null", status: `null`, want: 0},
		{name: "empty string", status: `""`, want: 0},
		{name: "fraction", status: `200.5`, wantErr: true},
		{name: "word", status: `"ok"`, wantErr: true},
		{name: "bool", status: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"endpoint":{"path":"/a","method":"get"},"status":` + tt.status + `}`

			var sub Submission

			err := json.Unmarshal([]byte(body), &sub)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, sub.Status)
			assert.Empty(t, sub.Extra)
		})
	}
}

func TestSubmission_UnmarshalTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		timestamp string
		want      *time.Time
		wantErr   bool
	}{
		{name: "rfc3339", timestamp: `"2026-03-01T12:00:00Z"`, want: &want},
		{name: "rfc3339 with offset", timestamp: `"2026-03-01T14:00:00+02:00"`, want: &want},
		{name: "epoch millis", timestamp: `1772366400000`, want: &want},
		{name: "epoch millis string", timestamp: `"1772366400000"`, want: &want},
		{name: "null", timestamp: `null`},
		{name: "garbage", timestamp: `"yesterday"`, wantErr: true},
		{name: "object", timestamp: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"endpoint":{"path":"/a","method":"get"},"timestamp":` + tt.timestamp + `}`

			var sub Submission

			err := json.Unmarshal([]byte(body), &sub)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)

			if tt.want == nil {
				assert.Nil(t, sub.Timestamp)

				return
			}

			require.NotNil(t, sub.Timestamp)
			assert.True(t, tt.want.Equal(*sub.Timestamp), "got %s", sub.Timestamp)
			assert.Equal(t, time.UTC, sub.Timestamp.Location())
		})
	}
}

func TestTestResult_JSONExtraFields(t *testing.T) {
	in := TestResult{
		ID:       "abc",
		Endpoint: Endpoint{Path: "/users", Method: "get"},
		Status:   200,
		Success:  true,
		Extra: map[string]json.RawMessage{
			"runId":  json.RawMessage(`"r-42"`),
			"status": json.RawMessage(`999`),
		},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "r-42", generic["runId"])
	assert.Equal(t, float64(200), generic["status"], "extra fields never override fixed ones")
	assert.Equal(t, "abc", generic["_id"])

	var out TestResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 200, out.Status)
	assert.Equal(t, map[string]json.RawMessage{"runId": json.RawMessage(`"r-42"`)}, out.Extra)
}

func TestTestResult_JSONWithoutExtra(t *testing.T) {
	data, err := json.Marshal(TestResult{ID: "abc"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Extra")

	var out TestResult
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out.Extra)
}

func TestIsReservedField(t *testing.T) {
	assert.True(t, IsReservedField("_id"))
	assert.True(t, IsReservedField("statusText"))
	assert.True(t, IsReservedField("StatusText"))
	assert.False(t, IsReservedField("runId"))
	assert.False(t, IsReservedField("__v"))
}
