package testresult

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultProject is the project label applied when a submission omits one.
const DefaultProject = "API Evaluator"

// ErrInvalidSubmission is returned when a submission is missing required fields.
var ErrInvalidSubmission = errors.New("invalid test result")

// Endpoint describes the operation of the API under test that was probed.
// Schema-like fields are caller-defined and kept as raw JSON.
type Endpoint struct {
	Path              string          `json:"path"`
	Method            string          `json:"method"`
	OperationID       string          `json:"operationId,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	Description       string          `json:"description,omitempty"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	RequestBodySchema json.RawMessage `json:"requestBodySchema,omitempty"`
	Responses         json.RawMessage `json:"responses,omitempty"`
}

// TestResult is a persisted record of one probed API call and its outcome.
type TestResult struct {
	ID          string          `json:"_id"`
	Endpoint    Endpoint        `json:"endpoint"`
	Status      int             `json:"status"`
	StatusText  string          `json:"statusText,omitempty"`
	Headers     json.RawMessage `json:"headers,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	RequestBody json.RawMessage `json:"requestBody,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Project     string          `json:"project"`
	SpecTitle   string          `json:"specTitle,omitempty"`
	SpecVersion string          `json:"specVersion,omitempty"`
	Duration    *float64        `json:"duration,omitempty"`
	Success     bool            `json:"success"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`

	// Extra holds caller-defined top-level fields, kept as raw JSON and
	// written back alongside the fixed fields.
	Extra map[string]json.RawMessage `json:"-"`
}

// Submission is the caller-supplied payload for a new test result. Fields
// the store assigns are absent; Timestamp and Success are optional.
type Submission struct {
	Endpoint    Endpoint        `json:"endpoint"`
	Status      int             `json:"status"`
	StatusText  string          `json:"statusText,omitempty"`
	Headers     json.RawMessage `json:"headers,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	RequestBody json.RawMessage `json:"requestBody,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Project     *string         `json:"project,omitempty"`
	SpecTitle   string          `json:"specTitle,omitempty"`
	SpecVersion string          `json:"specVersion,omitempty"`
	Duration    *float64        `json:"duration,omitempty"`
	Success     *bool           `json:"success,omitempty"`

	// Extra holds any top-level fields not listed above.
	Extra map[string]json.RawMessage `json:"-"`
}

// Validate checks that the submission identifies the probed endpoint.
func (s *Submission) Validate() error {
	if strings.TrimSpace(s.Endpoint.Method) == "" {
		return fmt.Errorf("%w: endpoint.method is required", ErrInvalidSubmission)
	}

	if strings.TrimSpace(s.Endpoint.Path) == "" {
		return fmt.Errorf("%w: endpoint.path is required", ErrInvalidSubmission)
	}

	return nil
}

// Build applies creation-time defaults and returns the record to insert.
// Success is derived from Status only when the caller did not set it.
func (s *Submission) Build(now time.Time) TestResult {
	result := TestResult{
		Endpoint:    s.Endpoint,
		Status:      s.Status,
		StatusText:  s.StatusText,
		Headers:     s.Headers,
		Data:        s.Data,
		RequestBody: s.RequestBody,
		Timestamp:   now.UTC(),
		Project:     DefaultProject,
		SpecTitle:   s.SpecTitle,
		SpecVersion: s.SpecVersion,
		Duration:    s.Duration,
		Success:     IsSuccessStatus(s.Status),
		Extra:       s.Extra,
	}

	if s.Timestamp != nil && !s.Timestamp.IsZero() {
		result.Timestamp = s.Timestamp.UTC()
	}

	if s.Project != nil {
		result.Project = *s.Project
	}

	if s.Success != nil {
		result.Success = *s.Success
	}

	return result
}

// IsSuccessStatus reports whether status is a 2xx code.
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

// Label returns the "<METHOD> <path>" form used in logs and summaries.
func (e Endpoint) Label() string {
	return strings.ToUpper(e.Method) + " " + e.Path
}

// ResponseTime formats Duration, or "N/A" when it was not recorded.
func (r *TestResult) ResponseTime() string {
	if r.Duration == nil || *r.Duration == 0 {
		return "N/A"
	}

	return fmt.Sprintf("%vms", *r.Duration)
}

// Summary is a compact view of a single test result.
type Summary struct {
	ID           string    `json:"id"`
	Endpoint     string    `json:"endpoint"`
	Status       int       `json:"status"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
	ResponseTime string    `json:"responseTime"`
}

// Summary returns the compact view of r.
func (r *TestResult) Summary() Summary {
	return Summary{
		ID:           r.ID,
		Endpoint:     r.Endpoint.Label(),
		Status:       r.Status,
		Success:      r.Success,
		Timestamp:    r.Timestamp,
		ResponseTime: r.ResponseTime(),
	}
}
