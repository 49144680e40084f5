package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apievaluator/resultsapi/pkg/testresult"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/datatypes"
)

// jsonNull is stored for absent opaque values so JSON columns are never
// NULL.
var jsonNull = []byte("null")

// resultRecord is the relational row for a test result.
type resultRecord struct {
	ID          string          `gorm:"primaryKey;size:36"`
	Endpoint    endpointColumns `gorm:"embedded;embeddedPrefix:endpoint_"`
	Status      int             `gorm:"index;not null"`
	StatusText  string
	Headers     datatypes.JSON `gorm:"type:text;not null"`
	Data        datatypes.JSON `gorm:"type:text;not null"`
	RequestBody datatypes.JSON `gorm:"type:text;not null"`
	Timestamp   time.Time      `gorm:"index:idx_test_results_timestamp,sort:desc;not null"`
	Project     string
	SpecTitle   string
	SpecVersion string
	Duration    *float64
	Success     bool           `gorm:"index"`
	Extra       datatypes.JSON `gorm:"type:text;not null;default:'null'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type endpointColumns struct {
	Path              string `gorm:"index:idx_test_results_endpoint,priority:1"`
	Method            string `gorm:"size:32;index:idx_test_results_endpoint,priority:2"`
	OperationID       string
	Summary           string
	Description       string
	Parameters        datatypes.JSON `gorm:"type:text;not null"`
	RequestBodySchema datatypes.JSON `gorm:"type:text;not null"`
	Responses         datatypes.JSON `gorm:"type:text;not null"`

	// PathFolded is Path lower-cased with Unicode case rules. The path
	// filter matches against it since SQLite's LOWER only folds ASCII.
	PathFolded string `gorm:"index"`
}

// TableName pins the table name independent of the struct name.
func (resultRecord) TableName() string {
	return "test_results"
}

func toJSONColumn(raw json.RawMessage) datatypes.JSON {
	if len(bytes.TrimSpace(raw)) == 0 {
		return datatypes.JSON(jsonNull)
	}

	return datatypes.JSON(raw)
}

func fromJSONColumn(col datatypes.JSON) json.RawMessage {
	trimmed := bytes.TrimSpace(col)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return nil
	}

	return json.RawMessage(col)
}

func newResultRecord(r *testresult.TestResult) (*resultRecord, error) {
	extra := datatypes.JSON(jsonNull)

	if len(r.Extra) > 0 {
		raw, err := json.Marshal(r.Extra)
		if err != nil {
			return nil, fmt.Errorf("encoding extra fields: %w", err)
		}

		extra = datatypes.JSON(raw)
	}

	return &resultRecord{
		ID: r.ID,
		Endpoint: endpointColumns{
			Path:              r.Endpoint.Path,
			PathFolded:        strings.ToLower(r.Endpoint.Path),
			Method:            r.Endpoint.Method,
			OperationID:       r.Endpoint.OperationID,
			Summary:           r.Endpoint.Summary,
			Description:       r.Endpoint.Description,
			Parameters:        toJSONColumn(r.Endpoint.Parameters),
			RequestBodySchema: toJSONColumn(r.Endpoint.RequestBodySchema),
			Responses:         toJSONColumn(r.Endpoint.Responses),
		},
		Status:      r.Status,
		StatusText:  r.StatusText,
		Headers:     toJSONColumn(r.Headers),
		Data:        toJSONColumn(r.Data),
		RequestBody: toJSONColumn(r.RequestBody),
		Timestamp:   r.Timestamp.UTC(),
		Project:     r.Project,
		SpecTitle:   r.SpecTitle,
		SpecVersion: r.SpecVersion,
		Duration:    r.Duration,
		Success:     r.Success,
		Extra:       extra,
	}, nil
}

func (rec *resultRecord) toTestResult() (testresult.TestResult, error) {
	var extra map[string]json.RawMessage

	if raw := fromJSONColumn(rec.Extra); raw != nil {
		if err := json.Unmarshal(raw, &extra); err != nil {
			return testresult.TestResult{}, fmt.Errorf("decoding extra fields: %w", err)
		}
	}

	return testresult.TestResult{
		ID: rec.ID,
		Endpoint: testresult.Endpoint{
			Path:              rec.Endpoint.Path,
			Method:            rec.Endpoint.Method,
			OperationID:       rec.Endpoint.OperationID,
			Summary:           rec.Endpoint.Summary,
			Description:       rec.Endpoint.Description,
			Parameters:        fromJSONColumn(rec.Endpoint.Parameters),
			RequestBodySchema: fromJSONColumn(rec.Endpoint.RequestBodySchema),
			Responses:         fromJSONColumn(rec.Endpoint.Responses),
		},
		Status:      rec.Status,
		StatusText:  rec.StatusText,
		Headers:     fromJSONColumn(rec.Headers),
		Data:        fromJSONColumn(rec.Data),
		RequestBody: fromJSONColumn(rec.RequestBody),
		Timestamp:   rec.Timestamp.UTC(),
		Project:     rec.Project,
		SpecTitle:   rec.SpecTitle,
		SpecVersion: rec.SpecVersion,
		Duration:    rec.Duration,
		Success:     rec.Success,
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
		Extra:       extra,
	}, nil
}

// resultDocument is the MongoDB document for a test result. Opaque fields
// are stored as native BSON values so they stay queryable from the shell.
type resultDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	Endpoint    endpointDocument   `bson:"endpoint"`
	Status      int                `bson:"status"`
	StatusText  string             `bson:"statusText,omitempty"`
	Headers     interface{}        `bson:"headers,omitempty"`
	Data        interface{}        `bson:"data,omitempty"`
	RequestBody interface{}        `bson:"requestBody,omitempty"`
	Timestamp   time.Time          `bson:"timestamp"`
	Project     string             `bson:"project"`
	SpecTitle   string             `bson:"specTitle,omitempty"`
	SpecVersion string             `bson:"specVersion,omitempty"`
	Duration    *float64           `bson:"duration,omitempty"`
	Success     bool               `bson:"success"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
	Extra       bson.M             `bson:",inline"`
}

type endpointDocument struct {
	Path              string      `bson:"path"`
	Method            string      `bson:"method"`
	OperationID       string      `bson:"operationId,omitempty"`
	Summary           string      `bson:"summary,omitempty"`
	Description       string      `bson:"description,omitempty"`
	Parameters        interface{} `bson:"parameters,omitempty"`
	RequestBodySchema interface{} `bson:"requestBodySchema,omitempty"`
	Responses         interface{} `bson:"responses,omitempty"`
}

// decodeOpaque turns raw JSON into a value the BSON encoder understands.
// Integers that fit in 64 bits stay int64 and larger ones become Decimal128,
// so no integer is rounded through float64.
func decodeOpaque(field string, raw json.RawMessage) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", field, err)
	}

	return fromJSONValue(v), nil
}

func fromJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = fromJSONValue(item)
		}

		return val
	case []interface{}:
		for i, item := range val {
			val[i] = fromJSONValue(item)
		}

		return val
	case json.Number:
		return fromJSONNumber(val)
	default:
		return v
	}
}

func fromJSONNumber(n json.Number) interface{} {
	if i, err := n.Int64(); err == nil {
		return i
	}

	if !strings.ContainsAny(n.String(), ".eE") {
		if d, err := primitive.ParseDecimal128(n.String()); err == nil {
			return d
		}
	}

	if f, err := n.Float64(); err == nil {
		return f
	}

	return n.String()
}

// encodeOpaque turns a decoded BSON value back into raw JSON.
func encodeOpaque(field string, v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(toJSONValue(v))
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", field, err)
	}

	return raw, nil
}

// toJSONValue converts BSON container types into their JSON shapes.
// Embedded documents decode as primitive.D unless the client asks for
// maps, and Decimal128 would otherwise encode as a string.
func toJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = toJSONValue(e.Value)
		}

		return m
	case primitive.M:
		return toJSONMap(val)
	case map[string]interface{}:
		return toJSONMap(val)
	case primitive.A:
		return toJSONSlice(val)
	case []interface{}:
		return toJSONSlice(val)
	case primitive.Decimal128:
		return json.Number(val.String())
	default:
		return v
	}
}

func toJSONMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, item := range in {
		out[k] = toJSONValue(item)
	}

	return out
}

func toJSONSlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, item := range in {
		out[i] = toJSONValue(item)
	}

	return out
}

func newResultDocument(r *testresult.TestResult) (*resultDocument, error) {
	doc := &resultDocument{
		Endpoint: endpointDocument{
			Path:        r.Endpoint.Path,
			Method:      r.Endpoint.Method,
			OperationID: r.Endpoint.OperationID,
			Summary:     r.Endpoint.Summary,
			Description: r.Endpoint.Description,
		},
		Status:      r.Status,
		StatusText:  r.StatusText,
		Timestamp:   r.Timestamp.UTC(),
		Project:     r.Project,
		SpecTitle:   r.SpecTitle,
		SpecVersion: r.SpecVersion,
		Duration:    r.Duration,
		Success:     r.Success,
	}

	opaque := []struct {
		name string
		raw  json.RawMessage
		dst  *interface{}
	}{
		{"endpoint.parameters", r.Endpoint.Parameters, &doc.Endpoint.Parameters},
		{"endpoint.requestBodySchema", r.Endpoint.RequestBodySchema, &doc.Endpoint.RequestBodySchema},
		{"endpoint.responses", r.Endpoint.Responses, &doc.Endpoint.Responses},
		{"headers", r.Headers, &doc.Headers},
		{"data", r.Data, &doc.Data},
		{"requestBody", r.RequestBody, &doc.RequestBody},
	}

	for _, o := range opaque {
		v, err := decodeOpaque(o.name, o.raw)
		if err != nil {
			return nil, err
		}

		*o.dst = v
	}

	for key, raw := range r.Extra {
		if testresult.IsReservedField(key) {
			continue
		}

		v, err := decodeOpaque(key, raw)
		if err != nil {
			return nil, err
		}

		if doc.Extra == nil {
			doc.Extra = make(bson.M, len(r.Extra))
		}

		doc.Extra[key] = v
	}

	return doc, nil
}

func (doc *resultDocument) toTestResult() (testresult.TestResult, error) {
	r := testresult.TestResult{
		ID: doc.ID.Hex(),
		Endpoint: testresult.Endpoint{
			Path:        doc.Endpoint.Path,
			Method:      doc.Endpoint.Method,
			OperationID: doc.Endpoint.OperationID,
			Summary:     doc.Endpoint.Summary,
			Description: doc.Endpoint.Description,
		},
		Status:      doc.Status,
		StatusText:  doc.StatusText,
		Timestamp:   doc.Timestamp.UTC(),
		Project:     doc.Project,
		SpecTitle:   doc.SpecTitle,
		SpecVersion: doc.SpecVersion,
		Duration:    doc.Duration,
		Success:     doc.Success,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}

	opaque := []struct {
		name string
		v    interface{}
		dst  *json.RawMessage
	}{
		{"endpoint.parameters", doc.Endpoint.Parameters, &r.Endpoint.Parameters},
		{"endpoint.requestBodySchema", doc.Endpoint.RequestBodySchema, &r.Endpoint.RequestBodySchema},
		{"endpoint.responses", doc.Endpoint.Responses, &r.Endpoint.Responses},
		{"headers", doc.Headers, &r.Headers},
		{"data", doc.Data, &r.Data},
		{"requestBody", doc.RequestBody, &r.RequestBody},
	}

	for _, o := range opaque {
		raw, err := encodeOpaque(o.name, o.v)
		if err != nil {
			return testresult.TestResult{}, err
		}

		*o.dst = raw
	}

	for key, v := range doc.Extra {
		raw, err := encodeOpaque(key, v)
		if err != nil {
			return testresult.TestResult{}, err
		}

		if raw == nil {
			raw = json.RawMessage(jsonNull)
		}

		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage, len(doc.Extra))
		}

		r.Extra[key] = raw
	}

	return r, nil
}
