package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/apievaluator/resultsapi/pkg/testresult"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestFilter_BSONFilter(t *testing.T) {
	status := 404

	tests := []struct {
		name   string
		filter Filter
		want   bson.D
	}{
		{
			name:   "empty filter matches all",
			filter: Filter{},
			want:   bson.D{},
		},
		{
			name:   "method lower-cased",
			filter: Filter{Method: " GET "},
			want:   bson.D{{Key: "endpoint.method", Value: "get"}},
		},
		{
			name:   "path quoted case-insensitive regex",
			filter: Filter{Path: "users/{id}.json"},
			want: bson.D{{
				Key:   "endpoint.path",
				Value: primitive.Regex{Pattern: `users/\{id\}\.json`, Options: "i"},
			}},
		},
		{
			name:   "all clauses",
			filter: Filter{Method: "Post", Path: "orders", Status: &status},
			want: bson.D{
				{Key: "endpoint.method", Value: "post"},
				{Key: "endpoint.path", Value: primitive.Regex{Pattern: "orders", Options: "i"}},
				{Key: "status", Value: 404},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.bsonFilter())
		})
	}
}

func TestPathStatsPipeline_LimitsAndSorts(t *testing.T) {
	pipeline := pathStatsPipeline(bson.D{})
	require.Len(t, pipeline, 4)

	assert.Equal(t, "$sort", pipeline[2][0].Key)
	assert.Equal(t, bson.D{
		{Key: "count", Value: -1},
		{Key: "_id", Value: 1},
	}, pipeline[2][0].Value)
	assert.Equal(t, bson.E{Key: "$limit", Value: topPathsLimit}, pipeline[3][0])
}

func TestMethodStatsPipeline_GroupsByMethod(t *testing.T) {
	match := bson.D{{Key: "status", Value: 200}}
	pipeline := methodStatsPipeline(match)
	require.Len(t, pipeline, 3)

	assert.Equal(t, bson.E{Key: "$match", Value: match}, pipeline[0][0])

	group, ok := pipeline[1][0].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.E{Key: "_id", Value: "$endpoint.method"}, group[0])
}

func TestResultDocument_RoundTrip(t *testing.T) {
	duration := 10.0
	in := testresult.TestResult{
		Endpoint: testresult.Endpoint{
			Path:       "/pets",
			Method:     "post",
			Parameters: json.RawMessage(`[{"name":"limit","in":"query"}]`),
		},
		Status:      201,
		Headers:     json.RawMessage(`{"location":"/pets/1"}`),
		Data:        json.RawMessage(`"created"`),
		RequestBody: json.RawMessage(`{"name":"rex","tags":["a","b"]}`),
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Project:     "p",
		Duration:    &duration,
		Success:     true,
	}

	doc, err := newResultDocument(&in)
	require.NoError(t, err)
	assert.Nil(t, doc.Endpoint.Responses)

	doc.ID = primitive.NewObjectID()

	out, err := doc.toTestResult()
	require.NoError(t, err)

	assert.Equal(t, doc.ID.Hex(), out.ID)
	assert.JSONEq(t, string(in.Endpoint.Parameters), string(out.Endpoint.Parameters))
	assert.JSONEq(t, string(in.Headers), string(out.Headers))
	assert.JSONEq(t, string(in.Data), string(out.Data))
	assert.JSONEq(t, string(in.RequestBody), string(out.RequestBody))
	assert.Nil(t, out.Endpoint.Responses)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	assert.True(t, out.Success)
}

func TestResultDocument_BSONCodecRoundTrip(t *testing.T) {
	in := testresult.TestResult{
		Endpoint: testresult.Endpoint{
			Path:   "/users",
			Method: "get",
			Parameters: json.RawMessage(
				`[{"name":"id","in":"path","schema":{"type":"integer","maximum":9007199254740993}}]`,
			),
			RequestBodySchema: json.RawMessage(
				`{"type":"object","properties":{"tags":{"type":"array","items":{"type":"string"}}}}`,
			),
		},
		Status:  200,
		Headers: json.RawMessage(`{"x-trace":["a","b"],"x-meta":{"deep":{"n":1}}}`),
		Data:    json.RawMessage(`9007199254740993`),
		RequestBody: json.RawMessage(
			`{"big":123456789012345678901234567890,"ratio":0.1,"neg":-42,"ok":true,"none":null,"list":[1,"two",{"three":3}]}`,
		),
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Project:   "p",
		Success:   true,
		Extra: map[string]json.RawMessage{
			"runId":  json.RawMessage(`"r-42"`),
			"labels": json.RawMessage(`{"team":"payments","attempts":[1,2,3],"seq":9007199254740993}`),
		},
	}

	doc, err := newResultDocument(&in)
	require.NoError(t, err)

	doc.ID = primitive.NewObjectID()

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	stored := bson.Raw(raw)
	assert.Equal(t, bsontype.Int64, stored.Lookup("data").Type)
	assert.Equal(t, bsontype.Decimal128, stored.Lookup("requestBody", "big").Type)
	assert.Equal(t, bsontype.Double, stored.Lookup("requestBody", "ratio").Type)
	assert.Equal(t, bsontype.Array, stored.Lookup("requestBody", "list").Type)
	assert.Equal(t, bsontype.EmbeddedDocument, stored.Lookup("headers", "x-meta").Type)
	assert.Equal(t, "r-42", stored.Lookup("runId").StringValue(), "extra fields are stored top-level")

	decoders := map[string]func(v interface{}) error{
		"default documents": func(v interface{}) error { return bson.Unmarshal(raw, v) },
		"documents as maps": func(v interface{}) error {
			dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(raw))
			if err != nil {
				return err
			}

			dec.DefaultDocumentM()

			return dec.Decode(v)
		},
	}

	for name, decodeInto := range decoders {
		t.Run(name, func(t *testing.T) {
			var decoded resultDocument
			require.NoError(t, decodeInto(&decoded))

			out, err := decoded.toTestResult()
			require.NoError(t, err)

			assert.Equal(t, doc.ID.Hex(), out.ID)
			assert.JSONEq(t, string(in.Endpoint.Parameters), string(out.Endpoint.Parameters))
			assert.JSONEq(t, string(in.Endpoint.RequestBodySchema), string(out.Endpoint.RequestBodySchema))
			assert.JSONEq(t, string(in.Headers), string(out.Headers))
			assert.JSONEq(t, string(in.RequestBody), string(out.RequestBody))
			assert.Nil(t, out.Endpoint.Responses)

			// JSONEq compares through float64, so integer precision is checked on the text.
			assert.Equal(t, "9007199254740993", string(out.Data))
			assert.Contains(t, string(out.Endpoint.Parameters), "9007199254740993")
			assert.Contains(t, string(out.RequestBody), `"big":123456789012345678901234567890`)
			assert.Contains(t, string(out.RequestBody), `"ratio":0.1`)

			require.Len(t, out.Extra, 2)
			assert.JSONEq(t, `"r-42"`, string(out.Extra["runId"]))
			assert.JSONEq(t, string(in.Extra["labels"]), string(out.Extra["labels"]))
			assert.Contains(t, string(out.Extra["labels"]), "9007199254740993")

			assert.True(t, in.Timestamp.Equal(out.Timestamp))
			assert.True(t, out.Success)
		})
	}
}

func TestStatsDocuments_Decode(t *testing.T) {
	ctx := context.Background()

	methods, err := mongo.NewCursorFromDocuments([]interface{}{
		bson.D{{Key: "_id", Value: "get"}, {Key: "count", Value: int32(3)}, {Key: "successful", Value: int32(2)}},
		bson.D{{Key: "_id", Value: "post"}, {Key: "count", Value: int64(1)}, {Key: "successful", Value: int32(0)}},
	}, nil, nil)
	require.NoError(t, err)

	paths, err := mongo.NewCursorFromDocuments([]interface{}{
		bson.D{{Key: "_id", Value: "/users"}, {Key: "count", Value: int32(2)}, {Key: "avgStatus", Value: 150.5}},
		bson.D{{Key: "_id", Value: "/pets"}, {Key: "count", Value: int32(1)}, {Key: "avgStatus", Value: 404.0}},
	}, nil, nil)
	require.NoError(t, err)

	var stats Stats
	require.NoError(t, methods.All(ctx, &stats.ByMethod))
	require.NoError(t, paths.All(ctx, &stats.TopPaths))

	assert.Equal(t, []MethodStats{
		{Method: "get", Count: 3, Successful: 2},
		{Method: "post", Count: 1, Successful: 0},
	}, stats.ByMethod)
	assert.Equal(t, []PathStats{
		{Path: "/users", Count: 2, AvgStatus: 150.5},
		{Path: "/pets", Count: 1, AvgStatus: 404},
	}, stats.TopPaths)
}

func TestResultDocument_RejectsInvalidJSON(t *testing.T) {
	in := testresult.TestResult{Headers: json.RawMessage(`{not json`)}

	_, err := newResultDocument(&in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "headers")
}

func TestMongoStore_ValidatesIDBeforeConnecting(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := newMongoStore(log, &config.DatabaseConfig{Driver: config.DriverMongoDB})
	ctx := context.Background()

	_, err := s.GetTestResult(ctx, "nope")
	require.ErrorIs(t, err, ErrInvalidID)

	require.ErrorIs(t, s.DeleteTestResult(ctx, "nope"), ErrInvalidID)

	_, err = s.GetTestResult(ctx, primitive.NewObjectID().Hex())
	require.ErrorIs(t, err, ErrNotConnected)

	require.ErrorIs(t, s.Ping(ctx), ErrNotConnected)
	require.NoError(t, s.Stop())
}

func TestStats_Finalize(t *testing.T) {
	empty := Stats{}
	empty.finalize()
	assert.Zero(t, empty.SuccessRate)
	assert.Zero(t, empty.Failed)
	assert.NotNil(t, empty.ByMethod)

	s := Stats{Total: 4, Successful: 3}
	s.finalize()
	assert.Equal(t, int64(1), s.Failed)
	assert.InDelta(t, 75.0, s.SuccessRate, 0.0001)
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		page  Page
		want  Pagination
	}{
		{name: "empty", total: 0, page: Page{Number: 1, Limit: 100}, want: Pagination{Total: 0, Page: 1, Limit: 100, Pages: 0}},
		{name: "exact", total: 200, page: Page{Number: 2, Limit: 100}, want: Pagination{Total: 200, Page: 2, Limit: 100, Pages: 2}},
		{name: "rounds up", total: 201, page: Page{Number: 1, Limit: 100}, want: Pagination{Total: 201, Page: 1, Limit: 100, Pages: 3}},
		{name: "single", total: 1, page: Page{Number: 1, Limit: 1}, want: Pagination{Total: 1, Page: 1, Limit: 1, Pages: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPagination(tt.total, tt.page))
		})
	}

	assert.Equal(t, 20, Page{Number: 3, Limit: 10}.Offset())
	assert.Equal(t, 0, Page{Number: 1, Limit: 10}.Offset())
}
