package store

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

// Filter selects test results. Zero-valued fields impose no constraint.
type Filter struct {
	// Method is lower-cased and compared exactly with endpoint.method.
	Method string
	// Path is a case-insensitive substring of endpoint.path.
	Path string
	// Status is compared exactly with the probed status code.
	Status *int
}

func (f Filter) method() string {
	return strings.ToLower(strings.TrimSpace(f.Method))
}

// bsonFilter builds the MongoDB predicate for f.
func (f Filter) bsonFilter() bson.D {
	filter := bson.D{}

	if m := f.method(); m != "" {
		filter = append(filter, bson.E{Key: "endpoint.method", Value: m})
	}

	if f.Path != "" {
		filter = append(filter, bson.E{
			Key:   "endpoint.path",
			Value: primitive.Regex{Pattern: regexp.QuoteMeta(f.Path), Options: "i"},
		})
	}

	if f.Status != nil {
		filter = append(filter, bson.E{Key: "status", Value: *f.Status})
	}

	return filter
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// sqlScope applies f as WHERE clauses on the test_results table.
func (f Filter) sqlScope(db *gorm.DB) *gorm.DB {
	if m := f.method(); m != "" {
		db = db.Where("endpoint_method = ?", m)
	}

	if f.Path != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(f.Path)) + "%"
		db = db.Where(`endpoint_path_folded LIKE ? ESCAPE '\'`, pattern)
	}

	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}

	return db
}

// Page selects a window of a result list. Number is 1-based.
type Page struct {
	Number int
	Limit  int
}

// Offset returns the number of results to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}

	return (p.Number - 1) * p.Limit
}

// Pagination summarizes a paged listing.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// NewPagination computes the pagination summary for total matching results.
func NewPagination(total int64, p Page) Pagination {
	pg := Pagination{
		Total: total,
		Page:  p.Number,
		Limit: p.Limit,
	}

	if p.Limit > 0 {
		pg.Pages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}

	return pg
}
