package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/apievaluator/resultsapi/pkg/api/store"
	"github.com/sirupsen/logrus"
)

// maxPageNumber keeps the computed offset within range.
const maxPageNumber = 1<<31 - 1

// parseFilter reads the optional method, path and status parameters.
func parseFilter(q url.Values) (store.Filter, error) {
	filter := store.Filter{
		Method: q.Get("method"),
		Path:   q.Get("path"),
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := strconv.Atoi(raw)
		if err != nil {
			return store.Filter{}, fmt.Errorf("status must be an integer, got %q", raw)
		}

		filter.Status = &status
	}

	return filter, nil
}

// parsePage reads page and limit. Missing, malformed and non-positive
// values fall back to the defaults; limit is clamped to the maximum.
func (s *server) parsePage(q url.Values) store.Page {
	page := parsePositiveInt(q.Get("page"), 1)
	if page > maxPageNumber {
		page = maxPageNumber
	}

	limit := parsePositiveInt(q.Get("limit"), s.cfg.Pagination.DefaultLimit)
	if limit > s.cfg.Pagination.MaxLimit {
		limit = s.cfg.Pagination.MaxLimit
	}

	return store.Page{Number: page, Limit: limit}
}

func parsePositiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}

	return n
}

// filterFields describes a filter for log entries.
func filterFields(f store.Filter, p store.Page) logrus.Fields {
	fields := logrus.Fields{}

	if f.Method != "" {
		fields["filter_method"] = f.Method
	}

	if f.Path != "" {
		fields["filter_path"] = f.Path
	}

	if f.Status != nil {
		fields["filter_status"] = *f.Status
	}

	if p.Number > 0 {
		fields["page"] = p.Number
		fields["limit"] = p.Limit
	}

	return fields
}
