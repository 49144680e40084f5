// Package export writes snapshots of stored test results.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apievaluator/resultsapi/pkg/api/store"
	"github.com/apievaluator/resultsapi/pkg/testresult"
	"gopkg.in/yaml.v3"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat resolves a format name. Empty selects JSON.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (json, yaml)", name)
	}
}

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	if f == FormatYAML {
		return ".yaml"
	}

	return ".json"
}

// FileName returns the object name for an export taken at t.
func (f Format) FileName(t time.Time) string {
	return fmt.Sprintf("test-results-%d%s", t.Unix(), f.Extension())
}

// Lister is the store read used to page through results.
type Lister interface {
	ListTestResults(
		ctx context.Context, filter store.Filter, page store.Page,
	) ([]testresult.TestResult, int64, error)
}

// Document is a point-in-time snapshot of matching test results.
type Document struct {
	ExportedAt time.Time               `json:"exportedAt"`
	Total      int64                   `json:"total"`
	Results    []testresult.TestResult `json:"results"`
}

// Collect reads every result matching filter, newest first, pageSize at
// a time.
func Collect(
	ctx context.Context,
	lister Lister,
	filter store.Filter,
	pageSize int,
	now time.Time,
) (*Document, error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	doc := &Document{
		ExportedAt: now.UTC(),
		Results:    make([]testresult.TestResult, 0, pageSize),
	}

	for number := 1; ; number++ {
		results, total, err := lister.ListTestResults(ctx, filter, store.Page{
			Number: number,
			Limit:  pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", number, err)
		}

		doc.Results = append(doc.Results, results...)

		if len(results) < pageSize || int64(len(doc.Results)) >= total {
			break
		}
	}

	doc.Total = int64(len(doc.Results))

	return doc, nil
}

// Encode writes doc to w in the given format.
func Encode(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}

		return nil
	case FormatYAML:
		// Route through JSON so opaque payloads keep their structure
		// instead of being emitted as byte sequences.
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding document: %w", err)
		}

		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("decoding document: %w", err)
		}

		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
