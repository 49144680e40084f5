package upload

import (
	"context"
	"io"
)

// Uploader stores exported documents in remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload stores body as name under the configured remote prefix and
	// returns the resulting object key.
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
}
