package upload

import (
	"testing"

	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		file   string
		want   string
	}{
		{
			name:   "default prefix",
			prefix: "",
			file:   "test-results-1769791126.json",
			want:   "exports/test-results-1769791126.json",
		},
		{
			name:   "custom prefix",
			prefix: "team-a/evaluations",
			file:   "test-results-1769791126.yaml",
			want:   "team-a/evaluations/test-results-1769791126.yaml",
		},
		{
			name:   "slashes trimmed",
			prefix: "/my-prefix/",
			file:   "/run123.json",
			want:   "my-prefix/run123.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			assert.Equal(t, tt.want, u.resolveKey(tt.file))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "exports/test-results.json",
			wantPrefix: "application/json",
		},
		{
			name:       "yaml file",
			path:       "exports/test-results.yaml",
			wantPrefix: "application/yaml",
		},
		{
			name:       "no extension",
			path:       "exports/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "txt file",
			path:       "exports/notes.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestNewS3Uploader(t *testing.T) {
	_, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{})
	assert.Error(t, err)

	u, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{
		Bucket:         "exports",
		EndpointURL:    "http://localhost:9000",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, u)
}
