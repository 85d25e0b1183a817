// Package storage adapts object stores (MinIO, S3) behind one interface.
// The pipeline treats file content as a plain byte buffer; streaming is an
// implementation detail of each backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/docingest/docingest/pkg/logger"
)

// Backend selects the object-store implementation.
type Backend string

const (
	BackendMinio Backend = "minio"
	BackendS3    Backend = "s3"
)

// ErrNotFound is returned when the object key does not exist. Any other
// download error is transient from the pipeline's point of view.
var ErrNotFound = errors.New("object not found")

// UploadInfo identifies a stored object.
type UploadInfo struct {
	Key string
	URL string
}

// Storage is the blob-store contract consumed by the upload path and the
// worker. Implementations must be safe for concurrent use.
type Storage interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (UploadInfo, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config holds backend selection and credentials.
type Config struct {
	Backend   Backend
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New builds the configured backend.
func New(cfg Config, log logger.Logger) (Storage, error) {
	switch cfg.Backend {
	case BackendMinio:
		return NewMinioStorage(cfg, log)
	case BackendS3:
		return NewS3Storage(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// NewObjectKey builds a unique object key for an uploaded file:
// documents/{unix-ms}-{rand}-{sanitized-filename}.
func NewObjectKey(filename string) string {
	sanitized := unsafeKeyChars.ReplaceAllString(filename, "_")
	return fmt.Sprintf("documents/%d-%s-%s", time.Now().UnixMilli(), uuid.NewString()[:8], sanitized)
}
