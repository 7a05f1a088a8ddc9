// Package metadatacache serves the coordinator's opaque anime-metadata
// cache (work_root/cache/...) behind a local/s3/hybrid storage
// abstraction, so an operator can point the cache at local disk (default)
// or offload it to S3/MinIO without the pipeline stages knowing which.
package metadatacache

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Cache stores and retrieves opaque metadata blobs keyed by a cache key
// (conventionally "<mal_id>.json").
type Cache interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "local", "s3", "hybrid"

	LocalDir string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
}

// New constructs a Cache per cfg.Backend.
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "local":
		return NewLocal(cfg.LocalDir)

	case "s3":
		return NewS3(ctx, cfg)

	case "hybrid":
		local, err := NewLocal(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("metadatacache: hybrid local leg: %w", err)
		}
		s3, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("metadatacache: hybrid s3 leg: %w", err)
		}
		return NewHybrid(local, s3), nil

	default:
		return nil, fmt.Errorf("metadatacache: unknown backend %q", cfg.Backend)
	}
}

// readAll is a small helper shared by backends that hand back an io.Reader
// internally (S3) but present the Cache interface's []byte contract.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
