// Package storage holds uploaded document bytes. The local backend is the
// default; the s3 backend targets any S3-compatible object store.
package storage

import (
	"context"
	"fmt"

	"github.com/egtimer/invoice-ai-processor/internal/common"
)

type Storage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New selects a backend from configuration.
func New(cfg common.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStorage(cfg.LocalDir)
	case "s3":
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
