package storage

import (
	"context"
	"fmt"
)

const (
	BackendMinIO  = "minio"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Open builds the backend named by backend and makes sure its bucket exists.
func Open(ctx context.Context, backend string, cfg *Config) (Storage, error) {
	switch backend {
	case BackendMinIO:
		s, err := NewMinIOStorage(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case BackendS3:
		s, err := NewS3Storage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
