package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("storage: file not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Storage is the blob store holding uploaded climb videos.
type Storage interface {
	// Put writes reader under key and returns the retrieval reference.
	Put(ctx context.Context, key string, reader io.Reader, contentType string, size int64) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	HealthCheck(ctx context.Context) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// PublicURL overrides Endpoint as the base of returned references.
	PublicURL string
}

const videoPrefix = "videos/"

// NewVideoKey returns a unique key for an upload, keeping the extension of
// the original filename.
func NewVideoKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return videoPrefix + uuid.NewString() + ext
}

// ObjectURL joins base, bucket and key into a path-style reference.
func ObjectURL(base, bucket, key string) string {
	base = strings.TrimSuffix(base, "/")
	return base + "/" + path.Join(bucket, key)
}

// splitEndpoint accepts either host:port or a full URL and returns the host
// and whether TLS is implied by the scheme.
func splitEndpoint(endpoint string, useSSL bool) (host string, secure bool, base string, err error) {
	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		return endpoint, useSSL, scheme + "://" + endpoint, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	secure = u.Scheme == "https"
	return u.Host, secure, u.Scheme + "://" + u.Host, nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
