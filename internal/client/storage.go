package client

import (
	"context"
	"io"
	"time"
)

// StorageClient defines the interface for sample and artifact storage.
// Refs handed out by Upload are opaque keys resolvable by the same client.
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
