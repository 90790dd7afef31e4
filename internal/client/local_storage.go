package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage implements StorageClient on the local filesystem. Used when R2
// is not configured (development and tests).
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a local storage client rooted at dir
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{root: dir}, nil
}

// resolve maps a key to a path under the root, rejecting traversal outside it.
func (c *LocalStorage) resolve(key string) (string, error) {
	path := filepath.Join(c.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(c.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return path, nil
}

// Upload writes an object under the root and returns its key as the storage ref
func (c *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	path, err := c.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create dir for %s: %w", key, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", key, err)
	}

	return key, nil
}

// Download reads an object
func (c *LocalStorage) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := c.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", key, err)
	}

	return data, nil
}

// Delete removes an object; deleting a missing object is not an error
func (c *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := c.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", key, err)
	}

	return nil
}

// Exists checks whether an object is present
func (c *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := c.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// GetSignedURL returns a local file URL; there is no access control to sign for.
func (c *LocalStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	path, err := c.resolve(key)
	if err != nil {
		return "", err
	}
	return "file://" + path, nil
}

var _ StorageClient = (*LocalStorage)(nil)
