// Package gcs archives finished PDFs to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the destination bucket.
type Config struct {
	Bucket string
}

type writerFunc func(ctx context.Context, path, contentType string) io.WriteCloser

// BlobStore uploads objects to one bucket.
type BlobStore struct {
	bucket    string
	newWriter writerFunc
	closer    io.Closer
}

// Open creates a client with application default credentials and checks
// that the bucket is reachable before returning.
func Open(ctx context.Context, cfg Config) (*BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.closer = client
	return store, nil
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return newWithWriter(cfg.Bucket, func(ctx context.Context, path, contentType string) io.WriteCloser {
		w := bucket.Object(path).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}), nil
}

func newWithWriter(bucket string, fn writerFunc) *BlobStore {
	return &BlobStore{bucket: bucket, newWriter: fn}
}

// Close releases the client when the store owns it.
func (s *BlobStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// PutObject streams r into the bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("object path is required")
	}
	w := s.newWriter(ctx, path, contentType)
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
