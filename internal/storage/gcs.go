package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBackend stores objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a client from application default credentials, or from
// credentialsFile when set.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCSBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{client: client, bucket: bucket}, nil
}

func (g *GCSBackend) Close() error {
	return g.client.Close()
}

func (g *GCSBackend) object(path string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(strings.TrimPrefix(path, "/"))
}

func (g *GCSBackend) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := g.object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload: %w", err)
	}
	return nil
}

func (g *GCSBackend) Get(ctx context.Context, path string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	r, err := g.object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("download failed: gs://%s/%s does not exist", g.bucket, path)
	}
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	return nil
}

// URL returns a V4 signed GET URL valid for an hour.
func (g *GCSBackend) URL(ctx context.Context, path string) (string, error) {
	url, err := g.client.Bucket(g.bucket).SignedURL(strings.TrimPrefix(path, "/"), &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(signedURLExpiry * time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL: %w", err)
	}
	return url, nil
}
