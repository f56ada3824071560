package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/user/tagwatch/internal/config"
)

// GCSUploader uploads screenshots to a Google Cloud Storage bucket,
// grounded directly on tomasbasham-har-capture/internal/storage/gcs.go.
type GCSUploader struct {
	client       *storage.Client
	bucket       string
	signedURLTTL time.Duration
}

// NewGCSUploader creates a GCSUploader for cfg.Bucket. If cfg.CredentialsFile
// is set it's passed through as a client option; otherwise the client falls
// back to application-default credentials.
func NewGCSUploader(ctx context.Context, cfg config.ObjectStoreConfig) (*GCSUploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to create GCS client: %w", err)
	}

	ttl := time.Duration(cfg.SignedURLExpiryMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &GCSUploader{client: client, bucket: cfg.Bucket, signedURLTTL: ttl}, nil
}

// Upload writes content to key in the configured bucket and returns a
// signed URL valid for the configured TTL.
func (u *GCSUploader) Upload(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	obj := u.client.Bucket(u.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("objectstore: upload write failed for %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("objectstore: upload close failed for %q: %w", key, err)
	}

	signedURL, err := u.client.Bucket(u.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(u.signedURLTTL),
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: failed to sign URL for %q: %w", key, err)
	}
	return signedURL, nil
}

// Close releases the underlying GCS client connection.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
