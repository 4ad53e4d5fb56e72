package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Writer uploads finished objects to Cloud Storage.
type Writer struct {
	client *gcs.Client
}

// NewWriter constructs a Writer backed by the provided Cloud Storage client.
func NewWriter(client *gcs.Client) (*Writer, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &Writer{client: client}, nil
}

// WriteObject stores data under bucket/object. The object is only visible once Close succeeds.
func (w *Writer) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage writer: bucket and object must be provided")
	}

	ow := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	ow.ContentType = contentType
	ow.CacheControl = "private, max-age=0, no-store"
	if _, err := ow.Write(data); err != nil {
		_ = ow.Close()
		return fmt.Errorf("storage writer: write %s: %w", object, err)
	}
	if err := ow.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}
