package packresolver

import (
	"bytes"
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GcsResolver fetches pack bytes from Google Cloud Storage, locators
// shaped "gs://bucket/object".
type GcsResolver struct {
	client *storage.Client
}

// NewGcsResolver builds a GcsResolver over the default application
// credentials.
func NewGcsResolver(ctx context.Context) (*GcsResolver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "packresolver: failed to build gcs client")
	}
	return &GcsResolver{client: client}, nil
}

func (r *GcsResolver) Scheme() string { return "gs" }

func (r *GcsResolver) Fetch(ctx context.Context, locator string) ([]byte, error) {
	bucket, object, err := splitBucketKey(locator, "gs://")
	if err != nil {
		return nil, err
	}
	reader, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "packresolver: gcs fetch of %s failed", locator)
	}
	defer reader.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, reader); err != nil {
		return nil, errors.Wrap(err, "packresolver: gcs body read failed")
	}
	return buf.Bytes(), nil
}
