package packresolver

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
)

// S3Resolver fetches pack bytes from S3-compatible object storage,
// locators shaped "s3://bucket/key".
type S3Resolver struct {
	client *s3.S3
}

// NewS3Resolver builds an S3Resolver over the default AWS session/config
// chain (environment, shared config, instance profile).
func NewS3Resolver(region string) (*S3Resolver, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "packresolver: failed to build s3 session")
	}
	return &S3Resolver{client: s3.New(sess)}, nil
}

func (r *S3Resolver) Scheme() string { return "s3" }

func (r *S3Resolver) Fetch(ctx context.Context, locator string) ([]byte, error) {
	bucket, key, err := splitBucketKey(locator, "s3://")
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "packresolver: s3 fetch of %s failed", locator)
	}
	defer out.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, errors.Wrap(err, "packresolver: s3 body read failed")
	}
	return buf.Bytes(), nil
}

// splitBucketKey parses "<prefix>bucket/key/with/slashes" into (bucket, key).
func splitBucketKey(locator, prefix string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(locator, prefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.Errorf("packresolver: locator %q must be <scheme>://bucket/key", locator)
	}
	return bucket, key, nil
}
