package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements the Client interface using minio-go
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOClient creates a new MinIO client
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	endpoint, scheme, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	secure := cfg.Secure
	if scheme != nil {
		secure = *scheme
	}

	// A fixed region keeps presigning offline (no bucket location lookup)
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client}, nil
}

// parseEndpoint splits an endpoint into host:port and, when a scheme is
// present, whether it asks for TLS. A bare host leaves the choice to the caller.
func parseEndpoint(endpoint string) (host string, secure *bool, err error) {
	if endpoint == "" {
		return "", nil, fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.Contains(endpoint, "://") {
		if strings.Contains(endpoint, "/") {
			return "", nil, fmt.Errorf("endpoint %q has a path but no scheme", endpoint)
		}
		return endpoint, nil, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return "", nil, fmt.Errorf("endpoint must be host[:port], got path %q", u.Path)
	}
	if u.Host == "" {
		return "", nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}

	tls := u.Scheme == "https"
	return u.Host, &tls, nil
}

// PresignPut generates a presigned PUT URL
func (c *MinIOClient) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (*url.URL, error) {
	return c.client.PresignedPutObject(ctx, bucket, key, expires)
}

// BucketExists checks whether the bucket is reachable with the configured credentials
func (c *MinIOClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.client.BucketExists(ctx, bucket)
}

// ListObjects lists objects with prefix
func (c *MinIOClient) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				errCh <- obj.Err
				return
			}

			select {
			case objCh <- ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}
