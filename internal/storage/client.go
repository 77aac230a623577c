package storage

import (
	"context"
	"net/url"
	"time"
)

// Client defines the S3-compatible operations used outside the presigned transfer path
type Client interface {
	// PresignPut returns a URL that allows a single PUT of one object until it expires
	PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (*url.URL, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error)
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Config contains client configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}
