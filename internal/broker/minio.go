package broker

import (
	"context"
	"time"

	"s3syncdash/internal/api"
	"s3syncdash/internal/keys"
	"s3syncdash/internal/model"
	"s3syncdash/internal/storage"
)

// MinIOPresigner signs PUT URLs locally against an S3-compatible endpoint
type MinIOPresigner struct {
	client  storage.Client
	bucket  string
	expires time.Duration
	scopes  prefixes
}

// NewMinIOPresigner creates a presigner over a storage client
func NewMinIOPresigner(client storage.Client, bucket string, expires time.Duration) *MinIOPresigner {
	if expires <= 0 {
		expires = time.Hour
	}
	return &MinIOPresigner{client: client, bucket: bucket, expires: expires}
}

// Bind implements SessionBinder
func (p *MinIOPresigner) Bind(session *model.Session) {
	p.scopes.bind(session)
}

// RequestAuthorization implements Broker
func (p *MinIOPresigner) RequestAuthorization(ctx context.Context, _ api.Credential, sessionID int64, fileKey string) (*model.Authorization, error) {
	prefix, err := p.scopes.lookup(sessionID)
	if err != nil {
		return nil, &AuthorizationError{SessionID: sessionID, Key: fileKey, Err: err}
	}
	fullKey := keys.Join(prefix, fileKey)

	u, err := p.client.PresignPut(ctx, p.bucket, fullKey, p.expires)
	if err != nil {
		return nil, &AuthorizationError{SessionID: sessionID, Key: fileKey, Err: err}
	}

	return &model.Authorization{
		URL:       u.String(),
		FileKey:   fileKey,
		FullKey:   fullKey,
		ExpiresIn: int(p.expires.Seconds()),
	}, nil
}
