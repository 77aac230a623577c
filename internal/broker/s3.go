package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3syncdash/internal/api"
	"s3syncdash/internal/keys"
	"s3syncdash/internal/model"
)

// S3Config configures the locally-signing S3 broker
type S3Config struct {
	Bucket      string
	Region      string
	Profile     string
	EndpointURL string
	AccessKey   string
	SecretKey   string
	Expires     time.Duration
}

// S3Presigner signs PUT URLs locally with aws-sdk-go-v2
type S3Presigner struct {
	presigner *s3.PresignClient
	bucket    string
	expires   time.Duration
	scopes    prefixes
}

// NewS3Presigner loads AWS configuration (static keys, or the named shared profile)
// and creates a presigner
func NewS3Presigner(ctx context.Context, cfg S3Config) (*S3Presigner, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		)))
	} else if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	expires := cfg.Expires
	if expires <= 0 {
		expires = time.Hour
	}

	return &S3Presigner{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		expires:   expires,
	}, nil
}

// Bind implements SessionBinder
func (p *S3Presigner) Bind(session *model.Session) {
	p.scopes.bind(session)
}

// RequestAuthorization implements Broker
func (p *S3Presigner) RequestAuthorization(ctx context.Context, _ api.Credential, sessionID int64, fileKey string) (*model.Authorization, error) {
	prefix, err := p.scopes.lookup(sessionID)
	if err != nil {
		return nil, &AuthorizationError{SessionID: sessionID, Key: fileKey, Err: err}
	}
	fullKey := keys.Join(prefix, fileKey)

	req, err := p.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(fullKey),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return nil, &AuthorizationError{SessionID: sessionID, Key: fileKey, Err: err}
	}

	return &model.Authorization{
		URL:       req.URL,
		FileKey:   fileKey,
		FullKey:   fullKey,
		ExpiresIn: int(p.expires.Seconds()),
	}, nil
}
