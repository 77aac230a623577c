package broker

import (
	"context"
	"errors"

	"s3syncdash/internal/api"
	"s3syncdash/internal/model"
)

// Authorizer is the subset of the API client used by APIBroker
type Authorizer interface {
	RequestAuthorization(ctx context.Context, cred api.Credential, sessionID int64, fileKey string) (*model.Authorization, error)
}

// APIBroker requests presigned URLs from the dashboard API
type APIBroker struct {
	client Authorizer
}

// NewAPIBroker creates a broker backed by the dashboard API
func NewAPIBroker(client Authorizer) *APIBroker {
	return &APIBroker{client: client}
}

// RequestAuthorization implements Broker
func (b *APIBroker) RequestAuthorization(ctx context.Context, cred api.Credential, sessionID int64, fileKey string) (*model.Authorization, error) {
	auth, err := b.client.RequestAuthorization(ctx, cred, sessionID, fileKey)
	if err != nil {
		authErr := &AuthorizationError{SessionID: sessionID, Key: fileKey, Err: err}
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			authErr.StatusCode = statusErr.StatusCode
		}
		return nil, authErr
	}
	if auth.URL == "" {
		return nil, &AuthorizationError{SessionID: sessionID, Key: fileKey, Err: errors.New("empty presigned url")}
	}
	return auth, nil
}
