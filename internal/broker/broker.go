// Package broker obtains per-file upload authorizations (presigned URLs).
package broker

import (
	"context"
	"fmt"

	"s3syncdash/internal/api"
	"s3syncdash/internal/model"
)

// Broker issues a short-lived, single-use authorization for one file of one session.
// It is called once per file, immediately before the transfer attempt.
type Broker interface {
	RequestAuthorization(ctx context.Context, cred api.Credential, sessionID int64, fileKey string) (*model.Authorization, error)
}

// SessionBinder is implemented by brokers that sign locally and need the session's
// destination prefix
type SessionBinder interface {
	Bind(session *model.Session)
}

// AuthorizationError reports that no authorization could be obtained for a file
type AuthorizationError struct {
	SessionID  int64
	Key        string
	StatusCode int
	Err        error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization for %q in session %d failed: %v", e.Key, e.SessionID, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code of the failed authorization response, or 0
func (e *AuthorizationError) HTTPStatus() int {
	return e.StatusCode
}
