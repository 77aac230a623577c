package api

import (
	"context"
	"fmt"
	"net/http"

	"s3syncdash/internal/model"
)

// CreateSessionRequest is the body of a session creation request
type CreateSessionRequest struct {
	ProjectID int64  `json:"project_id"`
	CycleID   *int64 `json:"cycle_id,omitempty"`
	model.SessionConfig
}

type updateSessionRequest struct {
	Status model.SessionStatus `json:"status"`
}

type presignRequest struct {
	SessionID int64  `json:"session_id"`
	FileKey   string `json:"file_key"`
}

// CreateSession creates a session record; the response carries the authoritative id
func (c *Client) CreateSession(ctx context.Context, cred Credential, req CreateSessionRequest) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, cred, http.MethodPost, "sessions/", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSessionStatus patches the status of a session
func (c *Client) UpdateSessionStatus(ctx context.Context, cred Credential, id int64, status model.SessionStatus) (*model.Session, error) {
	var session model.Session
	path := fmt.Sprintf("sessions/%d", id)
	if err := c.do(ctx, cred, http.MethodPut, path, updateSessionRequest{Status: status}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches the current state of a session
func (c *Client) GetSession(ctx context.Context, cred Credential, id int64) (*model.Session, error) {
	var session model.Session
	if err := c.do(ctx, cred, http.MethodGet, fmt.Sprintf("sessions/%d", id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RequestAuthorization asks the API for a presigned upload URL for one file of a session
func (c *Client) RequestAuthorization(ctx context.Context, cred Credential, sessionID int64, fileKey string) (*model.Authorization, error) {
	var auth model.Authorization
	req := presignRequest{SessionID: sessionID, FileKey: fileKey}
	if err := c.do(ctx, cred, http.MethodPost, "uploads/presigned-url", req, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// GetProject fetches a project
func (c *Client) GetProject(ctx context.Context, cred Credential, id int64) (*model.Project, error) {
	var project model.Project
	if err := c.do(ctx, cred, http.MethodGet, fmt.Sprintf("projects/%d", id), nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetCycle fetches a cycle
func (c *Client) GetCycle(ctx context.Context, cred Credential, id int64) (*model.Cycle, error) {
	var cycle model.Cycle
	if err := c.do(ctx, cred, http.MethodGet, fmt.Sprintf("cycles/%d", id), nil, &cycle); err != nil {
		return nil, err
	}
	return &cycle, nil
}
