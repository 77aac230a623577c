package model

import (
	"time"
)

// SessionStatus represents the lifecycle status of an upload session
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Valid reports whether s is one of the known session statuses
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionInProgress, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

func (s SessionStatus) rank() int {
	switch s {
	case SessionPending:
		return 0
	case SessionInProgress:
		return 1
	case SessionCompleted, SessionFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether the forward-only state machine allows from -> to.
// Terminal states never move, and a state never moves backwards.
func CanTransition(from, to SessionStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	return to.rank() > from.rank()
}

// CycleStatus represents the lifecycle status of a cycle
type CycleStatus string

const (
	CyclePending    CycleStatus = "pending"
	CycleInProgress CycleStatus = "in_progress"
	CycleCompleted  CycleStatus = "completed"
	CycleIncomplete CycleStatus = "incomplete"
)

// BrowserUploadSource is the source descriptor used when files do not come from a local directory
const BrowserUploadSource = "browser-upload"

// Project identifies a destination bucket and region for a tenant
type Project struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"company_id"`
	Name        string    `json:"project_name"`
	BucketName  string    `json:"bucket_name"`
	Region      string    `json:"aws_region"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Cycle is a named batch scoped to one project
type Cycle struct {
	ID          int64          `json:"id"`
	ProjectID   int64          `json:"project_id"`
	Name        string         `json:"cycle_name"`
	Number      int            `json:"cycle_number"`
	Prefix      string         `json:"s3_prefix"`
	Status      CycleStatus    `json:"status"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// Selectable reports whether new sessions may target this cycle
func (c *Cycle) Selectable() bool {
	return c.Status != CycleCompleted
}

// SessionConfig is the immutable configuration supplied at session creation
type SessionConfig struct {
	Source      string `json:"local_directory"`
	Prefix      string `json:"s3_prefix"`
	Profile     string `json:"aws_profile"`
	MaxWorkers  int    `json:"max_workers"`
	RetryBudget int    `json:"times_to_retry"`
	UseFind     bool   `json:"use_find"`
}

// Session is one batch-upload execution record
type Session struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	CycleID   *int64 `json:"cycle_id"`
	UserID    *int64 `json:"user_id"`

	SessionConfig

	Status         SessionStatus `json:"status"`
	TotalFiles     int64         `json:"total_files"`
	FilesUploaded  int64         `json:"files_uploaded"`
	FilesFailed    int64         `json:"files_failed"`
	FilesSkipped   int64         `json:"files_skipped"`
	TotalSizeBytes int64         `json:"total_size_bytes"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ProgressPercent returns round(uploaded/total*100) clamped to [0,100], or 0 when total is 0
func (s *Session) ProgressPercent() int {
	return Percent(s.FilesUploaded, s.TotalFiles)
}

// Percent returns round(done/total*100) clamped to [0,100]
func Percent(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	// integer form of math.Round(done*100/total) for non-negative operands
	return int((done*200 + total) / (2 * total))
}

// FileSpec describes one local file selected for upload
type FileSpec struct {
	// RelativePath starts with the selected folder name, e.g. "C1/sub/file.wav"
	RelativePath string
	// LocalPath is the path used to open the file
	LocalPath string
	Size      int64
}

// Authorization is a short-lived, single-use upload grant for one file
type Authorization struct {
	URL       string `json:"presigned_url"`
	FileKey   string `json:"file_key"`
	FullKey   string `json:"full_s3_key"`
	ExpiresIn int    `json:"expires_in"`
}

// FileState is the tri-state per-file progress marker
type FileState int

const (
	FilePending FileState = iota
	FileUploaded
	FileFailed
)

func (s FileState) String() string {
	switch s {
	case FilePending:
		return "pending"
	case FileUploaded:
		return "uploaded"
	case FileFailed:
		return "failed"
	}
	return "unknown"
}

// FileOutcome is the terminal per-file result of one transfer attempt sequence
type FileOutcome struct {
	Key       string
	LocalPath string
	Size      int64
	State     FileState
	Attempts  int
	Err       error
}
