package checkpoint

import (
	"time"
)

// OutcomeStatus is the recorded per-file outcome
type OutcomeStatus string

const (
	StatusPending  OutcomeStatus = "pending"
	StatusUploaded OutcomeStatus = "uploaded"
	StatusFailed   OutcomeStatus = "failed"
)

// OutcomeRecord is one file's outcome within a session
type OutcomeRecord struct {
	SessionID int64         `json:"session_id"`
	Key       string        `json:"file_key"`
	LocalPath string        `json:"local_path"`
	Size      int64         `json:"size"`
	Status    OutcomeStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store defines the interface for the outcome ledger
type Store interface {
	GetOutcome(sessionID int64, key string) (*OutcomeRecord, error)
	SaveOutcome(record *OutcomeRecord) error
	ListOutcomes(sessionID int64) ([]*OutcomeRecord, error)
	ListFailed(sessionID int64) ([]*OutcomeRecord, error)

	Close() error
}
