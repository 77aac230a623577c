package orchestrator

import (
	"fmt"

	"s3syncdash/internal/model"
)

// ValidationError reports a missing or invalid selection, detected before any network call
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReconciliationError reports that the terminal status patch failed after every file
// was attempted. The persisted session keeps whatever status the repository last held.
type ReconciliationError struct {
	SessionID int64
	Status    model.SessionStatus
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("failed to set session %d to %s: %v", e.SessionID, e.Status, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
