package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionPending, SessionInProgress, true},
		{SessionPending, SessionCompleted, true},
		{SessionPending, SessionFailed, true},
		{SessionInProgress, SessionCompleted, true},
		{SessionInProgress, SessionFailed, true},
		{SessionInProgress, SessionPending, false},
		{SessionPending, SessionPending, false},
		{SessionCompleted, SessionFailed, false},
		{SessionFailed, SessionCompleted, false},
		{SessionCompleted, SessionInProgress, false},
		{SessionPending, "cancelled", false},
		{"bogus", SessionCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total int64
		want        int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{1, 200, 1},
		{199, 200, 100},
		{10, 10, 100},
		{12, 10, 100},
		{-1, 10, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.done, tt.total), "%d/%d", tt.done, tt.total)
	}

	s := &Session{FilesUploaded: 3, TotalFiles: 4}
	assert.Equal(t, 75, s.ProgressPercent())
}

func TestCycleSelectable(t *testing.T) {
	assert.True(t, (&Cycle{Status: CyclePending}).Selectable())
	assert.True(t, (&Cycle{Status: CycleIncomplete}).Selectable())
	assert.False(t, (&Cycle{Status: CycleCompleted}).Selectable())
}

func TestFileStateString(t *testing.T) {
	assert.Equal(t, "pending", FilePending.String())
	assert.Equal(t, "uploaded", FileUploaded.String())
	assert.Equal(t, "failed", FileFailed.String())
	assert.Equal(t, "unknown", FileState(9).String())
}
