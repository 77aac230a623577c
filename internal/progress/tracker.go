package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"s3syncdash/internal/model"
)

// Status represents the current upload status as seen locally
type Status struct {
	TotalFiles     int64
	ResolvedFiles  int64
	UploadedFiles  int64
	FailedFiles    int64
	TotalBytes     int64
	UploadedBytes  int64
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentSpeed   float64 // bytes/second over the last few seconds
	AverageSpeed   float64 // bytes/second since start
	ETA            time.Duration
}

// Tracker tracks local upload progress
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
	now          func() time.Time
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
		now:          now,
	}
}

// SetTotal sets the total number of files and bytes and restarts the clock
func (t *Tracker) SetTotal(files, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.now()
	t.status = Status{
		TotalFiles:     files,
		TotalBytes:     bytes,
		StartTime:      start,
		LastUpdateTime: start,
	}
	t.speedSamples = t.speedSamples[:0]
}

// AddUploaded records one uploaded file
func (t *Tracker) AddUploaded(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.UploadedFiles++
	t.status.ResolvedFiles++
	t.status.UploadedBytes += bytes
	t.updateSpeed(bytes)
}

// AddFailed records one failed file
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FailedFiles++
	t.status.ResolvedFiles++
	t.status.LastUpdateTime = t.now()
}

// updateSpeed must be called with lock held
func (t *Tracker) updateSpeed(bytes int64) {
	now := t.now()

	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)
	t.calculateETA()

	t.status.LastUpdateTime = now
}

func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	var recentBytes int64
	var firstSample *speedSample

	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		firstSample = sample
	}

	if firstSample != nil {
		if d := now.Sub(firstSample.timestamp); d > 0 {
			t.status.CurrentSpeed = float64(recentBytes) / d.Seconds()
		}
	}
}

func (t *Tracker) calculateAverageSpeed(now time.Time) {
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.UploadedBytes) / elapsed.Seconds()
	}
}

func (t *Tracker) calculateETA() {
	if t.status.TotalBytes == 0 || t.status.AverageSpeed == 0 {
		t.status.ETA = 0
		return
	}

	remaining := t.status.TotalBytes - t.status.UploadedBytes
	if remaining <= 0 {
		t.status.ETA = 0
		return
	}

	t.status.ETA = time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the uploaded share of files, using the same
// rounding as the session's reported progress
func (t *Tracker) GetProgressPercent() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return model.Percent(t.status.UploadedFiles, t.status.TotalFiles)
}

// GetBytesProgressPercent returns the uploaded share of bytes
func (t *Tracker) GetBytesProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalBytes == 0 {
		return 0
	}

	return float64(t.status.UploadedBytes) / float64(t.status.TotalBytes) * 100
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 1 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
