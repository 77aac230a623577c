package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTrackerCounts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := newTracker(clock.now)
	tr.SetTotal(3, 300)

	clock.advance(time.Second)
	tr.AddUploaded(100)
	clock.advance(time.Second)
	tr.AddFailed()

	s := tr.GetStatus()
	assert.Equal(t, int64(2), s.ResolvedFiles)
	assert.Equal(t, int64(1), s.UploadedFiles)
	assert.Equal(t, int64(1), s.FailedFiles)
	assert.Equal(t, int64(100), s.UploadedBytes)
	assert.InDelta(t, 100.0, s.AverageSpeed, 0.001)
	assert.Equal(t, 2*time.Second, s.ETA)

	assert.Equal(t, 33, tr.GetProgressPercent())
	assert.InDelta(t, 33.33, tr.GetBytesProgressPercent(), 0.01)
}

func TestTrackerEmptyTotals(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, 0, tr.GetProgressPercent())
	assert.Equal(t, 0.0, tr.GetBytesProgressPercent())
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "1.0 KiB/s", FormatSpeed(1024))
	assert.Equal(t, "2.0 MiB", FormatBytes(2*1024*1024))
	assert.Equal(t, "calculating...", FormatDuration(0))
	assert.Equal(t, "1h2m3s", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[██░░] 50.0%", generateProgressBar(50, 4))
	assert.Equal(t, "[████] 100.0%", generateProgressBar(150, 4))
}

func TestDisplayStopPrintsSummary(t *testing.T) {
	tr := NewTracker()
	tr.SetTotal(2, 10)
	tr.AddUploaded(10)
	tr.AddFailed()

	var buf bytes.Buffer
	d := NewDisplayTo(&buf, tr, time.Hour)
	d.Start()
	d.Stop()
	d.Stop()

	out := buf.String()
	require.True(t, strings.Contains(out, "Upload finished"), out)
	assert.Contains(t, out, "Uploaded: 1")
	assert.Contains(t, out, "Failed:   1")
}
