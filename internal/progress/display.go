package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Display periodically renders a Tracker to a writer
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	title    string

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to stdout
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return NewDisplayTo(os.Stdout, tracker, interval)
}

// NewDisplayTo creates a new progress display writing to out
func NewDisplayTo(out io.Writer, tracker *Tracker, interval time.Duration) *Display {
	if interval <= 0 {
		interval = time.Second
	}
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		title:    "Upload progress",
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetTitle changes the heading line, e.g. to include the session id
func (d *Display) SetTitle(title string) {
	d.title = title
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display, prints the summary and waits for the loop to exit
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	<-d.done
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprint(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(status Status) []string {
	lines := make([]string, 0, 16)

	lines = append(lines, "")
	lines = append(lines, d.title)
	lines = append(lines, strings.Repeat("=", 51))

	filePercent := float64(d.tracker.GetProgressPercent())
	lines = append(lines, fmt.Sprintf("Files:   %d/%d resolved, %d uploaded",
		status.ResolvedFiles, status.TotalFiles, status.UploadedFiles))
	lines = append(lines, "    "+generateProgressBar(filePercent, 40))

	bytesPercent := d.tracker.GetBytesProgressPercent()
	lines = append(lines, fmt.Sprintf("Data:    %s/%s",
		FormatBytes(status.UploadedBytes), FormatBytes(status.TotalBytes)))
	lines = append(lines, "    "+generateProgressBar(bytesPercent, 40))

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("  uploaded: %d", status.UploadedFiles))
	lines = append(lines, fmt.Sprintf("  failed:   %d", status.FailedFiles))
	lines = append(lines, fmt.Sprintf("  speed:    %s (avg %s)",
		FormatSpeed(status.CurrentSpeed), FormatSpeed(status.AverageSpeed)))
	lines = append(lines, fmt.Sprintf("  elapsed:  %s", FormatDuration(time.Since(status.StartTime))))
	lines = append(lines, fmt.Sprintf("  eta:      %s", FormatDuration(status.ETA)))
	lines = append(lines, "")

	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		"Upload finished",
		strings.Repeat("=", 51),
		fmt.Sprintf("Files:    %d", status.ResolvedFiles),
		fmt.Sprintf("Data:     %s", FormatBytes(status.UploadedBytes)),
		fmt.Sprintf("Uploaded: %d", status.UploadedFiles),
		fmt.Sprintf("Failed:   %d", status.FailedFiles),
		fmt.Sprintf("Elapsed:  %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("Speed:    %s", FormatSpeed(status.AverageSpeed)),
		"",
	}
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is an interactive terminal
func IsTerminalSupported() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
