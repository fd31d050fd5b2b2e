package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressDisplay prints a single refreshing progress line on terminals and
// one line per finished partition otherwise
type ProgressDisplay struct {
	mu          sync.Mutex
	w           io.Writer
	tracker     *StatusTracker
	interactive bool
	current     string
	page        int
	failed      int
}

// NewProgressDisplay creates a display for a run with done of total partitions finished
func NewProgressDisplay(w io.Writer, done, total int) *ProgressDisplay {
	return &ProgressDisplay{
		w:           w,
		tracker:     NewStatusTracker(done, total),
		interactive: IsTerminal(w),
	}
}

// PageSaved updates the line after a page was checkpointed
func (p *ProgressDisplay) PageSaved(partition string, page, written int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker.AddPage(written)
	p.current = partition
	p.page = page + 1
	if p.interactive && !IsQuietMode() {
		p.printProgress()
	}
}

// PartitionFinished records a partition reaching a terminal state
func (p *ProgressDisplay) PartitionFinished(partition, status string, records int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker.PartitionDone()
	if status == "failed" {
		p.failed++
	}
	if IsQuietMode() {
		return
	}

	if p.interactive {
		fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", 100))
	}
	mark := Green("✓")
	detail := fmt.Sprintf("%d records", records)
	if status == "failed" {
		mark = Red("✗")
		detail = Red(reason)
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n", mark, partition, Dim("•"), detail)
	if p.interactive {
		p.printProgress()
	}
}

// printProgress prints the minimal progress line
func (p *ProgressDisplay) printProgress() {
	line := fmt.Sprintf("\r%s %s p%d • %d records • %.1f/min • %s",
		p.tracker.Bar(20),
		Cyan(p.current),
		p.page,
		p.tracker.Records,
		p.tracker.GetRecordRate(),
		formatDuration(p.tracker.GetElapsedTime()),
	)
	if p.failed > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", p.failed)))
	}
	fmt.Fprintf(p.w, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

// Complete ends the progress line
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interactive && !IsQuietMode() {
		fmt.Fprintln(p.w)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
