package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker keeps track of run progress across partitions
type StatusTracker struct {
	Done      int
	Total     int
	Records   int
	Pages     int
	StartTime time.Time
}

// NewStatusTracker creates a tracker for total partitions of which done are finished
func NewStatusTracker(done, total int) *StatusTracker {
	return &StatusTracker{
		Done:      done,
		Total:     total,
		StartTime: time.Now(),
	}
}

// AddPage counts a saved page and its records
func (st *StatusTracker) AddPage(records int) {
	st.Pages++
	st.Records += records
}

// PartitionDone counts a partition that reached a terminal state
func (st *StatusTracker) PartitionDone() {
	if st.Done < st.Total {
		st.Done++
	}
}

// Percentage returns the finished share of partitions
func (st *StatusTracker) Percentage() float64 {
	if st.Total == 0 {
		return 0
	}
	return float64(st.Done) / float64(st.Total) * 100
}

// Bar returns a formatted progress bar of the given width
func (st *StatusTracker) Bar(width int) string {
	filled := 0
	if st.Total > 0 {
		filled = st.Done * width / st.Total
	}
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat(ProgressBar, filled),
		strings.Repeat(ProgressEmpty, width-filled),
		st.Done, st.Total)
}

// GetElapsedTime returns the elapsed time since tracking started
func (st *StatusTracker) GetElapsedTime() time.Duration {
	return time.Since(st.StartTime)
}

// GetRecordRate returns the average number of records per minute
func (st *StatusTracker) GetRecordRate() float64 {
	elapsed := st.GetElapsedTime().Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(st.Records) / elapsed
}
