// Package stats accumulates run-wide counters and per-partition summaries and
// persists them to statistics.json.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/storage"
)

// FileName is the statistics document inside the output directory
const FileName = "statistics.json"

// PartitionSummary is the per-partition part of RunStatistics
type PartitionSummary struct {
	Count     int    `json:"count"`
	WithCount int    `json:"withCount"`
	Errors    int    `json:"errors"`
	Retries   int    `json:"retries"`
	Status    string `json:"status,omitempty"`
}

// RunStatistics is the finalized snapshot of one run
type RunStatistics struct {
	RunID                           string                       `json:"runId"`
	StartedAt                       time.Time                    `json:"startedAt"`
	EndedAt                         *time.Time                   `json:"endedAt,omitempty"`
	DurationSeconds                 float64                      `json:"durationSeconds"`
	DurationHuman                   string                       `json:"durationHuman"`
	TotalRecords                    int                          `json:"totalRecords"`
	RecordsWithPrescriptionCount    int                          `json:"recordsWithPrescriptionCount"`
	RecordsWithoutPrescriptionCount int                          `json:"recordsWithoutPrescriptionCount"`
	ErrorCount                      int                          `json:"errorCount"`
	SkippedCount                    int                          `json:"skippedCount"`
	RetryCount                      int                          `json:"retryCount"`
	Cancelled                       bool                         `json:"cancelled"`
	PerPartition                    map[string]*PartitionSummary `json:"perPartition"`
}

// Partitions returns the partition ids in crawl order
func (s RunStatistics) Partitions() []string {
	ids := make([]string, 0, len(s.PerPartition))
	for id := range s.PerPartition {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregator collects counters during a run. It is safe for concurrent use so
// the progress line and metrics endpoint can read while the crawl writes.
type Aggregator struct {
	mu        sync.Mutex
	stats     RunStatistics
	finalized bool
	now       func() time.Time
}

// NewAggregator starts a fresh run
func NewAggregator() *Aggregator {
	a := &Aggregator{now: time.Now}
	a.stats = RunStatistics{
		RunID:        uuid.NewString(),
		StartedAt:    a.now(),
		PerPartition: make(map[string]*PartitionSummary),
	}
	return a
}

func (a *Aggregator) partition(id string) *PartitionSummary {
	p, ok := a.stats.PerPartition[id]
	if !ok {
		p = &PartitionSummary{}
		a.stats.PerPartition[id] = p
	}
	return p
}

// Record adds the outcome of one page attempt: records added and failed attempts
func (a *Aggregator) Record(partition string, added, errorsThisAttempt int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.partition(partition)
	p.Count += added
	p.Errors += errorsThisAttempt
	a.stats.TotalRecords += added
}

// RecordPrescriptionCounts splits written records by whether they carry a count
func (a *Aggregator) RecordPrescriptionCounts(partition string, with, without int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partition(partition).WithCount += with
	a.stats.RecordsWithPrescriptionCount += with
	a.stats.RecordsWithoutPrescriptionCount += without
}

// Retry counts a scheduled retry of a transient failure
func (a *Aggregator) Retry(partition string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partition(partition).Retries++
	a.stats.RetryCount++
}

// Skip counts records or pages left out of the output
func (a *Aggregator) Skip(partition string, n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partition(partition)
	a.stats.SkippedCount += n
}

// HardError counts an error that was not resolved by retrying
func (a *Aggregator) HardError(partition string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partition(partition)
	a.stats.ErrorCount++
}

// SetStatus records the final status of a partition in this run
func (a *Aggregator) SetStatus(partition, status string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partition(partition).Status = status
}

// MarkCancelled flags the run as interrupted
func (a *Aggregator) MarkCancelled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Cancelled = true
}

// Snapshot returns a copy of the current counters without ending the run
func (a *Aggregator) Snapshot() RunStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}

// Finalize sets endedAt and the derived durations. Calling it again returns
// the same snapshot.
func (a *Aggregator) Finalize() RunStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finalized {
		end := a.now()
		elapsed := end.Sub(a.stats.StartedAt)
		a.stats.EndedAt = &end
		a.stats.DurationSeconds = elapsed.Seconds()
		a.stats.DurationHuman = elapsed.Round(time.Second).String()
		a.finalized = true
	}
	return a.copyLocked()
}

func (a *Aggregator) copyLocked() RunStatistics {
	out := a.stats
	if a.stats.EndedAt != nil {
		end := *a.stats.EndedAt
		out.EndedAt = &end
	}
	out.PerPartition = make(map[string]*PartitionSummary, len(a.stats.PerPartition))
	for id, p := range a.stats.PerPartition {
		cp := *p
		out.PerPartition[id] = &cp
	}
	return out
}

// Save writes the statistics atomically to statistics.json in dir
func Save(dir string, s RunStatistics, log logger.Logger) error {
	path := filepath.Join(dir, FileName)
	if err := storage.WriteJSONAtomic(path, s); err != nil {
		return errs.Fatal("save statistics", err)
	}
	if log != nil {
		log.InfoWithFields("Statistics saved", map[string]interface{}{
			"path":          path,
			"run_id":        s.RunID,
			"total_records": s.TotalRecords,
		})
	}
	return nil
}

// Load reads the statistics of the last run from dir
func Load(dir string) (RunStatistics, error) {
	var s RunStatistics
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return s, nil
}

// Summary returns a one-line description for the run log
func (s RunStatistics) Summary() string {
	return fmt.Sprintf("%d records (%d with count), %d errors, %d skipped, %d retries",
		s.TotalRecords, s.RecordsWithPrescriptionCount, s.ErrorCount, s.SkippedCount, s.RetryCount)
}
