package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmascraper/pkg/logger"
)

func newTestAggregator(start time.Time) (*Aggregator, *time.Time) {
	clock := start
	a := NewAggregator()
	a.now = func() time.Time { return clock }
	a.stats.StartedAt = start
	return a, &clock
}

func TestAggregatorTotals(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	a, clock := newTestAggregator(start)

	// partition 13: 10, 10 (after one timeout), 5
	a.Record("13", 10, 0)
	a.Record("13", 0, 1)
	a.Retry("13")
	a.Record("13", 10, 0)
	a.Record("13", 5, 0)
	a.RecordPrescriptionCounts("13", 20, 5)
	a.SetStatus("13", "completed")

	// partition 01: one parse failure, then exhausted retries
	a.Record("01", 0, 1)
	a.HardError("01")
	a.Skip("01", 1)
	for i := 0; i < 3; i++ {
		a.Record("01", 0, 1)
	}
	a.Retry("01")
	a.Retry("01")
	a.HardError("01")
	a.SetStatus("01", "failed")

	a.Skip("13", 2)
	a.Skip("13", 0)

	*clock = start.Add(90 * time.Minute)
	s := a.Finalize()

	assert.Equal(t, 25, s.TotalRecords)
	assert.Equal(t, 20, s.RecordsWithPrescriptionCount)
	assert.Equal(t, 5, s.RecordsWithoutPrescriptionCount)
	assert.Equal(t, 2, s.ErrorCount)
	assert.Equal(t, 3, s.SkippedCount)
	assert.Equal(t, 3, s.RetryCount)

	assert.Equal(t, []string{"01", "13"}, s.Partitions())
	assert.Equal(t, PartitionSummary{Count: 25, WithCount: 20, Errors: 1, Retries: 1, Status: "completed"}, *s.PerPartition["13"])
	assert.Equal(t, PartitionSummary{Errors: 4, Retries: 2, Status: "failed"}, *s.PerPartition["01"])

	require.NotNil(t, s.EndedAt)
	assert.Equal(t, 5400.0, s.DurationSeconds)
	assert.Equal(t, "1h30m0s", s.DurationHuman)
	_, err := uuid.Parse(s.RunID)
	assert.NoError(t, err)
}

func TestFinalizeIsStable(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	a, clock := newTestAggregator(start)
	a.Record("13", 3, 0)

	*clock = start.Add(time.Minute)
	first := a.Finalize()
	*clock = start.Add(time.Hour)
	second := a.Finalize()

	assert.Equal(t, *first.EndedAt, *second.EndedAt)

	// snapshots are copies
	first.PerPartition["13"].Count = 100
	assert.Equal(t, 3, a.Snapshot().PerPartition["13"].Count)
}

func TestSnapshotBeforeFinalize(t *testing.T) {
	a := NewAggregator()
	a.Record("47", 2, 0)

	s := a.Snapshot()
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, 2, s.TotalRecords)
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	a := NewAggregator()
	a.Record("13", 25, 1)
	a.MarkCancelled()
	s := a.Finalize()

	log := logger.NewTestLogger()
	require.NoError(t, Save(dir, s, log))
	assert.True(t, log.HasMessage("Statistics saved"))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, s.RunID, raw["runId"])
	assert.Equal(t, 25.0, raw["totalRecords"])
	assert.Equal(t, true, raw["cancelled"])
	assert.Contains(t, raw, "endedAt")
	per := raw["perPartition"].(map[string]interface{})
	assert.Equal(t, 1.0, per["13"].(map[string]interface{})["errors"])
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.True(t, os.IsNotExist(err))

	a := NewAggregator()
	a.Record("01", 7, 0)
	a.SetStatus("01", "completed")
	saved := a.Finalize()
	require.NoError(t, Save(dir, saved, nil))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, saved.RunID, loaded.RunID)
	assert.Equal(t, 7, loaded.TotalRecords)
	assert.Equal(t, "completed", loaded.PerPartition["01"].Status)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{"), 0644))
	_, err = Load(dir)
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	s := RunStatistics{TotalRecords: 25, RecordsWithPrescriptionCount: 20, ErrorCount: 1, SkippedCount: 2, RetryCount: 3}
	assert.Equal(t, "25 records (20 with count), 1 errors, 2 skipped, 3 retries", s.Summary())
}
