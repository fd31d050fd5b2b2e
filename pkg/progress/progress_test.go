package progress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/prefecture"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s := NewStore(dir, prefecture.Select([]string{"01", "13", "47"}), logger.NewNopLogger())
	fixed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func TestLoadOrInitCreatesPendingDocument(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	doc, err := s.LoadOrInit()
	require.NoError(t, err)

	assert.Equal(t, []string{"01", "13", "47"}, doc.IDs())
	for _, st := range doc {
		assert.Equal(t, StatusPending, st.Status)
		assert.Zero(t, st.PageCursor)
	}
	assert.Equal(t, "東京都", doc["13"].DisplayName)

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.NoError(t, err, "initial document should be persisted")
}

func TestStateMachine(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.LoadOrInit()
	require.NoError(t, err)

	// checkpoint before in-progress is rejected
	err = s.Checkpoint("13", 1, 10)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	require.NoError(t, s.MarkInProgress("13"))
	require.NoError(t, s.MarkInProgress("13"), "second call is a no-op")

	require.NoError(t, s.Checkpoint("13", 1, 10))
	require.NoError(t, s.Checkpoint("13", 2, 20))
	assert.ErrorIs(t, s.Checkpoint("13", 1, 20), errs.ErrInvalidTransition)

	assert.False(t, s.IsDone("13"))
	require.NoError(t, s.MarkCompleted("13"))
	assert.True(t, s.IsDone("13"))

	// terminal states reject further transitions
	assert.ErrorIs(t, s.MarkInProgress("13"), errs.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkFailed("13", "late"), errs.ErrInvalidTransition)
	assert.ErrorIs(t, s.Checkpoint("13", 3, 30), errs.ErrInvalidTransition)

	// a pending partition cannot jump to a terminal state
	assert.ErrorIs(t, s.MarkCompleted("01"), errs.ErrInvalidTransition)

	require.NoError(t, s.MarkInProgress("47"))
	require.NoError(t, s.MarkFailed("47", "timeout error: exhausted 3 attempts"))
	st, ok := s.State("47")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "timeout error: exhausted 3 attempts", st.LastError)

	assert.Error(t, s.MarkInProgress("99"))
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.LoadOrInit()
	require.NoError(t, err)

	require.NoError(t, s.MarkInProgress("01"))
	require.NoError(t, s.Checkpoint("01", 3, 25))
	require.NoError(t, s.MarkCompleted("01"))
	require.NoError(t, s.MarkInProgress("13"))
	require.NoError(t, s.Checkpoint("13", 1, 10))
	want := s.Snapshot()

	reloaded := newTestStore(t, dir)
	got, err := reloaded.LoadOrInit()
	require.NoError(t, err)

	for _, id := range want.IDs() {
		assert.Equal(t, want[id].Status, got[id].Status, id)
		assert.Equal(t, want[id].PageCursor, got[id].PageCursor, id)
		assert.Equal(t, want[id].RecordCount, got[id].RecordCount, id)
		assert.True(t, want[id].UpdatedAt.Equal(got[id].UpdatedAt), id)
	}
}

func TestAtomicSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.LoadOrInit()
	require.NoError(t, err)
	require.NoError(t, s.MarkInProgress("01"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())

	var decoded map[string]PartitionState
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StatusInProgress, decoded["01"].Status)
}

func TestFailedWriteKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.LoadOrInit()
	require.NoError(t, err)
	require.NoError(t, s.MarkInProgress("01"))

	// a directory where the temp file should go makes the write fail
	require.NoError(t, os.Mkdir(s.Path()+".tmp", 0755))

	err = s.Checkpoint("01", 1, 10)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))

	st, _ := s.State("01")
	assert.Equal(t, 0, st.PageCursor, "in-memory state must match disk")

	reloaded := newTestStore(t, dir)
	doc, err := reloaded.LoadOrInit()
	require.NoError(t, err)
	assert.Equal(t, 0, doc["01"].PageCursor)
	assert.Equal(t, StatusInProgress, doc["01"].Status)
}

func TestLegacyDocument(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"01": "DONE", "13": "PARTIAL"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(legacy), 0644))

	s := newTestStore(t, dir)
	doc, err := s.LoadOrInit()
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, doc["01"].Status)
	assert.Equal(t, "北海道", doc["01"].DisplayName)
	assert.Equal(t, StatusPending, doc["13"].Status)
	assert.Equal(t, StatusPending, doc["47"].Status, "unknown partitions are added as pending")
}

func TestCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"01": {`), 0644))

	_, err := newTestStore(t, dir).LoadOrInit()
	assert.Error(t, err)
}

func TestResetAndProgress(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.LoadOrInit()
	require.NoError(t, err)

	require.NoError(t, s.MarkInProgress("01"))
	require.NoError(t, s.Checkpoint("01", 4, 40))
	require.NoError(t, s.MarkFailed("01", "navigation error"))
	require.NoError(t, s.MarkInProgress("13"))
	require.NoError(t, s.MarkCompleted("13"))

	done, total, pct := s.Progress()
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)
	assert.InDelta(t, 66.6, pct, 0.1)

	require.NoError(t, s.Reset("01"))
	st, _ := s.State("01")
	assert.Equal(t, StatusPending, st.Status)
	assert.Zero(t, st.PageCursor)
	assert.Empty(t, st.LastError)

	assert.Error(t, s.Reset("13", "99"))
	st, _ = s.State("13")
	assert.Equal(t, StatusCompleted, st.Status, "failed reset must not apply partially")
}

func TestReadDoesNotCreateDocument(t *testing.T) {
	dir := t.TempDir()

	doc, err := Read(dir)
	require.NoError(t, err)
	assert.Empty(t, doc)
	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))

	s := newTestStore(t, dir)
	_, err = s.LoadOrInit()
	require.NoError(t, err)
	require.NoError(t, s.MarkInProgress("13"))

	doc, err = Read(dir)
	require.NoError(t, err)
	assert.Len(t, doc, 3)
	assert.Equal(t, StatusInProgress, doc["13"].Status)
}
