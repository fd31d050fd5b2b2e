package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/storage"
)

// FileName is the progress document inside the output directory
const FileName = "progress.json"

// legacyDone is how the first version of the tool marked finished partitions
const legacyDone = "DONE"

// Status is the lifecycle state of a partition
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends the partition for this run
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PartitionState tracks one partition
type PartitionState struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Status      Status    `json:"status"`
	PageCursor  int       `json:"page_cursor"`
	RecordCount int       `json:"record_count"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document maps partition id to its state. encoding/json writes map keys
// sorted, which for two-digit codes is also the crawl order.
type Document map[string]*PartitionState

// IDs returns the partition ids in crawl order
func (d Document) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for id, st := range d {
		cp := *st
		out[id] = &cp
	}
	return out
}

// Counts returns the number of partitions in each status
func (d Document) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, st := range d {
		counts[st.Status]++
	}
	return counts
}

// Store is the crash-consistent progress state machine.
// Every mutation is persisted before it returns.
type Store struct {
	path       string
	partitions []prefecture.Prefecture
	logger     logger.Logger
	now        func() time.Time

	mu  sync.Mutex
	doc Document
}

// NewStore creates a store for progress.json in dir covering partitions
func NewStore(dir string, partitions []prefecture.Prefecture, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{
		path:       filepath.Join(dir, FileName),
		partitions: partitions,
		logger:     log,
		now:        time.Now,
	}
}

// Path returns the location of the progress document
func (s *Store) Path() string {
	return s.path
}

// LoadOrInit reads the persisted document, adding any configured partition it
// does not know yet as pending. A missing file yields an all-pending document.
func (s *Store) LoadOrInit() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(s.path)
	if err != nil {
		return nil, err
	}
	loaded := doc != nil
	if doc == nil {
		doc = make(Document, len(s.partitions))
	}

	added := 0
	for _, p := range s.partitions {
		if st, ok := doc[p.Code]; ok {
			if st.DisplayName == "" {
				st.DisplayName = p.Name
			}
			continue
		}
		doc[p.Code] = &PartitionState{
			ID:          p.Code,
			DisplayName: p.Name,
			Status:      StatusPending,
			UpdatedAt:   s.now(),
		}
		added++
	}
	s.doc = doc

	if !loaded || added > 0 {
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	counts := doc.Counts()
	s.logger.InfoWithFields("Progress loaded", map[string]interface{}{
		"path":        s.path,
		"resumed":     loaded,
		"pending":     counts[StatusPending],
		"in_progress": counts[StatusInProgress],
		"completed":   counts[StatusCompleted],
		"failed":      counts[StatusFailed],
	})

	return doc.Clone(), nil
}

// Read loads the progress document of dir without creating or changing it.
// A missing file yields an empty document.
func Read(dir string) (Document, error) {
	doc, err := readDocument(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// readDocument returns nil, nil if the file does not exist
func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode progress file %s: %w", path, err)
	}

	doc := make(Document, len(raw))
	for id, msg := range raw {
		msg = bytes.TrimSpace(msg)
		if len(msg) > 0 && msg[0] == '"' {
			var legacy string
			if err := json.Unmarshal(msg, &legacy); err != nil {
				return nil, fmt.Errorf("failed to decode progress entry %s: %w", id, err)
			}
			st := &PartitionState{ID: id, Status: StatusPending}
			if legacy == legacyDone {
				st.Status = StatusCompleted
			}
			doc[id] = st
			continue
		}
		var st PartitionState
		if err := json.Unmarshal(msg, &st); err != nil {
			return nil, fmt.Errorf("failed to decode progress entry %s: %w", id, err)
		}
		st.ID = id
		doc[id] = &st
	}
	return doc, nil
}

// MarkInProgress moves a pending partition to in-progress. It is a no-op if the
// partition is already in progress.
func (s *Store) MarkInProgress(id string) error {
	return s.mutate(id, func(st *PartitionState) error {
		switch st.Status {
		case StatusInProgress:
			return errNoChange
		case StatusPending:
			st.Status = StatusInProgress
			return nil
		default:
			return invalid(id, st.Status, StatusInProgress)
		}
	})
}

// Checkpoint persists the cursor of the next page to fetch and the number of
// records written so far. Records must already be durable in the sink.
func (s *Store) Checkpoint(id string, pageCursor, recordCount int) error {
	return s.mutate(id, func(st *PartitionState) error {
		if st.Status != StatusInProgress {
			return invalid(id, st.Status, StatusInProgress)
		}
		if pageCursor < st.PageCursor {
			return fmt.Errorf("checkpoint for %s moves cursor backwards (%d -> %d): %w",
				id, st.PageCursor, pageCursor, errs.ErrInvalidTransition)
		}
		st.PageCursor = pageCursor
		st.RecordCount = recordCount
		return nil
	})
}

// MarkCompleted is the successful terminal transition
func (s *Store) MarkCompleted(id string) error {
	return s.mutate(id, func(st *PartitionState) error {
		if st.Status != StatusInProgress {
			return invalid(id, st.Status, StatusCompleted)
		}
		st.Status = StatusCompleted
		st.LastError = ""
		return nil
	})
}

// MarkFailed is the failing terminal transition
func (s *Store) MarkFailed(id, reason string) error {
	return s.mutate(id, func(st *PartitionState) error {
		if st.Status != StatusInProgress {
			return invalid(id, st.Status, StatusFailed)
		}
		st.Status = StatusFailed
		st.LastError = reason
		return nil
	})
}

// Reset returns partitions to pending with a zero cursor. This is the only way
// out of a terminal state.
func (s *Store) Reset(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return fmt.Errorf("progress not loaded")
	}

	prev := s.doc.Clone()
	for _, id := range ids {
		st, ok := s.doc[id]
		if !ok {
			s.doc = prev
			return fmt.Errorf("unknown partition %q", id)
		}
		st.Status = StatusPending
		st.PageCursor = 0
		st.RecordCount = 0
		st.LastError = ""
		st.UpdatedAt = s.now()
	}

	if err := s.save(); err != nil {
		s.doc = prev
		return err
	}

	s.logger.InfoWithFields("Partitions reset", map[string]interface{}{
		"partitions": ids,
	})
	return nil
}

// IsDone reports whether the partition is completed or failed
func (s *Store) IsDone(id string) bool {
	st, ok := s.State(id)
	return ok && st.Status.Terminal()
}

// State returns a copy of the partition state
func (s *Store) State(id string) (PartitionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.doc[id]
	if !ok {
		return PartitionState{}, false
	}
	return *st, true
}

// Snapshot returns a copy of the whole document
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Progress returns how many partitions reached a terminal state
func (s *Store) Progress() (done, total int, percentage float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.doc {
		total++
		if st.Status.Terminal() {
			done++
		}
	}
	if total > 0 {
		percentage = float64(done) / float64(total) * 100
	}
	return done, total, percentage
}

var errNoChange = errors.New("no change")

func invalid(id string, from, to Status) error {
	return fmt.Errorf("partition %s: %s -> %s: %w", id, from, to, errs.ErrInvalidTransition)
}

// mutate applies fn to a copy of the partition state and persists it. The
// in-memory document only changes if the write succeeded.
func (s *Store) mutate(id string, fn func(st *PartitionState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.doc[id]
	if !ok {
		return fmt.Errorf("unknown partition %q", id)
	}

	next := *cur
	if err := fn(&next); err != nil {
		if err == errNoChange {
			return nil
		}
		return err
	}
	next.UpdatedAt = s.now()

	s.doc[id] = &next
	if err := s.save(); err != nil {
		s.doc[id] = cur
		return err
	}

	s.logger.DebugWithFields("Progress saved", map[string]interface{}{
		"partition":    id,
		"status":       string(next.Status),
		"page_cursor":  next.PageCursor,
		"record_count": next.RecordCount,
	})
	return nil
}

// save writes the document atomically: temp file, fsync, rename
func (s *Store) save() error {
	if err := storage.WriteJSONAtomic(s.path, s.doc); err != nil {
		return errs.Fatal("save progress", err)
	}
	return nil
}
