package storage

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/models"
	"pharmascraper/pkg/prefecture"
)

// Header is the column layout of every partition file
var Header = []string{"id", "name", "address", "prescription_count", "prefecture", "scraped_at"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options tune the sink
type Options struct {
	// BOM prefixes new files with a UTF-8 byte order mark for spreadsheet tools
	BOM bool
	// SkipMissingCount drops records without a prescription count
	SkipMissingCount bool
}

// AppendResult reports what Append did with a batch
type AppendResult struct {
	Written int
	// WithCount is the number of written records carrying a prescription count
	WithCount  int
	Duplicates int
	// DroppedNoID counts records without id
	DroppedNoID int
	// DroppedNoCount counts records without count when SkipMissingCount is set
	DroppedNoCount int
}

// Dropped is the number of records that were not eligible for writing
func (r AppendResult) Dropped() int {
	return r.DroppedNoID + r.DroppedNoCount
}

type partitionFile struct {
	path string
	seen map[string]bool
	rows int
}

// Sink is the append-only, deduplicating record writer
type Sink struct {
	dir    string
	opts   Options
	logger logger.Logger

	mu    sync.Mutex
	files map[string]*partitionFile
}

// NewSink creates the output directory and verifies it is writable
func NewSink(dir string, opts Options, log logger.Logger) (*Sink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Fatal("open sink", fmt.Errorf("failed to create output directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return nil, errs.Fatal("open sink", fmt.Errorf("output directory %s is not writable: %w", dir, err))
	}
	tmp.Close()
	os.Remove(tmp.Name())

	return &Sink{
		dir:    dir,
		opts:   opts,
		logger: log,
		files:  make(map[string]*partitionFile),
	}, nil
}

// FileName returns the output file name of a partition
func FileName(p prefecture.Prefecture) string {
	return fmt.Sprintf("%s_%s_prescription.csv", p.Code, p.Name)
}

// Path returns the output file path of a partition
func (s *Sink) Path(p prefecture.Prefecture) string {
	return Path(s.dir, p)
}

// Path returns the output file of p inside dir
func Path(dir string, p prefecture.Prefecture) string {
	return filepath.Join(dir, FileName(p))
}

// Append writes the records not seen before for the partition
func (s *Sink) Append(p prefecture.Prefecture, records []models.Record) (AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res AppendResult

	pf, err := s.open(p)
	if err != nil {
		return res, err
	}

	batch := make(map[string]bool, len(records))
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			res.DroppedNoID++
			continue
		}
		if s.opts.SkipMissingCount && !r.HasPrescriptionCount() {
			res.DroppedNoCount++
			continue
		}
		if pf.seen[r.ID] || batch[r.ID] {
			res.Duplicates++
			continue
		}
		batch[r.ID] = true
		rows = append(rows, toRow(p, r))
		if r.HasPrescriptionCount() {
			res.WithCount++
		}
	}

	if len(rows) == 0 {
		return res, nil
	}

	if err := s.write(pf, rows); err != nil {
		res.WithCount = 0
		return res, errs.Fatal("append records", err)
	}

	for id := range batch {
		pf.seen[id] = true
	}
	pf.rows += len(rows)
	res.Written = len(rows)

	s.logger.DebugWithFields("Records appended", map[string]interface{}{
		"partition":  p.Code,
		"written":    res.Written,
		"duplicates": res.Duplicates,
		"total_rows": pf.rows,
	})

	return res, nil
}

// Count returns the number of data rows in the partition file
func (s *Sink) Count(p prefecture.Prefecture) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.open(p)
	if err != nil {
		return 0, err
	}
	return pf.rows, nil
}

// Has reports whether id was already written for the partition
func (s *Sink) Has(p prefecture.Prefecture, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pf, err := s.open(p)
	if err != nil {
		return false
	}
	return pf.seen[id]
}

func toRow(p prefecture.Prefecture, r models.Record) []string {
	count := ""
	if r.PrescriptionCount != nil {
		count = strconv.Itoa(*r.PrescriptionCount)
	}
	name := r.PartitionName
	if name == "" {
		name = p.Name
	}
	scraped := r.ScrapedAt
	if scraped.IsZero() {
		scraped = time.Now()
	}
	return []string{r.ID, r.Name, r.Address, count, name, scraped.Format(time.RFC3339)}
}

// open returns the cached state of a partition file, scanning it on first use
func (s *Sink) open(p prefecture.Prefecture) (*partitionFile, error) {
	if pf, ok := s.files[p.Code]; ok {
		return pf, nil
	}

	pf := &partitionFile{path: s.Path(p), seen: make(map[string]bool)}
	if err := s.scan(pf); err != nil {
		return nil, errs.Fatal("open partition file", err)
	}
	s.files[p.Code] = pf

	if pf.rows > 0 {
		s.logger.InfoWithFields("Existing records found", map[string]interface{}{
			"partition": p.Code,
			"path":      pf.path,
			"rows":      pf.rows,
		})
	}
	return pf, nil
}

// scan seeds the seen-set from an existing file and truncates a torn last line
func (s *Sink) scan(pf *partitionFile) error {
	data, err := os.ReadFile(pf.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", pf.path, err)
	}

	if n := len(data); n > 0 && data[n-1] != '\n' {
		cut := bytes.LastIndexByte(data, '\n') + 1
		s.logger.WarnWithFields("Truncating incomplete last line", map[string]interface{}{
			"path":  pf.path,
			"bytes": n - cut,
		})
		if err := os.Truncate(pf.path, int64(cut)); err != nil {
			return fmt.Errorf("failed to repair %s: %w", pf.path, err)
		}
		data = data[:cut]
	}

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM))))
	reader.FieldsPerRecord = -1

	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", pf.path, err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == Header[0] {
				continue
			}
		}
		if len(row) > 0 && row[0] != "" {
			pf.seen[row[0]] = true
			pf.rows++
		}
	}
	return nil
}

// write appends rows, writing the header first if the file is new or empty
func (s *Sink) write(pf *partitionFile, rows [][]string) error {
	file, err := os.OpenFile(pf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", pf.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", pf.path, err)
	}

	if info.Size() == 0 && s.opts.BOM {
		if _, err := file.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows to %s: %w", pf.path, err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", pf.path, err)
	}
	return file.Close()
}
