package models

import "time"

// Record is one facility row of a partition's output
type Record struct {
	ID                string
	Name              string
	Address           string
	PrescriptionCount *int
	Partition         string
	PartitionName     string
	ScrapedAt         time.Time
}

// HasPrescriptionCount reports whether the detail page carried a count
func (r Record) HasPrescriptionCount() bool {
	return r.PrescriptionCount != nil
}

// Session is an open page-fetch session bound to one partition
type Session interface {
	Partition() string
}

// KnownFunc reports whether a record id is already stored for a partition.
// Fetchers skip the detail pages of known ids.
type KnownFunc func(id string) bool

// RawPage is one rendered result page plus the detail pages it links to.
// An empty HTML with HasNext false means Index lies past the last page.
type RawPage struct {
	Partition string
	Index     int
	URL       string
	HTML      string
	// Details holds rendered detail pages keyed by the href found in the list
	Details   map[string]string
	HasNext   bool
	FetchedAt time.Time
}

// PastEnd reports whether the page index was beyond the last result page
func (p RawPage) PastEnd() bool {
	return p.HTML == "" && !p.HasNext
}
