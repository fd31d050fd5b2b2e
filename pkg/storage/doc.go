// Package storage writes crawled records to one CSV file per partition.
//
// Files are named <code>_<name>_prescription.csv inside the output directory
// and start with the header
//
//	id,name,address,prescription_count,prefecture,scraped_at
//
// which is written exactly once, when the file is created. Appends are
// flushed and fsynced before Append returns, so the caller may advance its
// checkpoint afterwards.
//
// The sink deduplicates by record id. On first use of a partition it scans
// the existing file, so ids written by an earlier, interrupted run are
// suppressed as well. A torn last line left by a crash is cut off during
// that scan.
package storage
