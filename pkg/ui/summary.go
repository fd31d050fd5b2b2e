package ui

import (
	"fmt"
	"io"
	"strings"

	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/progress"
	"pharmascraper/pkg/stats"
)

// PrintSummary writes the end-of-run statistics block
func PrintSummary(w io.Writer, s stats.RunStatistics) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w)
	fmt.Fprintln(w, Cyan(rule))
	fmt.Fprintf(w, "%s  %s\n", Cyan("RUN SUMMARY"), Dim(s.RunID))
	fmt.Fprintln(w, Cyan(rule))
	fmt.Fprintf(w, "Duration:            %s\n", s.DurationHuman)
	fmt.Fprintf(w, "Records:             %s\n", Yellow(fmt.Sprintf("%d", s.TotalRecords)))
	fmt.Fprintf(w, "  with count:        %d\n", s.RecordsWithPrescriptionCount)
	fmt.Fprintf(w, "  without count:     %d\n", s.RecordsWithoutPrescriptionCount)
	fmt.Fprintf(w, "Errors:              %d\n", s.ErrorCount)
	fmt.Fprintf(w, "Skipped:             %d\n", s.SkippedCount)
	fmt.Fprintf(w, "Retries:             %d\n", s.RetryCount)
	if ids := s.Partitions(); len(ids) > 0 {
		fmt.Fprintln(w, Cyan(strings.Repeat("-", 60)))
		for _, id := range ids {
			ps := s.PerPartition[id]
			fmt.Fprintf(w, "  %s  %-10s %6d records  %3d errors  %3d retries\n",
				id, partitionStatus(ps.Status), ps.Count, ps.Errors, ps.Retries)
		}
	}
	if s.Cancelled {
		fmt.Fprintln(w, Yellow("Run was interrupted; start again to resume."))
	}
	fmt.Fprintln(w, Cyan(rule))
}

// PrintStatus writes one line per partition of a progress document
func PrintStatus(w io.Writer, doc progress.Document) {
	counts := doc.Counts()
	done := counts[progress.StatusCompleted] + counts[progress.StatusFailed]
	total := len(doc)
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}

	fmt.Fprintf(w, "%s %d/%d (%.1f%%)\n", Cyan("Progress:"), done, total, pct)
	for _, id := range doc.IDs() {
		st := doc[id]
		name := st.DisplayName
		if name == "" {
			if p, ok := prefecture.Lookup(id); ok {
				name = p.Name
			}
		}
		line := fmt.Sprintf("  %s %-6s %-12s page %-4d records %-6d", id, name, statusLabel(st.Status), st.PageCursor, st.RecordCount)
		if st.LastError != "" {
			line += " " + Dim(st.LastError)
		}
		fmt.Fprintln(w, line)
	}
}

func partitionStatus(s string) string {
	if s == "" {
		return string(progress.StatusInProgress)
	}
	return statusLabel(progress.Status(s))
}

func statusLabel(s progress.Status) string {
	switch s {
	case progress.StatusCompleted:
		return Green(string(s))
	case progress.StatusFailed:
		return Red(string(s))
	case progress.StatusInProgress:
		return Yellow(string(s))
	default:
		return string(s)
	}
}
