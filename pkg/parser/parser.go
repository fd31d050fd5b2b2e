// Package parser turns rendered portal pages into records.
//
// A result page lists facilities in table.result-table, one row per facility
// with id, name (linking to the detail page) and address. The detail page
// carries the prescription count in the cell next to the 総取扱処方箋数
// header. Text is folded to half-width before matching so full-width digits
// and spaces are handled like ASCII.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/width"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/models"
	"pharmascraper/pkg/prefecture"
)

const (
	rowSelector         = "table.result-table tbody tr"
	tableSelector       = "table.result-table"
	resultCountSelector = ".result-count"
	countLabel          = "総取扱処方箋数"
	nextLabel           = "次へ"
)

var numberPattern = regexp.MustCompile(`(\d+(?:,\d+)*)`)

// ListEntry is one row of a result page
type ListEntry struct {
	ID        string
	Name      string
	Address   string
	DetailURL string
}

// Extractor converts RawPage values into records
type Extractor struct {
	now func() time.Time
}

// New creates an Extractor
func New() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract returns the records of a result page. Detail pages are looked up in
// raw.Details by the row's link; a missing or unparsable detail leaves the
// count unset. A page without the result table fails with a parse error
// unless the portal reports zero results.
func (e *Extractor) Extract(raw models.RawPage) ([]models.Record, error) {
	entries, err := ParseList(raw.HTML)
	if err != nil {
		return nil, errs.Parse("extract", err).At(raw.Partition, raw.Index)
	}

	name := ""
	if p, ok := prefecture.Lookup(raw.Partition); ok {
		name = p.Name
	}
	scrapedAt := raw.FetchedAt
	if scrapedAt.IsZero() {
		scrapedAt = e.now()
	}

	records := make([]models.Record, 0, len(entries))
	for _, entry := range entries {
		rec := models.Record{
			ID:            entry.ID,
			Name:          entry.Name,
			Address:       entry.Address,
			Partition:     raw.Partition,
			PartitionName: name,
			ScrapedAt:     scrapedAt,
		}
		if detail, ok := raw.Details[entry.DetailURL]; ok && entry.DetailURL != "" {
			rec.PrescriptionCount = PrescriptionCount(detail)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseList reads the rows of a result page
func ParseList(html string) ([]ListEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if doc.Find(tableSelector).Length() == 0 {
		if n, ok := resultCount(doc); ok && n == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("result table not found")
	}

	var entries []ListEntry
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 3 {
			return
		}
		id := normalize(cols.Eq(0).Text())
		if id == "" {
			return
		}
		nameCell := cols.Eq(1)
		href, _ := nameCell.Find("a").First().Attr("href")
		entries = append(entries, ListEntry{
			ID:        id,
			Name:      normalize(nameCell.Text()),
			Address:   normalize(cols.Eq(2).Text()),
			DetailURL: strings.TrimSpace(href),
		})
	})
	return entries, nil
}

// DetailLinks returns the detail page links of a result page in row order.
// Rows whose id is known are left out and counted in skipped; known may be nil.
func DetailLinks(html string, known models.KnownFunc) (links []string, skipped int) {
	entries, err := ParseList(html)
	if err != nil {
		return nil, 0
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.DetailURL == "" || seen[e.DetailURL] {
			continue
		}
		seen[e.DetailURL] = true
		if known != nil && known(e.ID) {
			skipped++
			continue
		}
		links = append(links, e.DetailURL)
	}
	return links, skipped
}

// HasNextPage reports whether the pager offers an enabled 次へ link
func HasNextPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	next := nextLink(doc)
	if next.Length() == 0 {
		return false
	}
	if next.HasClass("disabled") || next.Parent().HasClass("disabled") {
		return false
	}
	return true
}

func nextLink(doc *goquery.Document) *goquery.Selection {
	return doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), nextLabel)
	}).First()
}

// PrescriptionCount reads the count from a detail page. It returns nil when
// the row is absent or holds no number.
func PrescriptionCount(html string) *int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var count *int
	doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if !strings.Contains(normalize(th.Text()), countLabel) {
			return true
		}
		td := th.NextAllFiltered("td").First()
		if n, ok := parseNumber(td.Text()); ok {
			count = &n
			return false
		}
		return true
	})
	return count
}

func resultCount(doc *goquery.Document) (int, bool) {
	sel := doc.Find(resultCountSelector).First()
	if sel.Length() == 0 {
		return 0, false
	}
	return parseNumber(sel.Text())
}

func parseNumber(text string) (int, bool) {
	m := numberPattern.FindString(width.Fold.String(text))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// normalize folds full-width ASCII to half-width and collapses whitespace.
// Katakana and kanji are left as they are.
func normalize(s string) string {
	return strings.Join(strings.Fields(foldASCII(s)), " ")
}

func foldASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if p := width.LookupRune(r); p.Kind() == width.EastAsianFullwidth && p.Narrow() != 0 {
			b.WriteRune(p.Narrow())
			continue
		}
		if r == '　' {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
