package scraper

import (
	"context"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/models"
	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/retry"
	"pharmascraper/pkg/storage"
)

// Fetcher renders result pages of one partition at a time. known is consulted
// before a detail page is visited.
type Fetcher interface {
	Open(ctx context.Context, p prefecture.Prefecture, known models.KnownFunc) (models.Session, error)
	FetchPage(ctx context.Context, s models.Session, pageIndex int) (models.RawPage, error)
	Close(s models.Session) error
}

// Extractor turns a rendered page into records
type Extractor interface {
	Extract(raw models.RawPage) ([]models.Record, error)
}

// Sink stores records durably, one output per partition
type Sink interface {
	Append(p prefecture.Prefecture, records []models.Record) (storage.AppendResult, error)
	Count(p prefecture.Prefecture) (int, error)
	Has(p prefecture.Prefecture, id string) bool
}

// Policy decides whether a failed attempt is retried
type Policy interface {
	Decide(attempt int, kind errs.Kind) retry.Decision
}

// shutdowner is implemented by fetchers that own a process for the whole run
type shutdowner interface {
	Shutdown()
}
