// Package browser drives headless Chrome through the portal's search form.
//
// A Fetcher owns one browser process for the whole run. Each partition gets
// its own Session, a tab holding the search result list plus a second tab for
// detail pages, so the list never has to be reloaded after visiting a detail.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"pharmascraper/pkg/config"
	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/models"
	"pharmascraper/pkg/parser"
	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/ratelimit"
)

const (
	prefectureSelectID   = "todofukenCd"
	facilityTypeSelectID = "iryoKikanShubetsuCd"
	searchButtonXPath    = `//button[contains(., '検索')]`
	nextLinkXPath        = `//a[contains(., '次へ')]`
	resultCountSelector  = ".result-count"
	freshListSelector    = "table.result-table tbody:not([data-stale])"
)

// Fetcher implements the page-fetch capability with chromedp
type Fetcher struct {
	cfg     config.BrowserConfig
	timeout time.Duration
	pacer   ratelimit.Pacer
	logger  logger.Logger
	now     func() time.Time

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New creates a Fetcher. timeout bounds every single navigation; pacer is
// waited on between detail page visits.
func New(cfg config.BrowserConfig, timeout time.Duration, pacer ratelimit.Pacer, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		cfg:     cfg,
		timeout: timeout,
		pacer:   pacer,
		logger:  log,
		now:     time.Now,
	}
}

// Session is the tab state of one partition
type Session struct {
	partition prefecture.Prefecture
	known     models.KnownFunc

	tabCtx       context.Context
	tabCancel    context.CancelFunc
	detailCtx    context.Context
	detailCancel context.CancelFunc

	// page is the index of the result page shown in the tab, -1 before the search ran
	page    int
	listURL string
	html    string
	closed  bool
}

// Partition returns the partition code
func (s *Session) Partition() string {
	return s.partition.Code
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("enable-automation", false),
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// ensureBrowser starts the browser on first use
func (f *Fetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(f.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return errs.Fatal("start browser", err)
	}

	f.allocCancel = allocCancel
	f.browserCtx = browserCtx
	f.browserCancel = browserCancel

	f.logger.InfoWithFields("Browser started", map[string]interface{}{
		"headless": f.cfg.Headless,
	})
	return nil
}

// Open creates a tab for the partition. The search itself runs on the first
// FetchPage call so that it is covered by the retry policy. Detail pages of
// ids for which known returns true are not visited; known may be nil.
func (f *Fetcher) Open(ctx context.Context, p prefecture.Prefecture, known models.KnownFunc) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.ensureBrowser(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	tabCtx, tabCancel := chromedp.NewContext(f.browserCtx)
	f.mu.Unlock()

	s := &Session{partition: p, known: known, tabCtx: tabCtx, tabCancel: tabCancel, page: -1}
	if err := chromedp.Run(tabCtx, f.tabSetup()); err != nil {
		tabCancel()
		return nil, errs.Navigation("open tab", err).At(p.Code, 0)
	}

	f.logger.DebugWithFields("Session opened", map[string]interface{}{
		"partition": p.Code,
		"name":      p.Name,
	})
	return s, nil
}

func (f *Fetcher) tabSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).
				WithAcceptLanguage("ja-JP,ja;q=0.9").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// FetchPage renders result page index (0-based) of the session's partition
// and the detail pages it links to
func (f *Fetcher) FetchPage(ctx context.Context, session models.Session, index int) (models.RawPage, error) {
	s, ok := session.(*Session)
	if !ok || s == nil {
		return models.RawPage{}, errs.Fatal("fetch page", fmt.Errorf("session of type %T was not opened by this fetcher", session))
	}
	if s.closed {
		return models.RawPage{}, errs.Fatal("fetch page", fmt.Errorf("session for partition %s is closed", s.partition.Code))
	}

	if s.page < 0 || index < s.page {
		if err := f.search(ctx, s); err != nil {
			return models.RawPage{}, withPage(err, s.partition.Code, index)
		}
	}

	for s.page < index {
		if !parser.HasNextPage(s.html) {
			f.logger.WarnWithFields("Requested page is past the last result page", map[string]interface{}{
				"partition": s.partition.Code,
				"page":      index,
				"last_page": s.page,
			})
			return models.RawPage{Partition: s.partition.Code, Index: index, FetchedAt: f.now()}, nil
		}
		if err := f.next(ctx, s); err != nil {
			return models.RawPage{}, withPage(err, s.partition.Code, index)
		}
	}

	raw := models.RawPage{
		Partition: s.partition.Code,
		Index:     index,
		URL:       s.listURL,
		HTML:      s.html,
		HasNext:   parser.HasNextPage(s.html),
		Details:   make(map[string]string),
		FetchedAt: f.now(),
	}

	links, skipped := parser.DetailLinks(s.html, s.known)
	if skipped > 0 {
		f.logger.DebugWithFields("Skipping detail pages of stored records", map[string]interface{}{
			"partition": s.partition.Code,
			"page":      index,
			"skipped":   skipped,
		})
	}

	for _, link := range links {
		if f.pacer != nil {
			if err := f.pacer.Pause(ctx); err != nil {
				return models.RawPage{}, err
			}
		}
		html, err := f.fetchDetail(ctx, s, link)
		if err != nil {
			f.logger.WarnWithFields("Detail page failed", map[string]interface{}{
				"partition": s.partition.Code,
				"page":      index,
				"link":      link,
				"error":     err.Error(),
			})
			continue
		}
		raw.Details[link] = html
	}

	return raw, nil
}

// search submits the form for the session's partition and leaves the tab on page 0
func (f *Fetcher) search(ctx context.Context, s *Session) error {
	var html, location string
	err := f.run(ctx, s.tabCtx, "search",
		chromedp.Navigate(f.cfg.BaseURL),
		f.waitVisible("#"+prefectureSelectID),
		setSelectValue(prefectureSelectID, s.partition.Code),
		setSelectValue(facilityTypeSelectID, f.cfg.FacilityType),
		chromedp.Click(searchButtonXPath, chromedp.BySearch, chromedp.NodeVisible),
		f.waitVisible(resultCountSelector),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		s.page = -1
		return err
	}

	s.page = 0
	s.html = html
	s.listURL = location

	f.logger.DebugWithFields("Search submitted", map[string]interface{}{
		"partition": s.partition.Code,
		"url":       location,
	})
	return nil
}

// next follows the 次へ link and waits for the list to be replaced
func (f *Fetcher) next(ctx context.Context, s *Session) error {
	var marked bool
	var html, location string
	err := f.run(ctx, s.tabCtx, "next page",
		chromedp.Evaluate(markStaleJS, &marked),
		chromedp.Click(nextLinkXPath, chromedp.BySearch, chromedp.NodeVisible),
		f.waitVisible(freshListSelector),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		// the tab may be anywhere now, the next call searches again
		s.page = -1
		return err
	}

	s.page++
	s.html = html
	s.listURL = location
	return nil
}

func (f *Fetcher) fetchDetail(ctx context.Context, s *Session, link string) (string, error) {
	target, err := resolveURL(s.listURL, link)
	if err != nil {
		return "", errs.Navigation("resolve detail link", err)
	}

	if s.detailCtx == nil {
		s.detailCtx, s.detailCancel = chromedp.NewContext(s.tabCtx)
		if err := chromedp.Run(s.detailCtx, f.tabSetup()); err != nil {
			s.detailCancel()
			s.detailCtx, s.detailCancel = nil, nil
			return "", errs.Navigation("open detail tab", err)
		}
	}

	var html string
	err = f.run(ctx, s.detailCtx, "fetch detail",
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// run executes actions on tab bounded by the navigation timeout and ctx
func (f *Fetcher) run(ctx, tab context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(tab, f.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return classify(op, runCtx, err)
}

func (f *Fetcher) waitVisible(sel string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.ElementTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.cfg.ElementTimeout)
			defer cancel()
		}
		return chromedp.WaitVisible(sel, chromedp.ByQuery).Do(ctx)
	})
}

// Close releases the session's tabs. Closing twice is a no-op.
func (f *Fetcher) Close(session models.Session) error {
	s, ok := session.(*Session)
	if !ok || s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.detailCancel != nil {
		s.detailCancel()
	}
	if s.tabCancel != nil {
		s.tabCancel()
	}
	f.logger.DebugWithFields("Session closed", map[string]interface{}{
		"partition": s.partition.Code,
	})
	return nil
}

// Shutdown stops the browser process
func (f *Fetcher) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	if f.browserCtx != nil {
		f.browserCtx = nil
		f.logger.Info("Browser stopped")
	}
}

const markStaleJS = `(() => {
	const body = document.querySelector('table.result-table tbody');
	if (body) { body.setAttribute('data-stale', '1'); }
	return !!body;
})()`

// setSelectValue sets a form control and fires the events the portal listens to
func setSelectValue(id, value string) chromedp.Action {
	js := fmt.Sprintf(`(() => {
	const el = document.getElementById(%s);
	if (!el) { return false; }
	el.value = %s;
	el.dispatchEvent(new Event('change', { bubbles: true }));
	el.dispatchEvent(new Event('input', { bubbles: true }));
	return true;
})()`, strconv.Quote(id), strconv.Quote(value))

	return chromedp.ActionFunc(func(ctx context.Context) error {
		var found bool
		if err := chromedp.Evaluate(js, &found).Do(ctx); err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("element #%s not found", id)
		}
		return nil
	})
}

func resolveURL(base, link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", link, err)
	}
	if ref.IsAbs() || base == "" {
		return ref.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	return b.ResolveReference(ref).String(), nil
}

// classify maps chromedp failures to transient error kinds
func classify(op string, runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return errs.Timeout(op, err)
	}
	return errs.Navigation(op, err)
}

func withPage(err error, partition string, page int) error {
	var e *errs.Error
	if errors.As(err, &e) && e.Partition == "" {
		return e.At(partition, page)
	}
	return err
}
