package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/metrics"
	"pharmascraper/pkg/models"
	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/progress"
	"pharmascraper/pkg/ratelimit"
	"pharmascraper/pkg/retry"
	"pharmascraper/pkg/stats"
)

// PartitionResult describes how a partition ended in this run
type PartitionResult struct {
	Partition prefecture.Prefecture
	Status    progress.Status
	Records   int
	Reason    string
}

// Hooks are optional callbacks for terminal output and notifications
type Hooks struct {
	// OnPage runs after a page was checkpointed
	OnPage func(p prefecture.Prefecture, page, written int)
	// OnPartition runs after a partition reached a terminal state
	OnPartition func(r PartitionResult)
}

// Options wires the collaborators of an Orchestrator
type Options struct {
	Fetcher   Fetcher
	Extractor Extractor
	Sink      Sink
	Progress  *progress.Store
	Stats     *stats.Aggregator
	Policy    Policy
	Pacer     ratelimit.Pacer
	Metrics   metrics.Recorder
	Logger    logger.Logger
	Hooks     Hooks

	// OutputDir receives statistics.json
	OutputDir string
	// Partitions restricts and orders the crawl. Empty means all partitions in the progress document.
	Partitions []prefecture.Prefecture
}

// Orchestrator is the single-threaded crawl driver
type Orchestrator struct {
	fetcher    Fetcher
	extractor  Extractor
	sink       Sink
	store      *progress.Store
	stats      *stats.Aggregator
	policy     Policy
	pacer      ratelimit.Pacer
	metrics    metrics.Recorder
	logger     logger.Logger
	hooks      Hooks
	outputDir  string
	partitions []prefecture.Prefecture

	// fetched is set once the run issued its first page fetch; every later
	// fetch waits for the pacer first
	fetched bool

	// wait sleeps for a retry backoff; swapped in tests
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

// errCancelled stops the page loop when the run context is done
var errCancelled = errors.New("crawl cancelled")

// New validates opts and returns an Orchestrator
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case opts.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case opts.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case opts.Progress == nil:
		return nil, fmt.Errorf("progress store is required")
	case opts.Policy == nil:
		return nil, fmt.Errorf("retry policy is required")
	case opts.OutputDir == "":
		return nil, fmt.Errorf("output directory is required")
	}

	o := &Orchestrator{
		fetcher:    opts.Fetcher,
		extractor:  opts.Extractor,
		sink:       opts.Sink,
		store:      opts.Progress,
		stats:      opts.Stats,
		policy:     opts.Policy,
		pacer:      opts.Pacer,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		hooks:      opts.Hooks,
		outputDir:  opts.OutputDir,
		partitions: opts.Partitions,
		wait:       retry.Wait,
		now:        time.Now,
	}
	if o.stats == nil {
		o.stats = stats.NewAggregator()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop{}
	}
	if o.logger == nil {
		o.logger = logger.NewNopLogger()
	}
	return o, nil
}

// Stats returns the aggregator of this run
func (o *Orchestrator) Stats() *stats.Aggregator {
	return o.stats
}

// Run crawls every partition that is not yet done. Only fatal errors are
// returned; a cancelled run returns nil with RunStatistics.Cancelled set.
func (o *Orchestrator) Run(ctx context.Context) (result stats.RunStatistics, err error) {
	if sd, ok := o.fetcher.(shutdowner); ok {
		defer sd.Shutdown()
	}
	defer func() {
		if ctx.Err() != nil {
			o.stats.MarkCancelled()
		}
		result = o.stats.Finalize()
		if serr := stats.Save(o.outputDir, result, o.logger); serr != nil {
			o.logger.WithError(serr).Error("Failed to save statistics")
			if err == nil {
				err = serr
			}
		}
	}()

	doc, err := o.store.LoadOrInit()
	if err != nil {
		return result, errs.Fatal("load progress", err)
	}

	partitions := o.order(doc)
	if err := o.recrawlEmpty(partitions); err != nil {
		return result, err
	}

	done, total, _ := o.store.Progress()
	logger.LogRunProgress(o.logger, done, total)

	for _, p := range partitions {
		if ctx.Err() != nil {
			break
		}

		st, ok := o.store.State(p.Code)
		if !ok || st.Status.Terminal() {
			o.logger.DebugWithFields("Skipping finished partition", map[string]interface{}{
				"partition": p.Code,
				"status":    string(st.Status),
			})
			continue
		}

		if err := o.crawlPartition(ctx, p, st); err != nil {
			if errors.Is(err, errCancelled) {
				break
			}
			return result, err
		}

		done, total, _ = o.store.Progress()
		logger.LogRunProgress(o.logger, done, total)
	}

	if ctx.Err() != nil {
		o.logger.WarnWithFields("Run cancelled, progress saved", map[string]interface{}{
			"done":  done,
			"total": total,
		})
	}
	return result, nil
}

// order returns the partitions to visit in code order
func (o *Orchestrator) order(doc progress.Document) []prefecture.Prefecture {
	if len(o.partitions) > 0 {
		return prefecture.Select(codes(o.partitions))
	}
	ids := doc.IDs()
	out := make([]prefecture.Prefecture, 0, len(ids))
	for _, id := range ids {
		if p, ok := prefecture.Lookup(id); ok {
			out = append(out, p)
			continue
		}
		out = append(out, prefecture.Prefecture{Code: id, Name: doc[id].DisplayName})
	}
	return out
}

func codes(ps []prefecture.Prefecture) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Code
	}
	return out
}

// recrawlEmpty resets completed partitions whose output holds no records
func (o *Orchestrator) recrawlEmpty(partitions []prefecture.Prefecture) error {
	var reset []string
	for _, p := range partitions {
		st, ok := o.store.State(p.Code)
		if !ok || st.Status != progress.StatusCompleted {
			continue
		}
		n, err := o.sink.Count(p)
		if err != nil {
			return err
		}
		if n == 0 {
			o.logger.WarnWithFields("Completed partition has no output, crawling again", map[string]interface{}{
				"partition": p.Code,
				"name":      p.Name,
			})
			reset = append(reset, p.Code)
		}
	}
	if len(reset) == 0 {
		return nil
	}
	return o.store.Reset(reset...)
}

// crawlPartition runs the page loop of one partition from its cursor
func (o *Orchestrator) crawlPartition(ctx context.Context, p prefecture.Prefecture, st progress.PartitionState) error {
	log := o.logger.WithFields(map[string]interface{}{
		"partition": p.Code,
		"name":      p.Name,
	})

	if err := o.store.MarkInProgress(p.Code); err != nil {
		return fatal("mark in progress", err)
	}
	log.InfoWithFields("Partition started", map[string]interface{}{
		"page_cursor":  st.PageCursor,
		"record_count": st.RecordCount,
	})

	known := func(id string) bool { return o.sink.Has(p, id) }
	session, err := o.fetcher.Open(ctx, p, known)
	if err != nil {
		if ctx.Err() != nil {
			return errCancelled
		}
		if errs.IsFatal(err) {
			return err
		}
		return o.fail(p, log, fmt.Sprintf("open session: %v", err))
	}
	defer func() {
		if cerr := o.fetcher.Close(session); cerr != nil {
			log.WithError(cerr).Warn("Failed to close session")
		}
	}()

	page := st.PageCursor
	for {
		if ctx.Err() != nil {
			log.InfoWithFields("Cancellation requested, stopping partition", map[string]interface{}{
				"page_cursor": page,
			})
			return errCancelled
		}

		if o.fetched && o.pacer != nil {
			_ = o.pacer.Pause(ctx)
			if ctx.Err() != nil {
				continue
			}
		}
		o.fetched = true

		outcome, err := o.processPage(ctx, p, session, page, log)
		if err != nil {
			return err
		}
		if outcome.failed != "" {
			return o.fail(p, log, outcome.failed)
		}
		if outcome.last {
			return o.complete(p, log)
		}

		page++
	}
}

type pageOutcome struct {
	// last is set when the partition has no further pages
	last bool
	// failed holds the reason when the partition exhausted its retries
	failed string
}

// processPage fetches one page under the retry policy and persists its records
func (o *Orchestrator) processPage(ctx context.Context, p prefecture.Prefecture, session models.Session, page int, log logger.Logger) (pageOutcome, error) {
	// an attempt that started is allowed to finish
	fetchCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		start := o.now()
		raw, err := o.fetcher.FetchPage(fetchCtx, session, page)
		o.metrics.FetchDuration(o.now().Sub(start))

		var records []models.Record
		if err == nil {
			if raw.PastEnd() {
				log.InfoWithFields("No more result pages", map[string]interface{}{"page": page})
				return pageOutcome{last: true}, nil
			}
			records, err = o.extractor.Extract(raw)
		}

		if err == nil {
			return o.commit(p, page, raw, records, log)
		}

		if errs.IsFatal(err) {
			return pageOutcome{}, err
		}

		kind := errs.KindOf(err)
		o.stats.Record(p.Code, 0, 1)
		decision := o.policy.Decide(attempt, kind)

		if decision.ShouldRetry() {
			o.stats.Retry(p.Code)
			o.metrics.Retry()
			o.metrics.Page(metrics.PageRetried)
			log.WarnWithFields("Page fetch failed, retrying", map[string]interface{}{
				"page":    page,
				"attempt": attempt,
				"kind":    string(kind),
				"delay":   decision.Delay.String(),
				"error":   err.Error(),
			})
			if werr := o.wait(ctx, decision.Delay); werr != nil {
				return pageOutcome{}, errCancelled
			}
			continue
		}

		if kind == errs.KindParse {
			return o.skip(p, page, raw, err, log)
		}

		// an interrupt can kill the browser under the last attempt
		if ctx.Err() != nil {
			log.WarnWithFields("Page fetch failed after cancellation, partition stays resumable", map[string]interface{}{
				"page":  page,
				"error": err.Error(),
			})
			return pageOutcome{}, errCancelled
		}

		o.metrics.Page(metrics.PageGaveUp)
		log.ErrorWithFields("Page fetch failed, giving up", map[string]interface{}{
			"page":    page,
			"attempt": attempt,
			"kind":    string(kind),
			"reason":  decision.Reason,
			"error":   err.Error(),
		})
		return pageOutcome{failed: fmt.Sprintf("page %d: %v (%s)", page, err, decision.Reason)}, nil
	}
}

// commit appends the records of a page, then advances the checkpoint
func (o *Orchestrator) commit(p prefecture.Prefecture, page int, raw models.RawPage, records []models.Record, log logger.Logger) (pageOutcome, error) {
	res, err := o.sink.Append(p, records)
	if err != nil {
		return pageOutcome{}, fatal("append records", err)
	}
	total, err := o.sink.Count(p)
	if err != nil {
		return pageOutcome{}, fatal("count records", err)
	}
	if err := o.store.Checkpoint(p.Code, page+1, total); err != nil {
		return pageOutcome{}, fatal("checkpoint", err)
	}

	o.stats.Record(p.Code, res.Written, 0)
	o.stats.RecordPrescriptionCounts(p.Code, res.WithCount, res.Written-res.WithCount+res.DroppedNoCount)
	o.stats.Skip(p.Code, res.Duplicates)
	o.metrics.Page(metrics.PageOK)
	o.metrics.Records(res.Written)

	log.InfoWithFields("Page saved", map[string]interface{}{
		"page":       page,
		"extracted":  len(records),
		"written":    res.Written,
		"duplicates": res.Duplicates,
		"dropped":    res.Dropped(),
		"total":      total,
	})
	if o.hooks.OnPage != nil {
		o.hooks.OnPage(p, page, res.Written)
	}

	return pageOutcome{last: len(records) == 0 || !raw.HasNext}, nil
}

// skip moves the cursor past a page that could not be parsed
func (o *Orchestrator) skip(p prefecture.Prefecture, page int, raw models.RawPage, cause error, log logger.Logger) (pageOutcome, error) {
	o.stats.HardError(p.Code)
	o.stats.Skip(p.Code, 1)
	o.metrics.Page(metrics.PageParseError)

	total, err := o.sink.Count(p)
	if err != nil {
		return pageOutcome{}, fatal("count records", err)
	}
	if err := o.store.Checkpoint(p.Code, page+1, total); err != nil {
		return pageOutcome{}, fatal("checkpoint", err)
	}

	log.WithError(cause).ErrorWithFields("Page could not be parsed, skipping", map[string]interface{}{
		"page":     page,
		"has_next": raw.HasNext,
	})
	return pageOutcome{last: !raw.HasNext}, nil
}

func (o *Orchestrator) complete(p prefecture.Prefecture, log logger.Logger) error {
	if err := o.store.MarkCompleted(p.Code); err != nil {
		return fatal("mark completed", err)
	}
	st, _ := o.store.State(p.Code)

	o.stats.SetStatus(p.Code, string(progress.StatusCompleted))
	o.metrics.Partition(metrics.PartitionDone)
	log.InfoWithFields("Partition completed", map[string]interface{}{
		"record_count": st.RecordCount,
		"pages":        st.PageCursor,
	})

	if o.hooks.OnPartition != nil {
		o.hooks.OnPartition(PartitionResult{Partition: p, Status: progress.StatusCompleted, Records: st.RecordCount})
	}
	return nil
}

func (o *Orchestrator) fail(p prefecture.Prefecture, log logger.Logger, reason string) error {
	if err := o.store.MarkFailed(p.Code, reason); err != nil {
		return fatal("mark failed", err)
	}
	st, _ := o.store.State(p.Code)

	o.stats.HardError(p.Code)
	o.stats.SetStatus(p.Code, string(progress.StatusFailed))
	o.metrics.Partition(metrics.PartitionFailed)
	log.ErrorWithFields("Partition failed", map[string]interface{}{
		"reason":       reason,
		"record_count": st.RecordCount,
	})

	if o.hooks.OnPartition != nil {
		o.hooks.OnPartition(PartitionResult{Partition: p, Status: progress.StatusFailed, Records: st.RecordCount, Reason: reason})
	}
	return nil
}

// fatal classifies store and sink failures as run-ending
func fatal(op string, err error) error {
	if errs.IsFatal(err) {
		return err
	}
	return errs.Fatal(op, err)
}
