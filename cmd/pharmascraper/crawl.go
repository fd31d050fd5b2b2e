package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pharmascraper/pkg/browser"
	"pharmascraper/pkg/config"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/metrics"
	"pharmascraper/pkg/parser"
	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/progress"
	"pharmascraper/pkg/ratelimit"
	"pharmascraper/pkg/retry"
	"pharmascraper/pkg/scraper"
	"pharmascraper/pkg/stats"
	"pharmascraper/pkg/storage"
	"pharmascraper/pkg/ui"
)

// crawlCmd runs or resumes a crawl. It is also what the root command does.
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl all pending prefectures",
	Long: `Crawl every prefecture that is not completed or failed yet.

Press Ctrl+C to stop. The current page is finished, progress is saved and the
next run continues where this one stopped.`,
	Example: `  # Crawl everything with default settings
  pharmascraper crawl

  # Crawl Tokyo and Osaka only, with a slower pace
  pharmascraper crawl --partitions 13,27 --min-wait 4s --max-wait 8s

  # Expose Prometheus metrics while crawling
  pharmascraper crawl --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ui.SetQuietMode(cfg.Logging.Quiet)

	logCfg := cfg.Logging
	logCfg.File = cfg.LogFile()
	if err := logger.Initialize(&logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger().WithField("version", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.PrintLogo()
	ui.PrintInfo("Output", cfg.Output.Directory)

	result, err := crawl(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Crawl aborted")
		return err
	}

	ui.PrintSummary(os.Stdout, result)
	return nil
}

// crawl wires the components from cfg and runs the orchestrator
func crawl(ctx context.Context, cfg *config.Config, log logger.Logger) (stats.RunStatistics, error) {
	sink, err := storage.NewSink(cfg.Output.Directory, storage.Options{
		BOM:              cfg.Output.CSVBOM,
		SkipMissingCount: cfg.Output.SkipMissingCount,
	}, log)
	if err != nil {
		return stats.RunStatistics{}, err
	}

	selected := cfg.SelectedPartitions()
	store := progress.NewStore(cfg.Output.Directory, selected, log)
	pacer := ratelimit.NewPacer(cfg.Crawl, cfg.RateLimit)
	fetcher := browser.New(cfg.Browser, cfg.Crawl.Timeout, pacer, log)

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Metrics.ListenAddr != "" {
		reg := metrics.NewRegistry()
		collector, err := metrics.New(reg)
		if err != nil {
			return stats.RunStatistics{}, fmt.Errorf("failed to register metrics: %w", err)
		}
		recorder = collector

		srv := metrics.NewServer(cfg.Metrics.ListenAddr, reg, log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	done := 0
	if doc, err := progress.Read(cfg.Output.Directory); err == nil {
		for _, p := range selected {
			if st, ok := doc[p.Code]; ok && st.Status.Terminal() {
				done++
			}
		}
	}
	display := ui.NewProgressDisplay(os.Stdout, done, len(selected))
	notifier := ui.NewNotifier(cfg.Notifications.Enabled)
	failed := 0

	orch, err := scraper.New(scraper.Options{
		Fetcher:   fetcher,
		Extractor: parser.New(),
		Sink:      sink,
		Progress:  store,
		Stats:     stats.NewAggregator(),
		Policy:    retry.NewPolicy(cfg.Crawl),
		Pacer:     pacer,
		Metrics:   recorder,
		Logger:    log,
		Hooks: scraper.Hooks{
			OnPage: func(p prefecture.Prefecture, page, written int) {
				display.PageSaved(label(p), page, written)
			},
			OnPartition: func(r scraper.PartitionResult) {
				display.PartitionFinished(label(r.Partition), string(r.Status), r.Records, r.Reason)
				if r.Status == progress.StatusFailed {
					failed++
					if cfg.Notifications.OnPartition {
						notifier.PartitionFailed(label(r.Partition), r.Reason)
					}
				}
			},
		},
		OutputDir:  cfg.Output.Directory,
		Partitions: selected,
	})
	if err != nil {
		return stats.RunStatistics{}, err
	}

	logger.LogComponentStart(log, "crawl", map[string]interface{}{
		"output_dir":  cfg.Output.Directory,
		"partitions":  len(selected),
		"timeout":     cfg.Crawl.Timeout.String(),
		"max_retries": cfg.Crawl.MaxRetries,
	})

	result, err := orch.Run(ctx)
	display.Complete()
	if err != nil {
		logger.LogComponentStop(log, "crawl", err.Error())
		return result, err
	}
	if result.Cancelled {
		logger.LogComponentStop(log, "crawl", "cancelled")
	} else {
		logger.LogComponentStop(log, "crawl", "finished")
	}
	log.InfoWithFields(result.Summary(), map[string]interface{}{
		"run_id":           result.RunID,
		"duration":         result.DurationHuman,
		"politeness_delay": pacer.TotalDelay().Round(time.Second).String(),
	})

	if cfg.Notifications.OnComplete {
		notifier.RunFinished(result.TotalRecords, failed, result.Cancelled)
	}
	return result, nil
}

func label(p prefecture.Prefecture) string {
	return p.Code + " " + p.Name
}
