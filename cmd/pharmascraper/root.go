package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"pharmascraper/pkg/config"
	"pharmascraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	outputDir     string
	logLevel      string
	timeout       time.Duration
	minWait       time.Duration
	maxWait       time.Duration
	maxRetries    int
	partitions    []string
	metricsAddr   string
	headless      bool
	notifications bool
	quiet         bool
)

// rootCmd crawls when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "pharmascraper",
	Short: "Resumable crawler for pharmacy prescription counts",
	Long: `pharmascraper collects pharmacy listings and their annual prescription
counts from the national medical information portal, one prefecture at a time.

Progress is checkpointed after every result page. An interrupted run resumes
from the last saved page when started again.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuietMode(true)
		}
	},
	RunE: runCrawl,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default is ./pharmascraper.yaml)")
	pf.StringVarP(&outputDir, "output-dir", "o", "", "output directory for CSV files and state")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.DurationVar(&timeout, "timeout", 0, "navigation timeout")
	pf.DurationVar(&minWait, "min-wait", 0, "minimum politeness delay")
	pf.DurationVar(&maxWait, "max-wait", 0, "maximum politeness delay")
	pf.IntVar(&maxRetries, "max-retries", 0, "attempts per page before the partition fails")
	pf.StringSliceVarP(&partitions, "partitions", "p", nil, "prefecture codes to crawl (default all 47)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.BoolVar(&headless, "headless", true, "run the browser without a window")
	pf.BoolVar(&notifications, "notifications", false, "enable desktop notifications")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`pharmascraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// commandLineFlags collects the flags the user actually set
func commandLineFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = value
		}
	}
	set("output-dir", outputDir)
	set("log-level", logLevel)
	set("timeout", timeout)
	set("min-wait", minWait)
	set("max-wait", maxWait)
	set("max-retries", maxRetries)
	set("partitions", partitions)
	set("metrics-addr", metricsAddr)
	set("headless", headless)
	set("notifications", notifications)
	set("quiet", quiet)
	return flags
}

// loadConfig loads configuration with the flags of cmd applied
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, commandLineFlags(cmd))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
