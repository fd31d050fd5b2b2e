package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pharmascraper/pkg/progress"
	"pharmascraper/pkg/stats"
	"pharmascraper/pkg/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crawl progress per prefecture",
	Long: `Show the saved state of every prefecture and the statistics of the last run.
Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		doc, err := progress.Read(cfg.Output.Directory)
		if err != nil {
			return err
		}
		if len(doc) == 0 {
			ui.PrintWarning("No progress found in " + cfg.Output.Directory)
			return nil
		}

		ui.PrintStatus(os.Stdout, doc)

		if last, err := stats.Load(cfg.Output.Directory); err == nil {
			ui.PrintSummary(os.Stdout, last)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
