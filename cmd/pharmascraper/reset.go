package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/prefecture"
	"pharmascraper/pkg/progress"
	"pharmascraper/pkg/storage"
	"pharmascraper/pkg/ui"
)

var (
	resetFailed bool
	resetAll    bool
	resetPurge  bool
)

var resetCmd = &cobra.Command{
	Use:   "reset [code...]",
	Short: "Return prefectures to pending so they are crawled again",
	Example: `  # Retry everything that failed in earlier runs
  pharmascraper reset --failed

  # Start Hokkaido over, deleting its CSV
  pharmascraper reset 01 --purge`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVar(&resetFailed, "failed", false, "reset every failed prefecture")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "reset every prefecture")
	resetCmd.Flags().BoolVar(&resetPurge, "purge", false, "also delete the CSV files of the reset prefectures")
}

func runReset(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !resetFailed && !resetAll {
		return fmt.Errorf("name prefecture codes or use --failed or --all")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := progress.NewStore(cfg.Output.Directory, cfg.SelectedPartitions(), logger.NewNopLogger())
	doc, err := store.LoadOrInit()
	if err != nil {
		return err
	}

	ids := resetTargets(doc, args)
	if len(ids) == 0 {
		ui.PrintInfo("Reset", "nothing to reset")
		return nil
	}

	if err := store.Reset(ids...); err != nil {
		return err
	}

	if resetPurge {
		for _, id := range ids {
			p, ok := prefecture.Lookup(id)
			if !ok {
				continue
			}
			path := storage.Path(cfg.Output.Directory, p)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
		}
	}

	ui.PrintSuccess(fmt.Sprintf("Reset %d prefectures", len(ids)))
	return nil
}

// resetTargets picks the ids to reset from explicit codes and the --failed and --all flags
func resetTargets(doc progress.Document, codes []string) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range doc.IDs() {
		st := doc[id]
		if resetAll || (resetFailed && st.Status == progress.StatusFailed) {
			add(id)
		}
	}
	for _, code := range codes {
		add(code)
	}
	return ids
}
