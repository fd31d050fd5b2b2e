package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pharmascraper/pkg/config"
	"pharmascraper/pkg/storage"
	"pharmascraper/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage pharmascraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (PHARMASCRAPER_* or the bare names)
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration to pharmascraper.yaml, or to the path
given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and the output directory",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "pharmascraper.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if _, err := storage.NewSink(cfg.Output.Directory, storage.Options{}, nil); err != nil {
		return err
	}
	if file := cfg.LogFile(); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return fmt.Errorf("cannot create log directory: %w", err)
		}
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Output directory", cfg.Output.Directory)
	ui.PrintInfo("Partitions", fmt.Sprintf("%d", len(cfg.SelectedPartitions())))
	ui.PrintInfo("Timeout", cfg.Crawl.Timeout.String())
	ui.PrintInfo("Wait", fmt.Sprintf("%s - %s", cfg.Crawl.MinWait, cfg.Crawl.MaxWait))
	ui.PrintInfo("Max retries", fmt.Sprintf("%d", cfg.Crawl.MaxRetries))
	return nil
}
