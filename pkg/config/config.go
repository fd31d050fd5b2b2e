package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pharmascraper/pkg/prefecture"
)

// EnvPrefix is the optional prefix for environment overrides. PHARMASCRAPER_TIMEOUT wins over TIMEOUT.
const EnvPrefix = "PHARMASCRAPER_"

// DefaultBaseURL is the search form of the medical information portal
const DefaultBaseURL = "https://www.iryou.teikyouseido.mhlw.go.jp/znk-web/juminkanja/S2300/initialize"

// Config holds all configuration options for a crawl run
type Config struct {
	// Retry and pacing policy
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Headless browser settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Hard request cap on top of the politeness delay
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Partitions restricts the run to these prefecture codes. Empty means all 47.
	Partitions []string `yaml:"partitions" json:"partitions"`
}

// CrawlConfig holds the per-page retry and politeness settings
type CrawlConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MinWait           time.Duration `yaml:"min_wait" json:"min_wait"`
	MaxWait           time.Duration `yaml:"max_wait" json:"max_wait"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
}

// BrowserConfig holds chromedp settings
type BrowserConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	Headless       bool          `yaml:"headless" json:"headless"`
	ElementTimeout time.Duration `yaml:"element_timeout" json:"element_timeout"`
	FacilityType   string        `yaml:"facility_type" json:"facility_type"`
}

// RateLimitConfig holds the hard request cap
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	Directory        string `yaml:"directory" json:"directory"`
	CSVBOM           bool   `yaml:"csv_bom" json:"csv_bom"`
	SkipMissingCount bool   `yaml:"skip_missing_count" json:"skip_missing_count"`
}

// MetricsConfig holds the metrics listener address. Empty disables the endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	OnComplete  bool `yaml:"on_complete" json:"on_complete"`
	OnPartition bool `yaml:"on_partition" json:"on_partition"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File is resolved against Output.Directory when relative. Empty disables the log file.
	File  string `yaml:"file" json:"file"`
	Quiet bool   `yaml:"quiet" json:"quiet"`
}

// DefaultConfig returns a Config with the default crawl settings
func DefaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			Timeout:           20 * time.Second,
			MinWait:           2 * time.Second,
			MaxWait:           4 * time.Second,
			MaxRetries:        3,
			BackoffMultiplier: 2.0,
		},
		Browser: BrowserConfig{
			BaseURL:        DefaultBaseURL,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:       true,
			ElementTimeout: 10 * time.Second,
			FacilityType:   "5",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0,
			BurstSize:         1,
		},
		Output: OutputConfig{
			Directory:        "pharmacy_data",
			CSVBOM:           true,
			SkipMissingCount: false,
		},
		Notifications: NotificationConfig{
			Enabled:     false,
			OnComplete:  true,
			OnPartition: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "scraper.log",
		},
	}
}

// lookupEnv returns the prefixed variable if set, otherwise the bare one
func lookupEnv(name string) (string, bool) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		return v, true
	}
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, true
	}
	return "", false
}

// ParseDuration accepts Go durations ("2.5s") or plain seconds ("2.5")
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"TIMEOUT", &c.Crawl.Timeout},
		{"MIN_WAIT", &c.Crawl.MinWait},
		{"MAX_WAIT", &c.Crawl.MaxWait},
	}
	for _, d := range durations {
		if v, ok := lookupEnv(d.name); ok {
			parsed, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
				continue
			}
			*d.dst = parsed
		}
	}

	if v, ok := lookupEnv("MAX_RETRIES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_RETRIES: %w", err))
		} else {
			c.Crawl.MaxRetries = n
		}
	}

	if v, ok := lookupEnv("OUTPUT_DIR"); ok {
		c.Output.Directory = v
	}

	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}

	if v, ok := lookupEnv("BASE_URL"); ok {
		c.Browser.BaseURL = v
	}

	if v, ok := lookupEnv("PARTITIONS"); ok {
		c.Partitions = splitList(v)
	}

	if v, ok := lookupEnv("METRICS_ADDR"); ok {
		c.Metrics.ListenAddr = v
	}

	if v, ok := lookupEnv("NOTIFICATIONS_ENABLED"); ok {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		"pharmascraper.yaml",
		".pharmascraper.yaml",
		".pharmascraper.yml",
	}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "pharmascraper", "config.yaml"),
			filepath.Join(home, ".pharmascraper.yaml"),
		)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Crawl.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Crawl.MinWait < 0 || c.Crawl.MaxWait < 0 {
		errs = append(errs, errors.New("wait bounds cannot be negative"))
	}
	if c.Crawl.MinWait > c.Crawl.MaxWait {
		errs = append(errs, fmt.Errorf("min wait %s exceeds max wait %s", c.Crawl.MinWait, c.Crawl.MaxWait))
	}
	if c.Crawl.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must be at least 1"))
	}
	if c.Crawl.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be at least 1"))
	}

	if c.Browser.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.Browser.ElementTimeout <= 0 {
		errs = append(errs, errors.New("element timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	for _, code := range c.Partitions {
		if _, ok := prefecture.Lookup(code); !ok {
			errs = append(errs, fmt.Errorf("unknown partition %q", code))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// LogFile returns the resolved log file path, or "" when file logging is off
func (c *Config) LogFile() string {
	if c.Logging.File == "" || filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.Output.Directory, c.Logging.File)
}

// SelectedPartitions returns the partitions of this run in crawl order
func (c *Config) SelectedPartitions() []prefecture.Prefecture {
	if len(c.Partitions) == 0 {
		return prefecture.All()
	}
	return prefecture.Select(c.Partitions)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output-dir"].(string); ok && outputDir != "" {
		c.Output.Directory = outputDir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if timeout, ok := flags["timeout"].(time.Duration); ok && timeout > 0 {
		c.Crawl.Timeout = timeout
	}
	if minWait, ok := flags["min-wait"].(time.Duration); ok {
		c.Crawl.MinWait = minWait
	}
	if maxWait, ok := flags["max-wait"].(time.Duration); ok {
		c.Crawl.MaxWait = maxWait
	}
	if retries, ok := flags["max-retries"].(int); ok {
		c.Crawl.MaxRetries = retries
	}
	if partitions, ok := flags["partitions"].([]string); ok && len(partitions) > 0 {
		c.Partitions = partitions
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.ListenAddr = addr
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if enabled, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = enabled
	}
	if quiet, ok := flags["quiet"].(bool); ok {
		c.Logging.Quiet = quiet
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files never override variables already present in the environment
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".pharmascraper.env"))
	}

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
