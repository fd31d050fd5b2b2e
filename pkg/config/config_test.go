package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 20*time.Second, config.Crawl.Timeout)
	assert.Equal(t, 2*time.Second, config.Crawl.MinWait)
	assert.Equal(t, 4*time.Second, config.Crawl.MaxWait)
	assert.Equal(t, 3, config.Crawl.MaxRetries)
	assert.Equal(t, "pharmacy_data", config.Output.Directory)
	assert.Equal(t, "info", config.Logging.Level)
	assert.NoError(t, config.Validate())
	assert.Len(t, config.SelectedPartitions(), 47)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIMEOUT", "15")
	t.Setenv("MIN_WAIT", "500ms")
	t.Setenv("MAX_WAIT", "1.5")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("OUTPUT_DIR", "/tmp/rx")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PHARMASCRAPER_LOG_LEVEL", "warn")
	t.Setenv("PARTITIONS", "13, 27")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, 15*time.Second, config.Crawl.Timeout)
	assert.Equal(t, 500*time.Millisecond, config.Crawl.MinWait)
	assert.Equal(t, 1500*time.Millisecond, config.Crawl.MaxWait)
	assert.Equal(t, 5, config.Crawl.MaxRetries)
	assert.Equal(t, "/tmp/rx", config.Output.Directory)
	assert.Equal(t, "warn", config.Logging.Level, "prefixed variable should win")
	assert.Equal(t, []string{"13", "27"}, config.Partitions)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("TIMEOUT", "soon")
	t.Setenv("MAX_RETRIES", "three")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT")
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pharmascraper.yaml")
	content := `
crawl:
  timeout: 30s
  min_wait: 1s
  max_wait: 3s
  max_retries: 4
output:
  directory: ./out
  csv_bom: false
partitions: ["01", "02"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config := DefaultConfig()
	require.NoError(t, config.LoadFromFile(path))

	assert.Equal(t, 30*time.Second, config.Crawl.Timeout)
	assert.Equal(t, 4, config.Crawl.MaxRetries)
	assert.Equal(t, "./out", config.Output.Directory)
	assert.False(t, config.Output.CSVBOM)
	assert.Equal(t, []string{"01", "02"}, config.Partitions)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultBaseURL, config.Browser.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero timeout", func(c *Config) { c.Crawl.Timeout = 0 }, "timeout must be positive"},
		{"inverted waits", func(c *Config) { c.Crawl.MinWait = 5 * time.Second }, "exceeds max wait"},
		{"no retries", func(c *Config) { c.Crawl.MaxRetries = 0 }, "max retries"},
		{"empty output", func(c *Config) { c.Output.Directory = "" }, "output directory is required"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"unknown partition", func(c *Config) { c.Partitions = []string{"48"} }, "unknown partition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  directory: from-file\nlogging:\n  level: debug\n"), 0644))

	t.Setenv("OUTPUT_DIR", "from-env")

	cfg, err := Load(path, map[string]interface{}{"log-level": "error", "max-retries": 2})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Output.Directory)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Crawl.MaxRetries)
}

func TestLogFile(t *testing.T) {
	c := DefaultConfig()
	c.Output.Directory = "data"
	assert.Equal(t, filepath.Join("data", "scraper.log"), c.LogFile())

	c.Logging.File = "/var/log/rx.log"
	assert.Equal(t, "/var/log/rx.log", c.LogFile())

	c.Logging.File = ""
	assert.Equal(t, "", c.LogFile())
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"2":     2 * time.Second,
		"2.5":   2500 * time.Millisecond,
		"750ms": 750 * time.Millisecond,
		"1m":    time.Minute,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
