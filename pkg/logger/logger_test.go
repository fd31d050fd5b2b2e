package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pharmascraper/pkg/config"
)

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zl := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &zerologLogger{logger: &zl, fields: make(map[string]interface{})}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"quiet without file", &config.LoggingConfig{Level: "info", Quiet: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scraper.log")

	l, err := New(&config.LoggingConfig{Level: "info", File: path, Quiet: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.WithField("partition", "13").Info("Partition completed")
	l.Debug("filtered out")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"partition":"13"`) {
		t.Errorf("expected partition field in file, got %s", data)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Error("debug message should be filtered at info level")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if got != tt.expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.expected)
		}
	}
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	base := newBufferLogger(&buf)

	child := base.WithField("partition", "13").WithFields(map[string]interface{}{
		"page":  2,
		"delay": 1500 * time.Millisecond,
	})
	child.WithError(errors.New("timeout")).Warn("Retrying page")

	m := decodeLine(t, &buf)
	if m["partition"] != "13" {
		t.Errorf("partition = %v", m["partition"])
	}
	if m["page"] != float64(2) {
		t.Errorf("page = %v", m["page"])
	}
	if m["error"] != "timeout" {
		t.Errorf("error = %v", m["error"])
	}
	if m["message"] != "Retrying page" {
		t.Errorf("message = %v", m["message"])
	}

	if len(base.fields) != 0 {
		t.Error("parent logger fields must not be modified by children")
	}
}

func TestStructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.InfoWithFields("Page written", map[string]interface{}{
		"records": 10,
		"ok":      true,
		"codes":   []string{"01", "02"},
	})

	m := decodeLine(t, &buf)
	if m["level"] != "info" || m["records"] != float64(10) || m["ok"] != true {
		t.Errorf("unexpected fields: %v", m)
	}
}

func TestTestLoggerCapturesChildren(t *testing.T) {
	tl := NewTestLogger()
	tl.WithField("partition", "01").WithError(errors.New("boom")).Error("Partition failed")
	tl.Info("Run started")

	if !tl.HasMessage("Partition failed") || !tl.HasError() {
		t.Fatal("expected child messages in shared capture")
	}
	errs := tl.GetMessagesByLevel("ERROR")
	if errs[0].Fields["partition"] != "01" || errs[0].Error == nil {
		t.Errorf("unexpected captured message: %+v", errs[0])
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("k", "v").Info("ignored")
	if l.GetZerolog() == nil {
		t.Error("nop logger should still expose a zerolog instance")
	}
}
