// Package logger provides the structured logging interface used across the crawler.
//
// It wraps zerolog with a small interface so components can take a Logger
// and tests can pass NewNopLogger or NewTestLogger instead.
//
// Console output is colourised and written to stderr. When a log file is
// configured (by default scraper.log inside the output directory) every
// event is also appended to it as a JSON line.
//
//	cfg := &config.LoggingConfig{Level: "info", File: "pharmacy_data/scraper.log"}
//	log, err := logger.New(cfg)
//
//	log.WithField("partition", "13").InfoWithFields("Page written", map[string]interface{}{
//	    "page":    2,
//	    "records": 10,
//	})
package logger
