// Package metrics exposes crawl counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pharmascraper/pkg/logger"
)

// Page outcome labels
const (
	PageOK          = "ok"
	PageRetried     = "retried"
	PageParseError  = "parse_error"
	PageGaveUp      = "gave_up"
	PartitionDone   = "completed"
	PartitionFailed = "failed"
)

// Recorder receives crawl events. The orchestrator calls it after each step.
type Recorder interface {
	Page(status string)
	Records(n int)
	Retry()
	Partition(status string)
	FetchDuration(d time.Duration)
}

// Collector holds the Prometheus collectors of a run
type Collector struct {
	pages         *prometheus.CounterVec
	records       prometheus.Counter
	retries       prometheus.Counter
	partitions    *prometheus.CounterVec
	fetchDuration prometheus.Histogram
}

// New registers the collectors against reg
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmascraper_pages_total",
			Help: "Result page attempts partitioned by outcome.",
		}, []string{"status"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmascraper_records_total",
			Help: "Records appended to the output files.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmascraper_retries_total",
			Help: "Page fetches retried after a transient error.",
		}),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmascraper_partitions_total",
			Help: "Partitions finished partitioned by final status.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmascraper_fetch_duration_seconds",
			Help:    "Wall time of one page fetch including its detail pages.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
	}
	for _, collector := range []prometheus.Collector{
		c.pages,
		c.records,
		c.retries,
		c.partitions,
		c.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) Page(status string)      { c.pages.WithLabelValues(status).Inc() }
func (c *Collector) Records(n int)           { c.records.Add(float64(n)) }
func (c *Collector) Retry()                  { c.retries.Inc() }
func (c *Collector) Partition(status string) { c.partitions.WithLabelValues(status).Inc() }

func (c *Collector) FetchDuration(d time.Duration) {
	c.fetchDuration.Observe(d.Seconds())
}

// Nop discards all events
type Nop struct{}

func (Nop) Page(string)                 {}
func (Nop) Records(int)                 {}
func (Nop) Retry()                      {}
func (Nop) Partition(string)            {}
func (Nop) FetchDuration(time.Duration) {}

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Server serves /metrics from Start until Shutdown is called
type Server struct {
	srv    *http.Server
	logger logger.Logger
}

// NewServer creates the metrics HTTP server for addr
func NewServer(addr string, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log,
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens in the background. Listen errors other than shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.InfoWithFields("Metrics endpoint listening", map[string]interface{}{
			"addr": s.srv.Addr,
		})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Metrics endpoint failed")
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
