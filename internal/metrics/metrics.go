package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ImportRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postpulse_import_runs_total",
		Help: "Total import runs",
	})
	ImportErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postpulse_import_errors_total",
		Help: "Total failed import runs",
	})
	RejectedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpulse_rejected_records_total",
		Help: "Records rejected by the normalizer",
	}, []string{"field"})
	ImportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "postpulse_import_duration_seconds",
		Help:    "Import duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	IndexBuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postpulse_index_builds_total",
		Help: "Similarity index builds",
	})
	IndexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postpulse_index_posts",
		Help: "Posts in the current similarity index",
	})
	Queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpulse_queries_total",
		Help: "Analytics queries by kind",
	}, []string{"kind"})
	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postpulse_query_duration_seconds",
		Help:    "Analytics query duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpulse_command_runs_total",
		Help: "CLI command runs",
	}, []string{"cmd"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpulse_command_errors_total",
		Help: "CLI command failures",
	}, []string{"cmd"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpulse_api_retries_total",
		Help: "Total outbound API retry attempts",
	}, []string{"endpoint"})
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpulse_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(ImportRuns, ImportErrors, RejectedRecords, ImportDuration,
		IndexBuilds, IndexSize, Queries, QueryDuration, CommandRuns, CommandErrors,
		APIRetries, CacheLookups)
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	go func() { _ = http.ListenAndServe(addr, Handler()) }()
}

// ObserveImportDuration records a run duration
func ObserveImportDuration(start time.Time) {
	ImportDuration.Observe(time.Since(start).Seconds())
}

// ObserveQuery counts a query of kind and records its duration.
func ObserveQuery(kind string, start time.Time) {
	Queries.WithLabelValues(kind).Inc()
	QueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncRejected(field string) {
	if field == "" {
		field = "record"
	}
	RejectedRecords.WithLabelValues(field).Inc()
}

func IncCache(outcome string) { CacheLookups.WithLabelValues(outcome).Inc() }
