package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Outbound API metrics
	rpcCallsTotal        *prometheus.CounterVec
	rpcCallDuration      *prometheus.HistogramVec
	rpcRetriesTotal      *prometheus.CounterVec
	rateLimitWaitSeconds prometheus.Histogram

	// Ingestion metrics
	signaturesDiscoveredTotal prometheus.Counter
	ingestBatchesTotal        *prometheus.CounterVec
	missingSignaturesTotal    *prometheus.CounterVec
	cacheLookupsTotal         *prometheus.CounterVec

	// Persistence metrics
	swapsSavedTotal      prometheus.Counter
	swapDuplicatesTotal  prometheus.Counter
	cacheEntriesUpserted prometheus.Counter

	// Sync metrics
	syncRunsTotal    *prometheus.CounterVec
	syncRunDuration  prometheus.Histogram
	activityDuration *prometheus.HistogramVec

	// Outbound HTTP transport metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_rpc_calls_total",
				Help: "Total number of outbound API calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cahoots_rpc_call_duration_seconds",
				Help:    "Duration of outbound API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method", "endpoint"},
		),
		rpcRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_rpc_retries_total",
				Help: "Total number of retried API calls by method",
			},
			[]string{"method"},
		),
		rateLimitWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cahoots_rate_limit_wait_seconds",
				Help:    "Time spent blocked on the process-wide rate limiter",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		signaturesDiscoveredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cahoots_signatures_discovered_total",
				Help: "Total number of signatures collected during signature discovery",
			},
		),
		ingestBatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_ingest_batches_total",
				Help: "Total number of detail-fetch batches by outcome (ok, failed)",
			},
			[]string{"outcome"},
		),
		missingSignaturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_missing_signatures_total",
				Help: "Signatures missing from indexer responses by classification (legit, failed)",
			},
			[]string{"classification"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_cache_lookups_total",
				Help: "Signature cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
		swapsSavedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cahoots_swaps_saved_total",
				Help: "Total number of swap records persisted",
			},
		),
		swapDuplicatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cahoots_swap_duplicates_total",
				Help: "Total number of swap records skipped as duplicates",
			},
		),
		cacheEntriesUpserted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cahoots_cache_entries_upserted_total",
				Help: "Total number of signature cache entries written",
			},
		),
		syncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_sync_runs_total",
				Help: "Total number of wallet sync runs by outcome (success, error)",
			},
			[]string{"outcome"},
		),
		syncRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cahoots_sync_run_duration_seconds",
				Help:    "Duration of wallet sync runs in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cahoots_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"activity"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cahoots_http_requests_total",
				Help: "Outbound HTTP requests by status code and method",
			},
			[]string{"code", "method"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cahoots_http_request_duration_seconds",
				Help:    "Duration of outbound HTTP requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method"},
		),
	}
}

// InstrumentTransport wraps a RoundTripper so every outbound HTTP request
// is counted and timed. A nil next uses http.DefaultTransport.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(m.httpRequestsTotal,
		promhttp.InstrumentRoundTripperDuration(m.httpRequestDuration, next))
}

// RecordRPCCall records one outbound API call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, durationSeconds float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordRPCRetry records a retry attempt for an API method.
func (m *Metrics) RecordRPCRetry(method string) {
	m.rpcRetriesTotal.WithLabelValues(method).Inc()
}

// RecordRateLimitWait records how long an admission blocked on the limiter.
func (m *Metrics) RecordRateLimitWait(seconds float64) {
	m.rateLimitWaitSeconds.Observe(seconds)
}

// RecordSignaturesDiscovered records signatures collected during discovery.
func (m *Metrics) RecordSignaturesDiscovered(count int) {
	m.signaturesDiscoveredTotal.Add(float64(count))
}

// RecordIngestBatch records the outcome of one detail-fetch batch.
func (m *Metrics) RecordIngestBatch(outcome string) {
	m.ingestBatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordMissingSignatures records indexer shortfall classifications.
func (m *Metrics) RecordMissingSignatures(classification string, count int) {
	if count == 0 {
		return
	}
	m.missingSignaturesTotal.WithLabelValues(classification).Add(float64(count))
}

// RecordCacheLookup records a batch of signature cache lookups.
func (m *Metrics) RecordCacheLookup(hits, misses int) {
	if hits > 0 {
		m.cacheLookupsTotal.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.cacheLookupsTotal.WithLabelValues("miss").Add(float64(misses))
	}
}

// RecordSwapsSaved records persistence results for a batch of swap records.
func (m *Metrics) RecordSwapsSaved(saved, duplicates int) {
	m.swapsSavedTotal.Add(float64(saved))
	m.swapDuplicatesTotal.Add(float64(duplicates))
}

// RecordCacheEntriesUpserted records signature cache writes.
func (m *Metrics) RecordCacheEntriesUpserted(count int) {
	m.cacheEntriesUpserted.Add(float64(count))
}

// RecordSyncRun records one wallet sync run with its outcome and duration.
func (m *Metrics) RecordSyncRun(outcome string, durationSeconds float64) {
	m.syncRunsTotal.WithLabelValues(outcome).Inc()
	m.syncRunDuration.Observe(durationSeconds)
}

// RecordActivityDuration records the duration of a Temporal activity.
func (m *Metrics) RecordActivityDuration(activity string, durationSeconds float64) {
	m.activityDuration.WithLabelValues(activity).Observe(durationSeconds)
}
