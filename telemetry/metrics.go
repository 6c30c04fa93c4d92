package telemetry

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contractreads"

var DefaultHistogramBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var (
	MetricReadBatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_batch_total",
		Help:      "Total number of rpc round trips issued for contract reads.",
	}, []string{"chain", "mode"})

	MetricReadBatchErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_batch_errors_total",
		Help:      "Total number of contract read batches that failed at the transport level.",
	}, []string{"chain", "mode", "error"})

	MetricReadCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_calls_total",
		Help:      "Total number of individual contract calls read.",
	}, []string{"chain"})

	MetricReadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "read_duration_seconds",
		Help:      "Duration of contract read round trips.",
		Buckets:   DefaultHistogramBuckets,
	}, []string{"chain", "mode"})

	MetricMulticall3FallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "multicall3_fallback_total",
		Help:      "Total number of times aggregate3 could not be used and calls were sent individually.",
	}, []string{"chain", "reason"})

	MetricCallFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_failures_total",
		Help:      "Total number of per-call failures absorbed into results.",
	}, []string{"kind"})

	MetricQueryFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_fetch_total",
		Help:      "Total number of query fetches by outcome.",
	}, []string{"outcome"})

	MetricQueryDedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_dedup_total",
		Help:      "Total number of fetch requests that joined an in-flight fetch of the same key.",
	})

	MetricQueryCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_cache_hits_total",
		Help:      "Total number of fetch requests served from fresh cached data.",
	})

	MetricQueryInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_invalidations_total",
		Help:      "Total number of query invalidations.",
	}, []string{"source"})

	MetricQueryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "query_entries",
		Help:      "Number of query entries currently held by the client.",
	})

	MetricLatestBlockNumber = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "latest_block_number",
		Help:      "Latest block number seen by the block tracker.",
	}, []string{"chain"})

	MetricPersisterOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persister_operations_total",
		Help:      "Total number of persister operations by outcome.",
	}, []string{"connector", "operation", "outcome"})
)

// ChainLabel formats a chain id for use as a label value.
func ChainLabel(chainId int64) string {
	return strconv.FormatInt(chainId, 10)
}

// Label-bound handles are cached to avoid per-call Vec lookups.

type counterKey struct {
	vec *prometheus.CounterVec
	key string
}

type gaugeKey struct {
	vec *prometheus.GaugeVec
	key string
}

type observerKey struct {
	vec *prometheus.HistogramVec
	key string
}

var (
	counterHandleCache  sync.Map
	gaugeHandleCache    sync.Map
	observerHandleCache sync.Map
)

func labelsKey(labels []string) string {
	return strings.Join(labels, "\x1f")
}

// CounterHandle returns a cached child counter for the given labels.
func CounterHandle(cv *prometheus.CounterVec, labels ...string) prometheus.Counter {
	k := counterKey{vec: cv, key: labelsKey(labels)}
	if v, ok := counterHandleCache.Load(k); ok {
		return v.(prometheus.Counter)
	}
	actual, _ := counterHandleCache.LoadOrStore(k, cv.WithLabelValues(labels...))
	return actual.(prometheus.Counter)
}

// GaugeHandle returns a cached child gauge for the given labels.
func GaugeHandle(gv *prometheus.GaugeVec, labels ...string) prometheus.Gauge {
	k := gaugeKey{vec: gv, key: labelsKey(labels)}
	if v, ok := gaugeHandleCache.Load(k); ok {
		return v.(prometheus.Gauge)
	}
	actual, _ := gaugeHandleCache.LoadOrStore(k, gv.WithLabelValues(labels...))
	return actual.(prometheus.Gauge)
}

// ObserverHandle returns a cached child observer for the given labels.
func ObserverHandle(hv *prometheus.HistogramVec, labels ...string) prometheus.Observer {
	k := observerKey{vec: hv, key: labelsKey(labels)}
	if v, ok := observerHandleCache.Load(k); ok {
		return v.(prometheus.Observer)
	}
	actual, _ := observerHandleCache.LoadOrStore(k, hv.WithLabelValues(labels...))
	return actual.(prometheus.Observer)
}
