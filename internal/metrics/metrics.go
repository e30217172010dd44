package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the resolution pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheLookups  *prometheus.CounterVec
	Enqueued      *prometheus.CounterVec
	FetchResults  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	BatchSize     prometheus.Histogram
	QueueDepth    *prometheus.GaugeVec
	PrefetchIDs   *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
	SyncedRecords prometheus.Counter
}

// New creates and registers all metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hemicycle_cache_lookups_total",
			Help: "Deputy cache reads by result (hit, pending, miss)",
		}, []string{"result"}),
		Enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hemicycle_fetch_enqueued_total",
			Help: "IDs accepted into a fetch queue",
		}, []string{"queue"}),
		FetchResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hemicycle_fetch_results_total",
			Help: "Remote deputy lookups by outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hemicycle_fetch_duration_seconds",
			Help:    "Latency of a single remote deputy lookup",
			Buckets: prometheus.DefBuckets,
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hemicycle_fetch_batch_size",
			Help:    "Number of IDs per drain cycle",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hemicycle_fetch_queue_depth",
			Help: "Pending IDs per fetch queue",
		}, []string{"queue"}),
		PrefetchIDs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hemicycle_prefetch_ids_total",
			Help: "Deputy IDs seen by bulk warm-up, by outcome",
		}, []string{"outcome"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hemicycle_store_errors_total",
			Help: "Persistent store failures by operation",
		}, []string{"operation"}),
		SyncedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "hemicycle_synced_records_total",
			Help: "Deputy records written by store sync",
		}),
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEnqueue(priority bool) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(queueLabel(priority)).Inc()
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchResults.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) SetQueueDepth(priority, regular int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("priority").Set(float64(priority))
	m.QueueDepth.WithLabelValues("regular").Set(float64(regular))
}

func (m *Metrics) ObserveWarm(requested, found, missing int) {
	if m == nil {
		return
	}
	m.PrefetchIDs.WithLabelValues("requested").Add(float64(requested))
	m.PrefetchIDs.WithLabelValues("found").Add(float64(found))
	m.PrefetchIDs.WithLabelValues("missing").Add(float64(missing))
}

func (m *Metrics) IncStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) AddSynced(n int) {
	if m == nil {
		return
	}
	m.SyncedRecords.Add(float64(n))
}

func queueLabel(priority bool) string {
	if priority {
		return "priority"
	}
	return "regular"
}
