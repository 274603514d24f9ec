package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the sync engine.
type Metrics struct {
	Registry        *prometheus.Registry
	RunsTotal       *prometheus.CounterVec
	BatchesTotal    prometheus.Counter
	BatchDuration   prometheus.Histogram
	RecordsTotal    *prometheus.CounterVec
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	FetchRetries    prometheus.Counter
	QueueMessages   *prometheus.CounterVec
	SyncInProgress  prometheus.Gauge
	LastSyncSeconds prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_runs_total",
			Help: "Sync runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalogsync_batches_total",
		Help: "Batches reconciled against the catalog.",
	})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalogsync_batch_duration_seconds",
		Help:    "Time spent reconciling one batch.",
		Buckets: prometheus.DefBuckets,
	})
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_records_total",
			Help: "Reconciled records by result.",
		},
		[]string{"result"},
	)
	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_fetches_total",
			Help: "Spreadsheet downloads by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalogsync_fetch_duration_seconds",
		Help:    "Spreadsheet download latency.",
		Buckets: prometheus.DefBuckets,
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalogsync_fetch_retries_total",
		Help: "Spreadsheet download retry attempts.",
	})
	queueMessages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_queue_messages_total",
			Help: "Batch messages by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	inProgress := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalogsync_in_progress",
		Help: "1 while a sync run is active in this process.",
	})
	lastSync := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalogsync_last_sync_timestamp_seconds",
		Help: "Unix time of the last completed sync.",
	})

	registry.MustRegister(runs, batches, batchDuration, records, fetches, fetchDuration, retries, queueMessages, inProgress, lastSync)

	return &Metrics{
		Registry:        registry,
		RunsTotal:       runs,
		BatchesTotal:    batches,
		BatchDuration:   batchDuration,
		RecordsTotal:    records,
		FetchesTotal:    fetches,
		FetchDuration:   fetchDuration,
		FetchRetries:    retries,
		QueueMessages:   queueMessages,
		SyncInProgress:  inProgress,
		LastSyncSeconds: lastSync,
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records one reconciled batch and its per-record results.
func (m *Metrics) ObserveBatch(d time.Duration, updated, created, errs int) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.BatchDuration.Observe(d.Seconds())
	m.RecordsTotal.WithLabelValues("updated").Add(float64(updated))
	m.RecordsTotal.WithLabelValues("created").Add(float64(created))
	m.RecordsTotal.WithLabelValues("error").Add(float64(errs))
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncFetchRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

func (m *Metrics) IncQueueMessage(direction, outcome string) {
	if m == nil {
		return
	}
	m.QueueMessages.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) SetInProgress(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SyncInProgress.Set(1)
		return
	}
	m.SyncInProgress.Set(0)
}

func (m *Metrics) SetLastSync(t time.Time) {
	if m == nil {
		return
	}
	m.LastSyncSeconds.Set(float64(t.Unix()))
}
