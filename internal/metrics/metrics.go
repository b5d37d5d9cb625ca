package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"geoipd/internal/geolite"
)

const namespace = "geoipd"

var (
	Registry *prometheus.Registry
	initOnce sync.Once

	downloadedBytes *prometheus.GaugeVec
	rowsRead        *prometheus.CounterVec
	membersParsed   *prometheus.CounterVec
	rowsLoaded      *prometheus.CounterVec
	ingestRuns      *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	lastSuccess     prometheus.Gauge
	lookups         *prometheus.CounterVec
)

func Enabled() bool {
	return Registry != nil
}

// Init creates the registry with process and Go runtime collectors. Repeated
// calls are no-ops.
func Init() {
	initOnce.Do(func() {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)

		downloadedBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "downloaded_bytes",
			Help: "Bytes of the archive fetched by the running ingestion.",
		}, []string{"kind"})
		rowsRead = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rows_read_total",
			Help: "CSV rows read from archive members.",
		}, []string{"kind"})
		membersParsed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "members_total",
			Help: "Archive members parsed.",
		}, []string{"kind"})
		rowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rows_loaded_total",
			Help: "Rows inserted into the store.",
		}, []string{"table"})
		ingestRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "runs_total",
			Help: "Ingestion runs by outcome.",
		}, []string{"outcome"})
		ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "duration_seconds",
			Help:    "Duration of successful ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		})
		lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful ingestion.",
		})
		lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lookup", Name: "requests_total",
			Help: "Lookups by transport and outcome.",
		}, []string{"transport", "outcome"})

		registry.MustRegister(downloadedBytes, rowsRead, membersParsed, rowsLoaded,
			ingestRuns, ingestDuration, lastSuccess, lookups)
		Registry = registry
	})
}

// ObserveLookup counts one lookup. outcome is "found", "not_found",
// "invalid" or "error".
func ObserveLookup(transport, outcome string) {
	if Enabled() {
		lookups.WithLabelValues(transport, outcome).Inc()
	}
}

// ObserveIngest records the outcome of one ingestion run. Failures are
// labelled with the stage that failed.
func ObserveIngest(err error, duration time.Duration) {
	if !Enabled() {
		return
	}
	if err != nil {
		outcome := "failed"
		if stage, ok := geolite.StageOf(err); ok {
			outcome = "failed_" + string(stage)
		}
		ingestRuns.WithLabelValues(outcome).Inc()
		return
	}
	ingestRuns.WithLabelValues("success").Inc()
	ingestDuration.Observe(duration.Seconds())
	lastSuccess.SetToCurrentTime()
}

// IngestObserver exports pipeline progress as prometheus metrics.
type IngestObserver struct {
	mu     sync.Mutex
	kinds  map[string]geolite.Kind
	counts map[string]int
	loaded map[string]int
}

func NewIngestObserver() *IngestObserver {
	Init()
	return &IngestObserver{
		kinds:  make(map[string]geolite.Kind),
		counts: make(map[string]int),
		loaded: make(map[string]int),
	}
}

func (o *IngestObserver) Downloaded(read, total int64) {
	downloadedBytes.WithLabelValues("read").Set(float64(read))
	if total > 0 {
		downloadedBytes.WithLabelValues("total").Set(float64(total))
	}
}

func (o *IngestObserver) MemberStarted(member string, kind geolite.Kind, _ int64) {
	o.mu.Lock()
	o.kinds[member] = kind
	o.counts[member] = 0
	// parsing always precedes loading, so a new run starts here
	clear(o.loaded)
	o.mu.Unlock()
}

// RowsRead receives running totals; only the increase is added.
func (o *IngestObserver) RowsRead(member string, rows int, _ int64) {
	o.mu.Lock()
	delta := rows - o.counts[member]
	o.counts[member] = rows
	kind := o.kinds[member]
	o.mu.Unlock()

	if delta > 0 {
		rowsRead.WithLabelValues(string(kind)).Add(float64(delta))
	}
}

func (o *IngestObserver) MemberDone(member string, rows int) {
	o.RowsRead(member, rows, 0)

	o.mu.Lock()
	kind := o.kinds[member]
	o.mu.Unlock()
	membersParsed.WithLabelValues(string(kind)).Inc()
}

func (o *IngestObserver) BatchLoaded(table string, loaded, _ int) {
	o.mu.Lock()
	delta := loaded - o.loaded[table]
	o.loaded[table] = loaded
	o.mu.Unlock()

	if delta > 0 {
		rowsLoaded.WithLabelValues(table).Add(float64(delta))
	}
}
