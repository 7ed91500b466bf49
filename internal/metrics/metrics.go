package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the service's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	readingsIngested *prometheus.CounterVec
	readingsDropped  *prometheus.CounterVec
	syncRuns         *prometheus.CounterVec
	chartBuilds      *prometheus.CounterVec
	chartDuration    prometheus.Histogram
	chartPoints      prometheus.Histogram
	sessionsOpen     prometheus.Gauge
}

// New creates a Recorder registered on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "temperature_readings_ingested_total",
			Help: "Readings saved to the local store, by origin.",
		}, []string{"origin"}),
		readingsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "temperature_readings_dropped_total",
			Help: "Readings rejected at ingestion, by origin.",
		}, []string{"origin"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "temperature_sync_runs_total",
			Help: "Upstream sync runs, by result.",
		}, []string{"result"}),
		chartBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "temperature_chart_builds_total",
			Help: "Chart loads, by mode (sampled/raw) and result.",
		}, []string{"mode", "result"}),
		chartDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "temperature_chart_build_seconds",
			Help:    "Time spent loading and building a chart.",
			Buckets: prometheus.DefBuckets,
		}),
		chartPoints: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "temperature_chart_points",
			Help:    "Number of points in built charts.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "temperature_chart_sessions_open",
			Help: "Open chart selection sessions.",
		}),
	}
	reg.MustRegister(
		r.readingsIngested,
		r.readingsDropped,
		r.syncRuns,
		r.chartBuilds,
		r.chartDuration,
		r.chartPoints,
		r.sessionsOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Ingested(origin string, saved, dropped int) {
	if r == nil {
		return
	}
	r.readingsIngested.WithLabelValues(origin).Add(float64(saved))
	r.readingsDropped.WithLabelValues(origin).Add(float64(dropped))
}

func (r *Recorder) SyncRun(err error) {
	if r == nil {
		return
	}
	r.syncRuns.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) ChartBuilt(raw bool, points int, took time.Duration, err error) {
	if r == nil {
		return
	}
	mode := "sampled"
	if raw {
		mode = "raw"
	}
	r.chartBuilds.WithLabelValues(mode, result(err)).Inc()
	if err == nil {
		r.chartDuration.Observe(took.Seconds())
		r.chartPoints.Observe(float64(points))
	}
}

func (r *Recorder) SessionsOpen(n int) {
	if r == nil {
		return
	}
	r.sessionsOpen.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
