package observability

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks update-cycle metrics on a dedicated Prometheus registry.
type Metrics struct {
	registry *prom.Registry

	CyclesTotal     prom.Counter
	CycleFailures   prom.Counter
	PackagesTotal   *prom.CounterVec
	DownloadBytes   prom.Counter
	PackageDuration prom.Histogram
	InflightWorkers prom.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prom.NewRegistry(),
		CyclesTotal: prom.NewCounter(prom.CounterOpts{
			Namespace: "modloader", Name: "cycles_total",
			Help: "Total update cycles started"}),
		CycleFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: "modloader", Name: "cycle_failures_total",
			Help: "Update cycles that aborted before applying"}),
		PackagesTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "modloader", Name: "packages_total",
			Help: "Per-package apply outcomes"}, []string{"outcome"}),
		DownloadBytes: prom.NewCounter(prom.CounterOpts{
			Namespace: "modloader", Name: "download_bytes_total",
			Help: "Total bytes received from package downloads"}),
		PackageDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "modloader", Name: "package_duration_seconds",
			Help:    "Wall time of one package's download/verify/install",
			Buckets: prom.ExponentialBuckets(0.1, 2, 12)}),
		InflightWorkers: prom.NewGauge(prom.GaugeOpts{
			Namespace: "modloader", Name: "inflight_workers",
			Help: "Apply-phase workers currently busy"}),
	}

	m.registry.MustRegister(
		m.CyclesTotal, m.CycleFailures, m.PackagesTotal,
		m.DownloadBytes, m.PackageDuration, m.InflightWorkers,
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, used by tests.
func (m *Metrics) Registry() *prom.Registry {
	return m.registry
}
