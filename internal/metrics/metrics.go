// Package metrics exposes Prometheus metrics for the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider struct {
	reg *prometheus.Registry

	conversions  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rowsOut      *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	buildInfoVec *prometheus.GaugeVec
}

func Init(version string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Provider{
		reg: reg,
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "h3frames_conversions_total",
			Help: "Finished conversions by direction and outcome.",
		}, []string{"direction", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "h3frames_conversion_duration_seconds",
			Help:    "Wall time of one whole-table conversion.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"direction"}),
		rowsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "h3frames_rows_out_total",
			Help: "Rows produced by conversions, by direction.",
		}, []string{"direction"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h3frames_cellcache_hits_total",
			Help: "Rasterization cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h3frames_cellcache_misses_total",
			Help: "Rasterization cache misses.",
		}),
		buildInfoVec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "h3frames_build_info",
			Help: "Build info for this binary (value is always 1).",
		}, []string{"version"}),
	}
	reg.MustRegister(p.conversions, p.duration, p.rowsOut, p.cacheHits, p.cacheMisses, p.buildInfoVec)

	if version == "" {
		version = "dev"
	}
	p.buildInfoVec.WithLabelValues(version).Set(1)
	return p
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) ObserveConversion(direction string, err error, rowsOut int, dur time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.conversions.WithLabelValues(direction, outcome).Inc()
	p.duration.WithLabelValues(direction).Observe(dur.Seconds())
	if err == nil {
		p.rowsOut.WithLabelValues(direction).Add(float64(rowsOut))
	}
}

func (p *Provider) AddCacheHits(n uint64)   { p.cacheHits.Add(float64(n)) }
func (p *Provider) AddCacheMisses(n uint64) { p.cacheMisses.Add(float64(n)) }

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
