// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes the engine's Prometheus counters and histograms.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	analysisRequests prometheus.Counter
	analysisDuration prometheus.Histogram
	scrapeRequests   *prometheus.CounterVec
	scrapeDuration   *prometheus.HistogramVec
	apiErrors        *prometheus.CounterVec
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analysisRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analysis_requests_total",
			Help: "Total analysis requests.",
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Analysis duration in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		scrapeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_requests_total",
			Help: "Total listing page fetches by tier.",
		}, []string{"tier"}),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_duration_seconds",
			Help:    "Listing page fetch duration in seconds by tier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "HTTP API error responses by endpoint.",
		}, []string{"endpoint"}),
	}
	m.registry.MustRegister(
		m.analysisRequests,
		m.analysisDuration,
		m.scrapeRequests,
		m.scrapeDuration,
		m.apiErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAnalysis counts one analysis and records its duration since start.
func (m *Metrics) ObserveAnalysis(start time.Time) {
	if m == nil {
		return
	}
	m.analysisRequests.Inc()
	m.analysisDuration.Observe(time.Since(start).Seconds())
}

// ObserveScrape counts one page fetch for tier and records its duration
// since start.
func (m *Metrics) ObserveScrape(tier string, start time.Time) {
	if m == nil {
		return
	}
	m.scrapeRequests.WithLabelValues(tier).Inc()
	m.scrapeDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())
}

// APIError counts one error response for endpoint.
func (m *Metrics) APIError(endpoint string) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(endpoint).Inc()
}
