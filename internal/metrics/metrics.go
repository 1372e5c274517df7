// Package metrics exposes Prometheus collectors for the streaming backend.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the collectors on a private registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	resolverAttempts  *prometheus.CounterVec
	resolverFallbacks *prometheus.CounterVec
	streamBytes       *prometheus.CounterVec
	downloads         *prometheus.CounterVec
	promotions        *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicstream",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		resolverAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicstream",
			Name:      "resolver_attempts_total",
			Help:      "yt-dlp resolution attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		resolverFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicstream",
			Name:      "resolver_fallbacks_total",
			Help:      "Resolutions that ended on a fallback value.",
		}, []string{"operation"}),
		streamBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicstream",
			Name:      "stream_bytes_total",
			Help:      "Audio bytes relayed to clients by proxy mode.",
		}, []string{"mode"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicstream",
			Name:      "downloads_total",
			Help:      "Download pipeline runs by target and outcome.",
		}, []string{"target", "outcome"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicstream",
			Name:      "promotions_total",
			Help:      "Local to cloud promotions by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests,
		r.resolverAttempts,
		r.resolverFallbacks,
		r.streamBytes,
		r.downloads,
		r.promotions,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveRequest(method, route string, status int) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (r *Recorder) ResolverAttempt(operation, outcome string) {
	if r == nil {
		return
	}
	r.resolverAttempts.WithLabelValues(operation, outcome).Inc()
}

func (r *Recorder) ResolverFallback(operation string) {
	if r == nil {
		return
	}
	r.resolverFallbacks.WithLabelValues(operation).Inc()
}

func (r *Recorder) StreamBytes(mode string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.streamBytes.WithLabelValues(mode).Add(float64(n))
}

func (r *Recorder) Download(target, outcome string) {
	if r == nil {
		return
	}
	r.downloads.WithLabelValues(target, outcome).Inc()
}

func (r *Recorder) Promotion(outcome string) {
	if r == nil {
		return
	}
	r.promotions.WithLabelValues(outcome).Inc()
}
