// Package metrics exposes Prometheus collectors for generation and for the
// HTTP surface. Collectors are registered on the registry passed to New, never
// on the global default.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/hegemon/internal/session"
)

type Metrics struct {
	reg *prometheus.Registry

	Generations     *prometheus.CounterVec
	GeneratedTokens prometheus.Counter
	TTFT            prometheus.Histogram
	DecodeTPS       prometheus.Histogram

	RequestsInFlight prometheus.Gauge
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hegemon_generations_total",
			Help: "Generation calls by stop reason.",
		}, []string{"stopped_by"}),
		GeneratedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "hegemon_generated_tokens_total",
			Help: "Tokens sampled across all generation calls.",
		}),
		TTFT: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hegemon_ttft_seconds",
			Help:    "Time from request start to the first sampled token.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		DecodeTPS: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hegemon_decode_tokens_per_second",
			Help:    "Decode throughput per generation call.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "hegemon_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hegemon_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"code", "method", "route"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hegemon_http_request_duration_seconds",
			Help:    "HTTP request latencies.",
			Buckets: []float64{.01, .05, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "method"}),
	}
}

// Observe records one generation outcome. Timing histograms only see calls
// that produced at least one token.
func (m *Metrics) Observe(r session.Result) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(string(r.StoppedBy)).Inc()
	if r.TokensGenerated <= 0 {
		return
	}
	m.GeneratedTokens.Add(float64(r.TokensGenerated))
	m.TTFT.Observe(r.TimeToFirstToken.Seconds())
	if tps := r.DecodeTPS(); tps > 0 {
		m.DecodeTPS.Observe(tps)
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

type routeKey struct{}

// Instrument wraps h with in-flight, count and latency collectors. routeOf
// names the route for a request and should return a bounded set of values.
func (m *Metrics) Instrument(h http.Handler, routeOf func(*http.Request) string) http.Handler {
	route := promhttp.WithLabelFromCtx("route", func(ctx context.Context) string {
		if r, ok := ctx.Value(routeKey{}).(string); ok {
			return r
		}
		return "other"
	})
	h = promhttp.InstrumentHandlerInFlight(m.RequestsInFlight, h)
	h = promhttp.InstrumentHandlerCounter(m.Requests, h, route)
	h = promhttp.InstrumentHandlerDuration(m.RequestDuration, h, route)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), routeKey{}, routeOf(r)))
		h.ServeHTTP(w, r)
	})
}
