package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports records on a private registry so embedding planbridge
// in a larger process never collides with host-level metrics.
type Prometheus struct {
	reg *prometheus.Registry

	// planbridge_requests_total{provider,is_fallback,status}
	requests *prometheus.CounterVec

	// planbridge_request_duration_seconds{provider}
	duration *prometheus.HistogramVec

	// planbridge_tokens_total{direction}
	tokens *prometheus.CounterVec

	// planbridge_fallback_total{reason}
	fallbacks *prometheus.CounterVec

	// planbridge_errors_total{provider,kind}
	errors *prometheus.CounterVec

	// planbridge_circuit_open_total
	circuitOpen prometheus.Counter

	handler http.Handler
}

// NewPrometheus builds the registry and all collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Prometheus{
		reg: reg,

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planbridge_requests_total",
				Help: "Proxied requests by serving provider, fallback flag, and HTTP status",
			},
			[]string{"provider", "is_fallback", "status"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planbridge_request_duration_seconds",
				Help:    "End-to-end request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),

		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planbridge_tokens_total",
				Help: "Token totals as reported by upstream usage fields",
			},
			[]string{"direction"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planbridge_fallback_total",
				Help: "Requests served by Bedrock after a primary failure, by trigger kind",
			},
			[]string{"reason"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planbridge_errors_total",
				Help: "Failed requests by serving provider and error kind",
			},
			[]string{"provider", "kind"},
		),

		circuitOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planbridge_circuit_open_total",
			Help: "Requests whose primary was skipped because the key circuit was open",
		}),
	}

	reg.MustRegister(
		p.requests,
		p.duration,
		p.tokens,
		p.fallbacks,
		p.errors,
		p.circuitOpen,
	)

	p.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return p
}

// Emit implements Emitter.
func (p *Prometheus) Emit(rec Record) {
	status := strconv.Itoa(rec.Status)
	p.requests.WithLabelValues(rec.Provider, strconv.FormatBool(rec.IsFallback), status).Inc()
	p.duration.WithLabelValues(rec.Provider).Observe(rec.Latency.Seconds())

	if rec.InputTokens > 0 {
		p.tokens.WithLabelValues("input").Add(float64(rec.InputTokens))
	}
	if rec.OutputTokens > 0 {
		p.tokens.WithLabelValues("output").Add(float64(rec.OutputTokens))
	}

	if rec.IsFallback {
		reason := rec.FallbackReason
		if reason == "" {
			reason = "unknown"
		}
		p.fallbacks.WithLabelValues(reason).Inc()
	}
	if rec.ErrorKind != "" {
		p.errors.WithLabelValues(rec.Provider, rec.ErrorKind).Inc()
	}
	if rec.PlanSkipped {
		p.circuitOpen.Inc()
	}
}

// ObserveQueueDrops exposes the queue's drop counter as
// planbridge_metrics_dropped_total.
func (p *Prometheus) ObserveQueueDrops(dropped func() uint64) {
	p.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "planbridge_metrics_dropped_total",
		Help: "Metric records dropped because the queue was full",
	}, func() float64 {
		return float64(dropped())
	}))
}

// Handler serves the scrape endpoint for this registry.
func (p *Prometheus) Handler() http.Handler {
	return p.handler
}
