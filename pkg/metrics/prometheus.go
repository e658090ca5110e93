package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"BasalGCT/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec

	coherence    *prometheus.GaugeVec
	anticipation *prometheus.GaugeVec
	confidence   *prometheus.GaugeVec
	resonance    *prometheus.GaugeVec
	efficiency   *prometheus.GaugeVec
	fallbacks    *prometheus.CounterVec
	alerts       *prometheus.CounterVec
}

// New registers the recorder's collectors on reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages sent to a backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_price",
				Help:      "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		coherence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "coherence",
				Help:      "Latest enhanced coherence component per symbol",
			},
			[]string{"symbol", "component"},
		),
		anticipation: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "anticipation",
				Help:      "Latest reservoir anticipation per symbol",
			},
			[]string{"symbol"},
		),
		confidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "prediction_confidence",
				Help:      "Latest prediction confidence per symbol",
			},
			[]string{"symbol"},
		),
		resonance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "symbolic_resonance",
				Help:      "Latest symbolic resonance per symbol",
			},
			[]string{"symbol"},
		),
		efficiency: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "basal_efficiency",
				Help:      "Latest basal efficiency per symbol",
			},
			[]string{"symbol"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_results_total",
				Help:      "Results replaced by the neutral fallback",
			},
			[]string{"symbol"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts raised by type and severity",
			},
			[]string{"symbol", "type", "severity"},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordResult publishes the result's scores as gauges. Fallbacks only bump the counter.
func (r *Recorder) RecordResult(res *models.EnhancedCoherenceResult) {
	if res == nil {
		return
	}
	if res.Fallback {
		r.fallbacks.WithLabelValues(res.Symbol).Inc()
		return
	}
	r.coherence.WithLabelValues(res.Symbol, "psi").Set(res.Enhanced.Psi)
	r.coherence.WithLabelValues(res.Symbol, "rho").Set(res.Enhanced.Rho)
	r.coherence.WithLabelValues(res.Symbol, "q").Set(res.Enhanced.Q)
	r.coherence.WithLabelValues(res.Symbol, "f").Set(res.Enhanced.F)
	r.anticipation.WithLabelValues(res.Symbol).Set(res.Anticipation)
	r.confidence.WithLabelValues(res.Symbol).Set(res.Confidence)
	r.resonance.WithLabelValues(res.Symbol).Set(res.Resonance)
	r.efficiency.WithLabelValues(res.Symbol).Set(res.Efficiency)
}

func (r *Recorder) RecordAlert(a models.Alert) {
	r.alerts.WithLabelValues(a.Symbol, string(a.Type), string(a.Severity)).Inc()
}
