// Package metrics provides Prometheus metrics for the zkApp worker and controller.
//
// A Collector owns its own registry so several pipelines (tests, a worker and
// a controller in one process) never collide on registration. All methods are
// safe on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes recorded by RecordSubmission.
const (
	SubmissionSent     = "sent"
	SubmissionFailed   = "failed"
	SubmissionRejected = "rejected"
)

// Collector groups every metric the application exports.
type Collector struct {
	registry *prometheus.Registry

	compileDuration *prometheus.HistogramVec
	proofDuration   *prometheus.HistogramVec
	rpcDuration     *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	errors          *prometheus.CounterVec
	pollAttempts    prometheus.Counter
	pipelineState   *prometheus.GaugeVec
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		compileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkapp_circuit_compile_duration_seconds",
				Help:    "Circuit compilation and key setup duration by method",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method"},
		),
		proofDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkapp_proof_generation_duration_seconds",
				Help:    "Groth16 proof generation duration by method and result",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "result"},
		),
		rpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkapp_rpc_duration_seconds",
				Help:    "Worker RPC round trip duration by method and error code",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkapp_submissions_total",
				Help: "Message submissions by outcome",
			},
			[]string{"status"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkapp_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		pollAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zkapp_account_poll_attempts_total",
				Help: "Account existence queries issued by the poller",
			},
		),
		pipelineState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zkapp_pipeline_state",
				Help: "1 for the current pipeline state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCircuitCompile(method string, d time.Duration) {
	if c == nil {
		return
	}
	c.compileDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (c *Collector) RecordProofGeneration(method string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.proofDuration.WithLabelValues(method, result).Observe(d.Seconds())
}

func (c *Collector) RecordRPC(method, code string, d time.Duration) {
	if c == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	c.rpcDuration.WithLabelValues(method, code).Observe(d.Seconds())
}

func (c *Collector) RecordSubmission(status string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(status).Inc()
}

func (c *Collector) RecordError(kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordPollAttempt() {
	if c == nil {
		return
	}
	c.pollAttempts.Inc()
}

// SetPipelineState marks state as current and every name in all as not current.
func (c *Collector) SetPipelineState(state string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		c.pipelineState.WithLabelValues(s).Set(0)
	}
	c.pipelineState.WithLabelValues(state).Set(1)
}
