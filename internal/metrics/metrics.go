package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakeflow"

// Recorder collects workflow and cache metrics. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	refreshFailures *prometheus.CounterVec
	pollAttempts    prometheus.Histogram
}

// New creates a Recorder backed by its own registry, with Go and process
// collectors registered alongside.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow state transitions by action kind and target state.",
		}, []string{"kind", "state"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_rejections_total",
			Help:      "Actions rejected before any write call was issued.",
		}, []string{"kind", "reason"}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refresh_failures_total",
			Help:      "Balance cache refreshes that kept the previous value.",
		}, []string{"field"}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approve_poll_attempts",
			Help:      "Allowance reads needed before an approval became visible.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions,
		r.rejections,
		r.refreshFailures,
		r.pollAttempts,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Transition(kind, state string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(kind, state).Inc()
}

func (r *Recorder) Rejection(kind, reason string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(kind, reason).Inc()
}

func (r *Recorder) RefreshFailure(field string) {
	if r == nil {
		return
	}
	r.refreshFailures.WithLabelValues(field).Inc()
}

func (r *Recorder) PollAttempts(n int) {
	if r == nil {
		return
	}
	r.pollAttempts.Observe(float64(n))
}
