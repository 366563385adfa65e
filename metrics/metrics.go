// Package metrics provides concrete Prometheus-backed implementations of
// the observation hooks exposed by dedup.Hooks, dispatcher.Hooks and
// guard.Hooks. spec.md scopes the metrics *backend* out of the core
// pipeline, but not the hook *interfaces* - this package is that backend,
// registered against a caller-supplied prometheus.Registerer, following
// the same "a struct of atomics/histograms, updated on the hot path"
// shape eventloop.Metrics demonstrates (_examples teacher,
// eventloop/metrics.go), but using real Prometheus collector types
// instead of a hand-rolled percentile estimator.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the pipeline updates. Construct with
// New, which also registers every collector with the given
// prometheus.Registerer, before wiring its hook methods into
// streampipe.Config.
type Metrics struct {
	latency          prometheus.Histogram
	dedupDuplicates  prometheus.Counter
	dedupCacheSize   prometheus.Gauge
	queueDepth       *prometheus.GaugeVec
	queueDepthMean   prometheus.Gauge
	guardViolations  prometheus.Counter
	dispatchedTotal  *prometheus.CounterVec
	droppedTotal     prometheus.Counter
}

// New constructs and registers every collector against reg. The
// namespace/subsystem follow Prometheus convention
// ("streampipe_<subsystem>_*", with subsystems pipeline, dedup,
// dispatcher and guard), matching how linkerd2's controller
// registers its own per-component metric families.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streampipe",
			Subsystem: "pipeline",
			Name:      "event_latency_seconds",
			Help:      "Latency from event creation to the start of terminal consumer processing.",
			Buckets:   prometheus.DefBuckets,
		}),
		dedupDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampipe",
			Subsystem: "dedup",
			Name:      "duplicates_total",
			Help:      "Events dropped because their UUID was seen within the dedup window.",
		}),
		dedupCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streampipe",
			Subsystem: "dedup",
			Name:      "cache_size",
			Help:      "Current number of UUIDs tracked by the dedup filter.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streampipe",
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Current depth of a dispatcher shard's queue.",
		}, []string{"shard"}),
		queueDepthMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streampipe",
			Subsystem: "dispatcher",
			Name:      "queue_depth_mean",
			Help:      "Mean depth across all dispatcher shard queues.",
		}),
		guardViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampipe",
			Subsystem: "guard",
			Name:      "violations_total",
			Help:      "Detected overlapping-processing violations for a routing key.",
		}),
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streampipe",
			Subsystem: "dispatcher",
			Name:      "completed_total",
			Help:      "Events completed by a dispatcher shard, partitioned by outcome.",
		}, []string{"outcome"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampipe",
			Subsystem: "dispatcher",
			Name:      "dropped_total",
			Help:      "Events discarded by the OverflowDropNewest policy.",
		}),
	}

	reg.MustRegister(
		m.latency,
		m.dedupDuplicates,
		m.dedupCacheSize,
		m.queueDepth,
		m.queueDepthMean,
		m.guardViolations,
		m.dispatchedTotal,
		m.droppedTotal,
	)
	return m
}

// ObserveLatency records an end-to-end latency sample.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.latency.Observe(d.Seconds())
}

// OnDuplicate implements dedup.Hooks.OnDuplicate.
func (m *Metrics) OnDuplicate() { m.dedupDuplicates.Inc() }

// OnDedupSize implements dedup.Hooks.OnSize.
func (m *Metrics) OnDedupSize(n int) { m.dedupCacheSize.Set(float64(n)) }

// OnEnqueue implements dispatcher.Hooks.OnEnqueue.
func (m *Metrics) OnEnqueue(shard int, depth int) { m.setQueueDepth(shard, depth) }

// OnDequeue implements dispatcher.Hooks.OnDequeue.
func (m *Metrics) OnDequeue(shard int, depth int) { m.setQueueDepth(shard, depth) }

func (m *Metrics) setQueueDepth(shard int, depth int) {
	m.queueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
}

// OnDropped implements dispatcher.Hooks.OnDropped.
func (m *Metrics) OnDropped(shard int) { m.droppedTotal.Inc() }

// OnCompleted implements dispatcher.Hooks.OnCompleted.
func (m *Metrics) OnCompleted(shard int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.dispatchedTotal.WithLabelValues(outcome).Inc()
}

// OnViolation implements guard.Hooks.OnViolation.
func (m *Metrics) OnViolation(key int64, waited bool) { m.guardViolations.Inc() }

// SetQueueDepthMean publishes the mean of dispatcher.Dispatcher.QueueDepths,
// computed by the caller. Nothing in this module calls it: the caller
// polls Pipeline.QueueDepths and publishes the mean itself.
func (m *Metrics) SetQueueDepthMean(mean float64) { m.queueDepthMean.Set(mean) }

