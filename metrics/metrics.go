// Package metrics exposes queue and GPU pool gauges through a Prometheus
// registry. The exporter is sampling based: callers push fresh snapshots
// with ObserveQueue and ObserveSystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inferenceops/fractal/service/admission"
	"github.com/inferenceops/fractal/service/orchestrator"
)

const namespace = "fractal"

// Exporter holds the gauge set registered against a single registry.
type Exporter struct {
	registry *prometheus.Registry

	queueDepth      prometheus.Gauge
	queueMaxDepth   prometheus.Gauge
	queueP95Wait    prometheus.Gauge
	queueThroughput prometheus.Gauge
	queueRejected   prometheus.Gauge
	queueTimedOut   prometheus.Gauge
	queueEfficiency prometheus.Gauge

	gpuFractionUtil *prometheus.GaugeVec
	gpuMemoryUtil   *prometheus.GaugeVec
	gpuFragments    *prometheus.GaugeVec

	activeAllocations  prometheus.Gauge
	pendingAllocations prometheus.Gauge
}

// NewExporter builds an exporter registered against the given registry. A
// nil registry gets a fresh one.
func NewExporter(registry *prometheus.Registry) *Exporter {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	e := &Exporter{
		registry: registry,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of requests waiting for admission.",
		}),
		queueMaxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_max_depth",
			Help:      "High-water mark of the admission queue depth.",
		}),
		queueP95Wait: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_p95_wait_seconds",
			Help:      "95th percentile queueing wait over the rolling window.",
		}),
		queueThroughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_throughput_qps",
			Help:      "Completions per second over the trailing window.",
		}),
		queueRejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Requests turned away by flow control or the depth cap.",
		}),
		queueTimedOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_timed_out_total",
			Help:      "Requests that expired before completing.",
		}),
		queueEfficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_efficiency_score",
			Help:      "Composite queue efficiency score between 0 and 1.",
		}),
		gpuFractionUtil: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_fraction_utilization",
			Help:      "Allocated fraction share per GPU.",
		}, []string{"gpu_id"}),
		gpuMemoryUtil: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_memory_utilization",
			Help:      "Allocated memory share per GPU.",
		}, []string{"gpu_id"}),
		gpuFragments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_memory_fragments",
			Help:      "Number of free memory fragments per GPU.",
		}, []string{"gpu_id"}),
		activeAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocations_active",
			Help:      "Fractions currently provisioned or allocated.",
		}),
		pendingAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocations_pending",
			Help:      "Allocation requests awaiting a scheduling pass.",
		}),
	}
	registry.MustRegister(
		e.queueDepth, e.queueMaxDepth, e.queueP95Wait, e.queueThroughput,
		e.queueRejected, e.queueTimedOut, e.queueEfficiency,
		e.gpuFractionUtil, e.gpuMemoryUtil, e.gpuFragments,
		e.activeAllocations, e.pendingAllocations,
	)
	return e
}

// Registry returns the backing registry for HTTP exposition.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// ObserveQueue records a queue metrics snapshot.
func (e *Exporter) ObserveQueue(m admission.Metrics) {
	e.queueDepth.Set(float64(m.Depth))
	e.queueMaxDepth.Set(float64(m.MaxDepth))
	e.queueP95Wait.Set(m.P95Wait.Seconds())
	e.queueThroughput.Set(m.ThroughputQPS)
	e.queueRejected.Set(float64(m.TotalRejected))
	e.queueTimedOut.Set(float64(m.TotalTimedOut))
	e.queueEfficiency.Set(m.EfficiencyScore)
}

// ObserveSystem records a pool status snapshot.
func (e *Exporter) ObserveSystem(status orchestrator.SystemStatus) {
	for _, gpu := range status.GPUs {
		labels := prometheus.Labels{"gpu_id": gpu.GPUID}
		e.gpuFractionUtil.With(labels).Set(gpu.FractionUtilization)
		e.gpuMemoryUtil.With(labels).Set(gpu.MemoryUtilization)
		e.gpuFragments.With(labels).Set(float64(gpu.Fragmentation.TotalFragments))
	}
	e.activeAllocations.Set(float64(status.Allocations.ActiveCount))
	e.pendingAllocations.Set(float64(status.Allocations.PendingCount))
}
