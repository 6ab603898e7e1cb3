package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferenceops/fractal/service/admission"
	"github.com/inferenceops/fractal/service/allocator"
	"github.com/inferenceops/fractal/service/isolation"
	"github.com/inferenceops/fractal/service/orchestrator"
)

func TestObserveQueue(t *testing.T) {
	exporter := NewExporter(nil)

	exporter.ObserveQueue(admission.Metrics{
		Depth:           4,
		MaxDepth:        12,
		P95Wait:         1500 * time.Millisecond,
		ThroughputQPS:   2.5,
		TotalRejected:   3,
		TotalTimedOut:   1,
		EfficiencyScore: 0.8,
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(exporter.queueDepth))
	assert.Equal(t, 12.0, testutil.ToFloat64(exporter.queueMaxDepth))
	assert.Equal(t, 1.5, testutil.ToFloat64(exporter.queueP95Wait))
	assert.Equal(t, 2.5, testutil.ToFloat64(exporter.queueThroughput))
	assert.Equal(t, 3.0, testutil.ToFloat64(exporter.queueRejected))
	assert.Equal(t, 0.8, testutil.ToFloat64(exporter.queueEfficiency))
}

func TestObserveSystem(t *testing.T) {
	exporter := NewExporter(prometheus.NewRegistry())

	exporter.ObserveSystem(orchestrator.SystemStatus{
		GPUCount: 1,
		GPUs: []orchestrator.GPUStatus{
			{
				GPUID:               "gpu-0",
				FractionUtilization: 0.5,
				MemoryUtilization:   0.25,
				Fragmentation:       isolation.FragmentationStats{TotalFragments: 2},
			},
		},
		Allocations: allocator.Stats{ActiveCount: 3, PendingCount: 1},
	})

	labels := prometheus.Labels{"gpu_id": "gpu-0"}
	assert.Equal(t, 0.5, testutil.ToFloat64(exporter.gpuFractionUtil.With(labels)))
	assert.Equal(t, 0.25, testutil.ToFloat64(exporter.gpuMemoryUtil.With(labels)))
	assert.Equal(t, 2.0, testutil.ToFloat64(exporter.gpuFragments.With(labels)))
	assert.Equal(t, 3.0, testutil.ToFloat64(exporter.activeAllocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.pendingAllocations))
}

func TestSharedRegistryGathers(t *testing.T) {
	registry := prometheus.NewRegistry()
	exporter := NewExporter(registry)
	require.Same(t, registry, exporter.Registry())

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fractal_queue_depth"])
	assert.True(t, names["fractal_allocations_active"])
}
