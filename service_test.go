package fractal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	madmission "github.com/inferenceops/fractal/model/admission"
)

func newTestConfig() Config {
	config := DefaultConfig()
	config.GPUs = []GPUConfig{
		{GPUID: "gpu-0", GPUType: "A100"},
		{GPUID: "gpu-1", GPUType: "A100"},
	}
	config.Allocator.ProvisionDelay = 0
	config.Allocator.DeprovisionDelay = 0
	config.Dispatcher.PollInterval = 5 * time.Millisecond
	config.MetricsInterval = 10 * time.Millisecond
	return config
}

func newRequest(id string, priority madmission.Priority, tokens int) *madmission.Request {
	return &madmission.Request{
		RequestID:       id,
		Priority:        priority,
		EstimatedTokens: tokens,
		ModelName:       "llama-70b",
		Timeout:         time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	assert.NoError(t, config.Validate())

	config.DefaultGPUType = ""
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.GPUs = []GPUConfig{{GPUID: "gpu-0"}, {GPUID: "gpu-0"}}
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Dispatcher.Workers = 0
	assert.Error(t, config.Validate())
}

func TestLoadConfig(t *testing.T) {
	document := `
logLevel: debug
defaultGPUType: H100
gpus:
  - gpuId: gpu-0
    gpuType: H100
queue:
  maxQueueSize: 5
dispatcher:
  workers: 2
  pollInterval: 10ms
`
	path := filepath.Join(t.TempDir(), "fractal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "H100", config.DefaultGPUType)
	require.Len(t, config.GPUs, 1)
	assert.Equal(t, "gpu-0", config.GPUs[0].GPUID)
	assert.Equal(t, 5, config.Queue.MaxQueueSize)
	assert.Equal(t, 2, config.Dispatcher.Workers)
	assert.Equal(t, 10*time.Millisecond, config.Dispatcher.PollInterval)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Flow, config.Flow)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStartRejectsUnknownGPUType(t *testing.T) {
	config := newTestConfig()
	config.GPUs[0].GPUType = "TPU-V9"
	svc, err := New(WithConfig(config))
	require.NoError(t, err)
	assert.Error(t, svc.Start(context.Background()))
}

func TestEndToEndAdmissionToAllocation(t *testing.T) {
	svc, err := New(WithConfig(newTestConfig()))
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown()
	assert.Error(t, svc.Start(context.Background()))

	for i := 0; i < 4; i++ {
		admitted, err := svc.Enqueue(newRequest(fmt.Sprintf("req-%d", i), madmission.PriorityNormal, 2048))
		require.NoError(t, err)
		require.True(t, admitted)
	}

	assert.Eventually(t, func() bool {
		return svc.QueueMetrics().TotalCompleted == 4
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		status := svc.SystemStatus()
		return status.Allocations.ActiveCount == 4 && status.FractionUtilization > 0
	}, 2*time.Second, 10*time.Millisecond)

	status := svc.QueueStatus()
	assert.Equal(t, 0, status.Metrics.Depth)
	assert.Equal(t, 4, status.Metrics.TotalEnqueued)
}

func TestReleaseThroughPool(t *testing.T) {
	svc, err := New(WithConfig(newTestConfig()))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown()

	admitted, err := svc.Enqueue(newRequest("req-0", madmission.PriorityHigh, 4096))
	require.NoError(t, err)
	require.True(t, admitted)

	require.Eventually(t, func() bool {
		return svc.SystemStatus().Allocations.ActiveCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	history := svc.Queue().History()
	require.Len(t, history, 1)

	manager := svc.Pool().Manager()
	stats := manager.Stats()
	require.Equal(t, 1, stats.ActiveCount)
}

func TestMetricsSampling(t *testing.T) {
	svc, err := New(WithConfig(newTestConfig()))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Shutdown()

	admitted, err := svc.Enqueue(newRequest("req-0", madmission.PriorityNormal, 1024))
	require.NoError(t, err)
	require.True(t, admitted)

	assert.Eventually(t, func() bool {
		families, err := svc.Exporter().Registry().Gather()
		if err != nil {
			return false
		}
		for _, f := range families {
			if f.GetName() == "fractal_allocations_active" {
				return f.GetMetric()[0].GetGauge().GetValue() == 1
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
