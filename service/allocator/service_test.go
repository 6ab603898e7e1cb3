package allocator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferenceops/fractal/internal/clock"
	"github.com/inferenceops/fractal/model/allocation"
)

func immediateConfig() Config {
	cfg := DefaultConfig()
	cfg.ProvisionDelay = 0
	cfg.DeprovisionDelay = 0
	return cfg
}

func newRequest(id string, size float64, memoryMB, priority int, maxWait time.Duration) *allocation.Request {
	return &allocation.Request{
		RequestID:    id,
		WorkloadID:   "wl-" + id,
		Size:         size,
		MemoryMB:     memoryMB,
		ComputeUnits: 10,
		Priority:     priority,
		MaxWait:      maxWait,
	}
}

func singleGPU(memoryMB int) []allocation.CapacitySnapshot {
	return []allocation.CapacitySnapshot{
		{GPUID: "gpu-0", AvailableFraction: 1.0, AvailableMemoryMB: memoryMB, AvailableCompute: 100},
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := New(WithConfig(immediateConfig()))

	err := svc.Submit(newRequest("", 0.5, 1024, 5, time.Minute))
	assert.ErrorIs(t, err, allocation.ErrValidation)

	err = svc.Submit(newRequest("r-1", 1.5, 1024, 5, time.Minute))
	assert.ErrorIs(t, err, allocation.ErrValidation)

	err = svc.Submit(newRequest("r-2", 0.5, 1024, 11, time.Minute))
	assert.ErrorIs(t, err, allocation.ErrValidation)

	err = svc.Submit(newRequest("r-3", 0.5, 1024, 5, time.Minute))
	assert.NoError(t, err)
}

func TestProcessGrantsFirstFit(t *testing.T) {
	svc := New(WithConfig(immediateConfig()))
	require.NoError(t, svc.Submit(newRequest("r-1", 0.5, 2048, 5, time.Minute)))

	snapshot := []allocation.CapacitySnapshot{
		{GPUID: "gpu-small", AvailableFraction: 0.25, AvailableMemoryMB: 8192, AvailableCompute: 100},
		{GPUID: "gpu-fit", AvailableFraction: 1.0, AvailableMemoryMB: 8192, AvailableCompute: 100},
		{GPUID: "gpu-late", AvailableFraction: 1.0, AvailableMemoryMB: 8192, AvailableCompute: 100},
	}
	granted := svc.Process(snapshot)
	require.Len(t, granted, 1)
	assert.Equal(t, "gpu-fit", granted[0].GPUID)
	assert.Equal(t, allocation.StatusAllocated, granted[0].Status)
	assert.Equal(t, 0.5, granted[0].Size)
	assert.Equal(t, 2048, granted[0].MemoryMB)
}

func TestProcessPriorityOrder(t *testing.T) {
	svc := New(WithConfig(immediateConfig()))

	// Submit LOW first; CRITICAL must still win the single slot.
	low := newRequest("r-low", 1.0, 4096, 2, time.Minute)
	critical := newRequest("r-critical", 1.0, 4096, 10, time.Minute)
	require.NoError(t, svc.Submit(low))
	require.NoError(t, svc.Submit(critical))

	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 1)
	assert.Equal(t, "wl-r-critical", granted[0].WorkloadID)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 1, stats.ActiveCount)
}

func TestProcessPriorityBeforeFIFO(t *testing.T) {
	svc := New(WithConfig(immediateConfig()))

	require.NoError(t, svc.Submit(newRequest("r-a", 0.25, 1024, 3, time.Minute)))
	require.NoError(t, svc.Submit(newRequest("r-b", 0.25, 1024, 8, time.Minute)))
	require.NoError(t, svc.Submit(newRequest("r-c", 0.25, 1024, 8, time.Minute)))

	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 3)
	// Higher priority first, FIFO within the band.
	assert.Equal(t, "wl-r-b", granted[0].WorkloadID)
	assert.Equal(t, "wl-r-c", granted[1].WorkloadID)
	assert.Equal(t, "wl-r-a", granted[2].WorkloadID)
}

func TestProcessNeverOverCommitsGPU(t *testing.T) {
	svc := New(WithConfig(immediateConfig()))
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Submit(newRequest(string(rune('a'+i)), 0.3, 1024, 5, time.Minute)))
	}

	granted := svc.Process(singleGPU(16384))
	var total float64
	for _, f := range granted {
		total += f.Size
	}
	assert.LessOrEqual(t, total, 1.0+1e-9)
	assert.Len(t, granted, 3)

	stats := svc.Stats()
	assert.Equal(t, 2, stats.PendingCount)
}

func TestProcessDropsExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return base }
	defer func() { clock.NowFunc = time.Now }()

	svc := New(WithConfig(immediateConfig()))
	require.NoError(t, svc.Submit(newRequest("r-short", 0.5, 1024, 5, time.Second)))
	require.NoError(t, svc.Submit(newRequest("r-long", 0.5, 1024, 5, time.Hour)))

	clock.NowFunc = func() time.Time { return base.Add(2 * time.Second) }
	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 1)
	assert.Equal(t, "wl-r-long", granted[0].WorkloadID)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.ExpiredCount)
	assert.Equal(t, 0, stats.PendingCount)
}

func TestReleaseLifecycle(t *testing.T) {
	var released []allocation.GPUFraction
	svc := New(
		WithConfig(immediateConfig()),
		WithReleaseHandler(func(f allocation.GPUFraction) { released = append(released, f) }),
	)
	require.NoError(t, svc.Submit(newRequest("r-1", 0.5, 1024, 5, time.Minute)))
	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 1)

	require.NoError(t, svc.Release(granted[0].FractionID))
	require.Len(t, released, 1)
	assert.Equal(t, allocation.StatusReleased, released[0].Status)
	assert.False(t, released[0].ReleasedAt.IsZero())

	// Double release reports not found.
	err := svc.Release(granted[0].FractionID)
	assert.ErrorIs(t, err, ErrNotFound)

	stats := svc.Stats()
	assert.Equal(t, 0, stats.ActiveCount)
	assert.Equal(t, 1, stats.CompletedCount)
}

func TestProvisioningStartsFromPending(t *testing.T) {
	cfg := immediateConfig()
	cfg.ProvisionDelay = 20 * time.Millisecond
	svc := New(WithConfig(cfg))

	f := &allocation.GPUFraction{FractionID: "f-1", Status: allocation.StatusPending}
	svc.mu.Lock()
	svc.active[f.FractionID] = f
	svc.scheduleProvisionLocked(f)
	assert.Equal(t, allocation.StatusProvisioning, f.Status)
	svc.mu.Unlock()

	assert.Eventually(t, func() bool {
		got, ok := svc.Fraction("f-1")
		return ok && got.Status == allocation.StatusAllocated
	}, time.Second, 5*time.Millisecond)
}

func TestDeferredProvisioning(t *testing.T) {
	cfg := immediateConfig()
	cfg.ProvisionDelay = 20 * time.Millisecond
	svc := New(WithConfig(cfg))

	require.NoError(t, svc.Submit(newRequest("r-1", 0.5, 1024, 5, time.Minute)))
	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 1)
	assert.Equal(t, allocation.StatusProvisioning, granted[0].Status)

	// Release before the grant finished provisioning is rejected.
	err := svc.Release(granted[0].FractionID)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		f, ok := svc.Fraction(granted[0].FractionID)
		return ok && f.Status == allocation.StatusAllocated
	}, time.Second, 5*time.Millisecond)
}

func TestDeferredRelease(t *testing.T) {
	cfg := immediateConfig()
	cfg.DeprovisionDelay = 20 * time.Millisecond
	done := make(chan allocation.GPUFraction, 1)
	svc := New(
		WithConfig(cfg),
		WithReleaseHandler(func(f allocation.GPUFraction) { done <- f }),
	)

	require.NoError(t, svc.Submit(newRequest("r-1", 0.5, 1024, 5, time.Minute)))
	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 1)

	require.NoError(t, svc.Release(granted[0].FractionID))
	f, ok := svc.Fraction(granted[0].FractionID)
	require.True(t, ok)
	assert.Equal(t, allocation.StatusDeprovisioning, f.Status)

	select {
	case released := <-done:
		assert.Equal(t, allocation.StatusReleased, released.Status)
	case <-time.After(time.Second):
		t.Fatal("release did not complete")
	}
}

func TestFailRemovesGrant(t *testing.T) {
	svc := New(WithConfig(immediateConfig()))
	require.NoError(t, svc.Submit(newRequest("r-1", 0.5, 1024, 5, time.Minute)))
	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 1)

	require.NoError(t, svc.Fail(granted[0].FractionID))
	_, ok := svc.Fraction(granted[0].FractionID)
	assert.False(t, ok)
	assert.ErrorIs(t, svc.Fail(granted[0].FractionID), ErrNotFound)
}

func TestHistoryCapped(t *testing.T) {
	cfg := immediateConfig()
	cfg.HistoryLimit = 2
	svc := New(WithConfig(cfg))

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.Submit(newRequest(string(rune('a'+i)), 0.1, 512, 5, time.Minute)))
	}
	granted := svc.Process(singleGPU(8192))
	require.Len(t, granted, 4)
	for _, f := range granted {
		require.NoError(t, svc.Release(f.FractionID))
	}
	assert.Equal(t, 2, svc.Stats().CompletedCount)
}
