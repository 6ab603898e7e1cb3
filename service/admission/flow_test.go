package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	madmission "github.com/inferenceops/fractal/model/admission"
)

func request(p madmission.Priority) *madmission.Request {
	return &madmission.Request{
		RequestID:       "r-1",
		Priority:        p,
		ArrivalTime:     time.Now(),
		EstimatedTokens: 128,
		ModelName:       "llama-3-70b",
		Timeout:         30 * time.Second,
	}
}

func TestEvaluateDepthLadder(t *testing.T) {
	c := NewFlowController(DefaultPolicy())

	cases := []struct {
		depth  int
		level  Level
		action Action
	}{
		{0, LevelEmpty, ActionAllowAll},
		{5, LevelLow, ActionAllowAll},
		{11, LevelNormal, ActionRateLimit},
		{51, LevelHigh, ActionPriorityOnly},
		{101, LevelCritical, ActionEmergencyThrottle},
		{201, LevelOverflowing, ActionRejectNew},
	}
	for _, tc := range cases {
		d := c.Evaluate(Metrics{Depth: tc.depth})
		assert.Equal(t, tc.level, d.Level, "depth %d", tc.depth)
		assert.Equal(t, tc.action, d.Action, "depth %d", tc.depth)
	}
}

func TestEvaluateWaitEscalates(t *testing.T) {
	c := NewFlowController(DefaultPolicy())

	// Shallow queue, but wait time forces escalation.
	d := c.Evaluate(Metrics{Depth: 3, CurrentWait: 2 * time.Second})
	assert.Equal(t, ActionRateLimit, d.Action)

	d = c.Evaluate(Metrics{Depth: 3, CurrentWait: 6 * time.Second})
	assert.Equal(t, ActionPriorityOnly, d.Action)

	d = c.Evaluate(Metrics{Depth: 3, CurrentWait: 11 * time.Second})
	assert.Equal(t, ActionEmergencyThrottle, d.Action)
	assert.Equal(t, LevelCritical, d.Level)

	d = c.Evaluate(Metrics{Depth: 3, CurrentWait: 21 * time.Second})
	assert.Equal(t, ActionRejectNew, d.Action)

	// Wait never de-escalates a depth-derived level.
	d = c.Evaluate(Metrics{Depth: 201, CurrentWait: 0})
	assert.Equal(t, ActionRejectNew, d.Action)
}

func TestEvaluateRateLimits(t *testing.T) {
	c := NewFlowController(DefaultPolicy())

	d := c.Evaluate(Metrics{Depth: 11, ThroughputQPS: 40})
	assert.Equal(t, ActionRateLimit, d.Action)
	assert.InDelta(t, 32.0, d.RateLimitQPS, 1e-9)

	d = c.Evaluate(Metrics{Depth: 101, ThroughputQPS: 40})
	assert.Equal(t, ActionEmergencyThrottle, d.Action)
	assert.InDelta(t, 20.0, d.RateLimitQPS, 1e-9)
}

func TestShouldAccept(t *testing.T) {
	c := NewFlowController(DefaultPolicy())

	// Idle queue with ALLOW_ALL admits everything.
	assert.True(t, c.ShouldAccept(request(madmission.PriorityLow), Metrics{}))

	// wait > reject threshold rejects everything, CRITICAL included.
	over := Metrics{CurrentWait: 21 * time.Second}
	assert.False(t, c.ShouldAccept(request(madmission.PriorityCritical), over))

	// Emergency throttle admits only CRITICAL.
	throttle := Metrics{CurrentWait: 11 * time.Second}
	assert.True(t, c.ShouldAccept(request(madmission.PriorityCritical), throttle))
	assert.False(t, c.ShouldAccept(request(madmission.PriorityHigh), throttle))

	// Priority-only admits HIGH and CRITICAL.
	prio := Metrics{CurrentWait: 6 * time.Second}
	assert.True(t, c.ShouldAccept(request(madmission.PriorityHigh), prio))
	assert.True(t, c.ShouldAccept(request(madmission.PriorityCritical), prio))
	assert.False(t, c.ShouldAccept(request(madmission.PriorityNormal), prio))

	// Rate limit still admits all priorities.
	rate := Metrics{CurrentWait: 2 * time.Second}
	assert.True(t, c.ShouldAccept(request(madmission.PriorityLow), rate))
}

func TestLastDecision(t *testing.T) {
	c := NewFlowController(DefaultPolicy())
	c.Evaluate(Metrics{Depth: 101})
	assert.Equal(t, ActionEmergencyThrottle, c.LastDecision().Action)
}
