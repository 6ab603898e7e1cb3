package admission

import (
	"sync"
	"time"

	madmission "github.com/inferenceops/fractal/model/admission"
)

// Action is the backpressure decision applied to incoming requests.
type Action string

const (
	ActionAllowAll          Action = "ALLOW_ALL"
	ActionRateLimit         Action = "RATE_LIMIT"
	ActionPriorityOnly      Action = "PRIORITY_ONLY"
	ActionEmergencyThrottle Action = "EMERGENCY_THROTTLE"
	ActionRejectNew         Action = "REJECT_NEW"
)

// Level is the queue pressure severity derived from depth and wait time.
type Level int

const (
	LevelEmpty Level = iota
	LevelLow
	LevelNormal
	LevelHigh
	LevelCritical
	LevelOverflowing
)

// String returns the canonical level name.
func (l Level) String() string {
	switch l {
	case LevelEmpty:
		return "EMPTY"
	case LevelLow:
		return "LOW"
	case LevelNormal:
		return "NORMAL"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	case LevelOverflowing:
		return "OVERFLOWING"
	default:
		return "UNKNOWN"
	}
}

// Policy holds the flow-control thresholds. The depth and wait values are
// operator policy, not product constants; DefaultPolicy mirrors a
// mid-sized deployment.
type Policy struct {
	// Depth thresholds: exceeding a threshold raises the level it names.
	DepthNormal      int `json:"depthNormal" yaml:"depthNormal" mapstructure:"depthNormal"`
	DepthHigh        int `json:"depthHigh" yaml:"depthHigh" mapstructure:"depthHigh"`
	DepthCritical    int `json:"depthCritical" yaml:"depthCritical" mapstructure:"depthCritical"`
	DepthOverflowing int `json:"depthOverflowing" yaml:"depthOverflowing" mapstructure:"depthOverflowing"`

	// Wait thresholds escalate the level regardless of depth.
	RateLimitWait time.Duration `json:"rateLimitWait" yaml:"rateLimitWait" mapstructure:"rateLimitWait"`
	PriorityWait  time.Duration `json:"priorityWait" yaml:"priorityWait" mapstructure:"priorityWait"`
	ThrottleWait  time.Duration `json:"throttleWait" yaml:"throttleWait" mapstructure:"throttleWait"`
	RejectWait    time.Duration `json:"rejectWait" yaml:"rejectWait" mapstructure:"rejectWait"`

	// Throughput caps reported alongside rate-limiting actions, as a share
	// of current throughput.
	RateLimitFactor float64 `json:"rateLimitFactor" yaml:"rateLimitFactor" mapstructure:"rateLimitFactor"`
	ThrottleFactor  float64 `json:"throttleFactor" yaml:"throttleFactor" mapstructure:"throttleFactor"`
}

// DefaultPolicy returns the default flow-control thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DepthNormal:      10,
		DepthHigh:        50,
		DepthCritical:    100,
		DepthOverflowing: 200,
		RateLimitWait:    time.Second,
		PriorityWait:     5 * time.Second,
		ThrottleWait:     10 * time.Second,
		RejectWait:       20 * time.Second,
		RateLimitFactor:  0.8,
		ThrottleFactor:   0.5,
	}
}

// Decision is the outcome of one flow-control evaluation.
type Decision struct {
	Level        Level   `json:"level"`
	Action       Action  `json:"action"`
	RateLimitQPS float64 `json:"rate_limit_qps,omitempty"`
}

// FlowController maps queue metrics to backpressure actions. The action is
// recomputed on every call; the last decision is retained only for
// reporting.
type FlowController struct {
	policy Policy

	mu   sync.Mutex
	last Decision
}

// NewFlowController creates a controller with the supplied policy.
func NewFlowController(policy Policy) *FlowController {
	return &FlowController{policy: policy}
}

// Evaluate derives the severity level from current depth, escalates it by
// wait time, and maps the result to an action.
func (c *FlowController) Evaluate(m Metrics) Decision {
	level := c.depthLevel(m.Depth)
	if waitLevel := c.waitLevel(m.CurrentWait); waitLevel > level {
		level = waitLevel
	}

	decision := Decision{Level: level}
	switch {
	case level >= LevelOverflowing:
		decision.Action = ActionRejectNew
	case level >= LevelCritical:
		decision.Action = ActionEmergencyThrottle
		decision.RateLimitQPS = m.ThroughputQPS * c.policy.ThrottleFactor
	case level >= LevelHigh:
		decision.Action = ActionPriorityOnly
	case level >= LevelNormal:
		decision.Action = ActionRateLimit
		decision.RateLimitQPS = m.ThroughputQPS * c.policy.RateLimitFactor
	default:
		decision.Action = ActionAllowAll
	}

	c.mu.Lock()
	c.last = decision
	c.mu.Unlock()
	return decision
}

func (c *FlowController) depthLevel(depth int) Level {
	switch {
	case depth > c.policy.DepthOverflowing:
		return LevelOverflowing
	case depth > c.policy.DepthCritical:
		return LevelCritical
	case depth > c.policy.DepthHigh:
		return LevelHigh
	case depth > c.policy.DepthNormal:
		return LevelNormal
	case depth > 0:
		return LevelLow
	default:
		return LevelEmpty
	}
}

func (c *FlowController) waitLevel(wait time.Duration) Level {
	switch {
	case wait > c.policy.RejectWait:
		return LevelOverflowing
	case wait > c.policy.ThrottleWait:
		return LevelCritical
	case wait > c.policy.PriorityWait:
		return LevelHigh
	case wait > c.policy.RateLimitWait:
		return LevelNormal
	default:
		return LevelEmpty
	}
}

// ShouldAccept applies the action table as an admission predicate.
func (c *FlowController) ShouldAccept(req *madmission.Request, m Metrics) bool {
	decision := c.Evaluate(m)
	switch decision.Action {
	case ActionRejectNew:
		return false
	case ActionEmergencyThrottle:
		return req.Priority == madmission.PriorityCritical
	case ActionPriorityOnly:
		return req.Priority >= madmission.PriorityHigh
	default:
		return true
	}
}

// LastDecision returns the most recent evaluation for reporting.
func (c *FlowController) LastDecision() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
