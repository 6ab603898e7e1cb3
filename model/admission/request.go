package admission

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is wrapped by every construction-time invariant violation.
var ErrValidation = errors.New("invalid queue request")

// Priority orders queued requests into bands; strict priority across
// bands, FIFO within a band.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the canonical name of the priority band.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Valid reports whether p names a known band.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Request is a unit of inference work awaiting admission.
type Request struct {
	RequestID       string        `json:"request_id"`
	Priority        Priority      `json:"priority"`
	ArrivalTime     time.Time     `json:"arrival_time"`
	EstimatedTokens int           `json:"estimated_tokens"`
	ModelName       string        `json:"model_name"`
	Timeout         time.Duration `json:"timeout"`
}

// Validate checks construction-time invariants.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("%w: empty request id", ErrValidation)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %d", ErrValidation, int(r.Priority))
	}
	if r.EstimatedTokens <= 0 {
		return fmt.Errorf("%w: estimated tokens %d must be positive", ErrValidation, r.EstimatedTokens)
	}
	if r.ModelName == "" {
		return fmt.Errorf("%w: empty model name", ErrValidation)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %v must be positive", ErrValidation, r.Timeout)
	}
	return nil
}

// Expired reports whether the request outlived its timeout budget.
func (r *Request) Expired(now time.Time) bool {
	return now.Sub(r.ArrivalTime) > r.Timeout
}

// Completed archives a finished request together with its timing metadata.
type Completed struct {
	Request        `json:"request"`
	CompletedAt    time.Time     `json:"completed_at"`
	WaitTime       time.Duration `json:"wait_time"`
	ProcessingTime time.Duration `json:"processing_time"`
}
