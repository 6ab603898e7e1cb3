package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferenceops/fractal/internal/clock"
	"github.com/inferenceops/fractal/logging"
	madmission "github.com/inferenceops/fractal/model/admission"
	"github.com/inferenceops/fractal/service/admission"
	"github.com/inferenceops/fractal/service/catalog"
	"github.com/inferenceops/fractal/service/messaging"
	"github.com/inferenceops/fractal/service/orchestrator"
	"github.com/inferenceops/fractal/tracing"
)

// Work is one admitted request travelling from the queue to a worker.
type Work struct {
	Request    *madmission.Request
	DequeuedAt time.Time
}

// Sizer translates a queue request into the fractional resources it needs.
type Sizer func(req *madmission.Request) (size float64, memoryMB, computeUnits int)

// defaultTokensPerGPU is the sizing heuristic denominator: a request of
// this many tokens asks for a whole GPU.
const defaultTokensPerGPU = 8192

// minFractionSize keeps tiny requests from rounding to an unschedulable
// zero share.
const minFractionSize = 0.05

// ProfileSizer builds a Sizer that scales the given technology profile by
// estimated token count.
func ProfileSizer(profile catalog.Profile) Sizer {
	return func(req *madmission.Request) (float64, int, int) {
		size := float64(req.EstimatedTokens) / defaultTokensPerGPU
		if size < minFractionSize {
			size = minFractionSize
		}
		if size > 1 {
			size = 1
		}
		memoryMB := int(size * float64(profile.MemoryMB))
		if memoryMB < 1 {
			memoryMB = 1
		}
		computeUnits := int(size * float64(profile.ComputeUnits))
		if computeUnits < 1 {
			computeUnits = 1
		}
		return size, memoryMB, computeUnits
	}
}

// allocationPriority maps queue priority bands onto the wider allocation
// priority scale.
func allocationPriority(p madmission.Priority) int {
	switch p {
	case madmission.PriorityCritical:
		return 10
	case madmission.PriorityHigh:
		return 8
	case madmission.PriorityNormal:
		return 5
	default:
		return 2
	}
}

// Config represents dispatcher configuration.
type Config struct {
	// Workers is the number of goroutines processing admitted work.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// PollInterval is how often the loop drains the admission queue.
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval" mapstructure:"pollInterval"`

	// AllocationWait is the patience budget attached to the allocation
	// requests a worker submits.
	AllocationWait time.Duration `json:"allocationWait" yaml:"allocationWait" mapstructure:"allocationWait"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		PollInterval:   20 * time.Millisecond,
		AllocationWait: 30 * time.Second,
	}
}

// Service owns the polling loop and the worker pool.
type Service struct {
	config Config
	queue  *admission.Manager
	pool   *orchestrator.Service
	work   messaging.Queue[Work]
	sizer  Sizer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a dispatcher. Queue, pool and work queue are required.
func New(queue *admission.Manager, pool *orchestrator.Service, work messaging.Queue[Work], options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		queue:  queue,
		pool:   pool,
		work:   work,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.queue == nil {
		return nil, fmt.Errorf("admission queue is required")
	}
	if s.pool == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if s.work == nil {
		return nil, fmt.Errorf("work queue is required")
	}
	if s.sizer == nil {
		s.sizer = ProfileSizer(catalog.Profile{MemoryMB: 40960, ComputeUnits: 100})
	}
	if s.config.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive")
	}
	return s, nil
}

// Start launches the polling loop and the workers. They run until the
// context is cancelled or Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.pollLoop(ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}
	return nil
}

// Shutdown stops the loop and workers and waits for them to drain.
func (s *Service) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	logger := logging.GetLogger(ctx).WithField("component", "dispatcher")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx, logger)
		}
	}
}

// drain moves every currently admitted request into the work queue.
func (s *Service) drain(ctx context.Context, logger *logrus.Entry) {
	for {
		req := s.queue.Dequeue()
		if req == nil {
			return
		}
		w := Work{Request: req, DequeuedAt: clock.Now()}
		if err := s.work.Publish(ctx, &w); err != nil {
			logger.Debugf("stopping drain: %v", err)
			return
		}
	}
}

func (s *Service) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()

	logger := logging.GetLogger(ctx).WithField("component", "dispatcher").WithField("worker", id)
	for {
		msg, err := s.work.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			continue
		}
		if err := s.handle(ctx, msg.T()); err != nil {
			logger.Debugf("work item failed: %v", err)
			_ = msg.Nack(err)
			continue
		}
		_ = msg.Ack()
	}
}

// handle turns one admitted request into an allocation request, runs a
// scheduling pass and completes the queue entry.
func (s *Service) handle(ctx context.Context, w *Work) (err error) {
	ctx, span := tracing.StartSpan(ctx, "dispatcher.handle", "CONSUMER")
	defer func() { tracing.EndSpan(span, err) }()

	req := w.Request
	span.WithAttributes(map[string]string{
		"request.id":    req.RequestID,
		"request.model": req.ModelName,
	})

	size, memoryMB, computeUnits := s.sizer(req)
	_, err = s.pool.RequestAllocation(ctx, req.RequestID, size, memoryMB, computeUnits,
		allocationPriority(req.Priority), s.config.AllocationWait)
	if err != nil {
		return fmt.Errorf("submitting allocation for %s: %w", req.RequestID, err)
	}
	s.pool.ProcessAllocations(ctx)

	processing := clock.Now().Sub(w.DequeuedAt)
	if completeErr := s.queue.Complete(req.RequestID, processing); completeErr != nil {
		if errors.Is(completeErr, admission.ErrNotInFlight) {
			// The request expired out of the in-flight map while the worker
			// held it. Terminal: a redelivery would submit a second
			// allocation for a request nobody is waiting on.
			logging.GetLogger(ctx).WithField("component", "dispatcher").
				Debugf("request %s no longer in flight, not retrying", req.RequestID)
			return nil
		}
		return completeErr
	}
	return nil
}
