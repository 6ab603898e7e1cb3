package fractal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/inferenceops/fractal/logging"
	"github.com/inferenceops/fractal/metrics"
	madmission "github.com/inferenceops/fractal/model/admission"
	"github.com/inferenceops/fractal/service/admission"
	"github.com/inferenceops/fractal/service/catalog"
	"github.com/inferenceops/fractal/service/dispatcher"
	"github.com/inferenceops/fractal/service/messaging"
	"github.com/inferenceops/fractal/service/messaging/memory"
	"github.com/inferenceops/fractal/service/orchestrator"
)

// Service is the assembled control plane.
type Service struct {
	config   Config
	logger   *logrus.Entry
	catalog  *catalog.Service
	pool     *orchestrator.Service
	flow     *admission.FlowController
	queue    *admission.Manager
	work     messaging.Queue[dispatcher.Work]
	sizer    dispatcher.Sizer
	registry *prometheus.Registry
	exporter *metrics.Exporter
	dispatch *dispatcher.Service

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates the control plane. Start launches its background loops.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, opt := range options {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	if s.logger == nil {
		logger, err := logging.NewLogger(s.config.LogLevel, s.config.LogFormat)
		if err != nil {
			return nil, err
		}
		s.logger = logger.WithField("app", "fractal")
	}
	if s.catalog == nil {
		s.catalog = catalog.New()
	}
	if s.work == nil {
		s.work = memory.NewQueue[dispatcher.Work](memory.DefaultConfig())
	}

	s.pool = orchestrator.New(s.catalog, orchestrator.WithManagerConfig(s.config.Allocator))
	s.flow = admission.NewFlowController(s.config.Flow)
	s.queue = admission.NewManager(s.flow, admission.WithConfig(s.config.Queue))
	s.exporter = metrics.NewExporter(s.registry)
	return s, nil
}

// Start loads the catalog, registers the configured GPUs and launches the
// dispatcher and the metrics sampling loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}

	ctx = logging.WithLogger(ctx, s.logger)
	ctx, cancel := context.WithCancel(ctx)

	if s.config.CatalogURL != "" {
		if err := s.catalog.Load(ctx, s.config.CatalogURL); err != nil {
			cancel()
			return fmt.Errorf("loading catalog: %w", err)
		}
	}
	for _, gpu := range s.config.GPUs {
		gpuType := gpu.GPUType
		if gpuType == "" {
			gpuType = s.config.DefaultGPUType
		}
		if err := s.pool.AddGPU(gpu.GPUID, gpuType, gpu.MemoryMB, gpu.ComputeUnits); err != nil {
			cancel()
			return fmt.Errorf("registering %s: %w", gpu.GPUID, err)
		}
	}

	if s.sizer == nil {
		profile, ok := s.catalog.Lookup(s.config.DefaultGPUType)
		if !ok {
			cancel()
			return fmt.Errorf("default GPU type %s not in catalog", s.config.DefaultGPUType)
		}
		s.sizer = dispatcher.ProfileSizer(profile)
	}

	dispatch, err := dispatcher.New(s.queue, s.pool, s.work,
		dispatcher.WithConfig(s.config.Dispatcher),
		dispatcher.WithSizer(s.sizer))
	if err != nil {
		cancel()
		return err
	}
	s.dispatch = dispatch
	if err := s.dispatch.Start(ctx); err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	s.started = true
	s.wg.Add(1)
	go s.sampleMetrics(ctx)

	s.logger.WithFields(logrus.Fields{
		"gpus":    len(s.config.GPUs),
		"workers": s.config.Dispatcher.Workers,
	}).Info("control plane started")
	return nil
}

// Shutdown stops the background loops and waits for them to drain.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	s.dispatch.Shutdown()
	s.wg.Wait()
	s.started = false
	s.logger.Info("control plane stopped")
}

func (s *Service) sampleMetrics(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.exporter.ObserveQueue(s.queue.Metrics())
			s.exporter.ObserveSystem(s.pool.SystemStatus())
		}
	}
}

// Enqueue submits a request for admission. The boolean reports admission.
func (s *Service) Enqueue(req *madmission.Request) (bool, error) {
	return s.queue.Enqueue(req)
}

// QueueStatus returns queue metrics with the latest flow-control decision.
func (s *Service) QueueStatus() admission.Status { return s.queue.Status() }

// QueueMetrics returns the current queue metrics snapshot.
func (s *Service) QueueMetrics() admission.Metrics { return s.queue.Metrics() }

// SystemStatus returns the aggregated pool view.
func (s *Service) SystemStatus() orchestrator.SystemStatus { return s.pool.SystemStatus() }

// Pool exposes the orchestrator for direct allocation control.
func (s *Service) Pool() *orchestrator.Service { return s.pool }

// Queue exposes the admission manager.
func (s *Service) Queue() *admission.Manager { return s.queue }

// Catalog exposes the GPU profile catalog.
func (s *Service) Catalog() *catalog.Service { return s.catalog }

// Exporter exposes the metrics exporter and its registry.
func (s *Service) Exporter() *metrics.Exporter { return s.exporter }
