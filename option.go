package fractal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/inferenceops/fractal/service/catalog"
	"github.com/inferenceops/fractal/service/dispatcher"
	"github.com/inferenceops/fractal/service/messaging"
)

// Option customises the service at construction time.
type Option func(*Service)

// WithConfig sets the control plane configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Service) {
		s.logger = entry
	}
}

// WithCatalog supplies a pre-populated profile catalog.
func WithCatalog(cat *catalog.Service) Option {
	return func(s *Service) {
		s.catalog = cat
	}
}

// WithMetricsRegistry registers the exporter against an existing registry.
func WithMetricsRegistry(registry *prometheus.Registry) Option {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithSizer overrides the request sizing heuristic.
func WithSizer(sizer dispatcher.Sizer) Option {
	return func(s *Service) {
		s.sizer = sizer
	}
}

// WithWorkQueue substitutes the transport between the admission queue and
// the dispatcher workers.
func WithWorkQueue(queue messaging.Queue[dispatcher.Work]) Option {
	return func(s *Service) {
		s.work = queue
	}
}
