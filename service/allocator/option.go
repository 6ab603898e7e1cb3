package allocator

import "github.com/inferenceops/fractal/model/allocation"

// Option customises the service at construction time.
type Option func(*Service)

// WithConfig sets the service configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithReleaseHandler registers a callback invoked once a release completes
// and the fraction reaches RELEASED. The handler runs outside the service
// lock.
func WithReleaseHandler(handler func(allocation.GPUFraction)) Option {
	return func(s *Service) {
		s.onReleased = handler
	}
}
