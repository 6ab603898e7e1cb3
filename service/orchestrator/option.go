package orchestrator

import "github.com/inferenceops/fractal/service/allocator"

// Option customises the orchestrator at construction time.
type Option func(*Service)

// WithManagerConfig sets the embedded allocation manager configuration.
func WithManagerConfig(config allocator.Config) Option {
	return func(s *Service) {
		s.managerConfig = config
	}
}
