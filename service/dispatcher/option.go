package dispatcher

// Option customises the service at construction time.
type Option func(*Service)

// WithConfig sets the dispatcher configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithSizer sets the resource sizing function used to translate queue
// requests into allocation requests.
func WithSizer(sizer Sizer) Option {
	return func(s *Service) {
		s.sizer = sizer
	}
}
