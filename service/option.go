package service

import "log/slog"

// Option is a function that allows configuring the Service.
type Option func(*Service)

// WithApply sets whether compiled scripts are executed right away. If
// disabled, scripts are only written, and take effect the next time the
// interface hooks run.
func WithApply(apply bool) Option {
	return func(s *Service) {
		s.apply = apply
	}
}

// WithMetricsFile sets the path metrics are exported to after every pass.
func WithMetricsFile(path string) Option {
	return func(s *Service) {
		s.metricsFile = path
	}
}

// WithLogger sets the logger used by the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With("component", "service")
	}
}
