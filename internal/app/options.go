package service

import (
	"github.com/okian/beerduel/internal/adapters/repository"
	"github.com/okian/beerduel/internal/config"
	"github.com/okian/beerduel/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a store instead of building one from the config. The
// caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRandom replaces the pair selection random source.
func WithRandom(f func(n int) int) Option {
	return func(s *Service) {
		s.intN = f
	}
}
