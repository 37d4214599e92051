package service

import (
	"github.com/okian/expertrank/internal/adapters/repository"
	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/config"
	"github.com/okian/expertrank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the process configuration. Defaults come from config.New.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
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

// WithRepository uses repo instead of opening one from the configuration.
// The service closes it on shutdown.
func WithRepository(repo repository.Store) Option {
	return func(s *Service) {
		if repo != nil {
			s.repo = repo
		}
	}
}

// WithScoreStore uses store instead of opening one from the configuration.
// The service closes it on shutdown.
func WithScoreStore(store scorestore.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.scores = store
		}
	}
}
