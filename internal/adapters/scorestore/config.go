package scorestore

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/expertrank/pkg/logger"
)

// Config controls how the Badger database is opened.
type Config struct {
	// Path is the data directory. Empty means in-memory.
	Path       string
	SyncWrites bool
	// GCInterval is how often the value log is collected. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         logger.Logger
}

// DefaultConfig returns a persistent configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests and ephemeral runs.
func InMemoryConfig() Config {
	return Config{GCDiscardRatio: 0.5}
}

// badgerLogger routes Badger's internal logging into the service logger.
type badgerLogger struct {
	logger logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, args...))
}
