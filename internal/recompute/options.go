package recompute

import (
	"time"

	"github.com/okian/expertrank/internal/domain/dedupe"
	"github.com/okian/expertrank/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithQueue sets where OnMutation hands events.
func WithQueue(q Enqueuer) Option {
	return func(o *Orchestrator) {
		if q != nil {
			o.queue = q
		}
	}
}

// WithDeduper sets the event id deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.dedupe = d
		}
	}
}

// WithRanker sets the leaderboard fed with every aggregate.
func WithRanker(r Ranker) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.ranker = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConcurrency bounds concurrent pair and aggregate work per event.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPairTimeout sets the deadline of one pair computation.
func WithPairTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pairTimeout = d
		}
	}
}

// WithStorageRetry sets the retry budget for storage calls.
func WithStorageRetry(attempts int, initial, maxInterval time.Duration) Option {
	return func(o *Orchestrator) {
		if attempts > 0 {
			o.retryAttempts = uint(attempts)
		}
		if initial > 0 {
			o.retryInitial = initial
		}
		if maxInterval > 0 {
			o.retryMax = maxInterval
		}
	}
}

// WithFailedLedgerSize bounds how many failed events are kept.
func WithFailedLedgerSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.ledgerSize = n
		}
	}
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
