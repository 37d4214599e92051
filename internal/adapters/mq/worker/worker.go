package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/pkg/logger"
	"github.com/okian/expertrank/pkg/metrics"
)

const defaultWorkerMultiplier = 2

// Source is where workers take events from.
type Source interface {
	Next(ctx context.Context) (model.MutationEvent, bool)
	Close() error
}

// Processor runs one mutation event to completion.
type Processor interface {
	Process(ctx context.Context, ev model.MutationEvent) error
}

// Pool runs a fixed number of workers over a Source.
type Pool struct {
	source    Source
	processor Processor
	size      int
	logger    logger.Logger

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewPool creates a worker pool. Call Start to run it.
func NewPool(source Source, processor Processor, opts ...Option) *Pool {
	p := &Pool{
		source:    source,
		processor: processor,
		size:      runtime.NumCPU() * defaultWorkerMultiplier,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. They stop when ctx is done or the source is
// closed and drained.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, p.logger.Named("worker-"+strconv.Itoa(i)))
	}
	metrics.UpdateWorkerActiveCount(p.size)
}

func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()
	for {
		ev, ok := p.source.Next(ctx)
		if !ok {
			return
		}
		p.process(ctx, log, ev)
	}
}

func (p *Pool) process(ctx context.Context, log logger.Logger, ev model.MutationEvent) { //nolint:gocritic // hugeParam: events travel by value
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "panic")
			log.Error(ctx, "recompute panicked",
				logger.String("event_id", ev.ID),
				logger.Any("panic", r),
			)
		}
	}()

	if err := p.processor.Process(ctx, ev); err != nil {
		metrics.RecordWorkerError()
		log.Warn(ctx, "mutation event ended with errors",
			logger.String("event_id", ev.ID),
			logger.String("kind", string(ev.Kind)),
			logger.String("action", string(ev.Action)),
			logger.Error(err),
		)
	}
}

// Shutdown closes the source and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.source.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.UpdateWorkerActiveCount(0)
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
