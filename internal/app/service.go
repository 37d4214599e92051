// Package service composes the relevancy engine: document repository,
// derived score store, ranking index, mutation queue, worker pool and the
// recompute orchestrator. It hosts the trigger call sites that commit a
// change and then notify the orchestrator.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/expertrank/internal/adapters/mq/queue"
	"github.com/okian/expertrank/internal/adapters/mq/worker"
	"github.com/okian/expertrank/internal/adapters/ranking"
	"github.com/okian/expertrank/internal/adapters/repository"
	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/config"
	"github.com/okian/expertrank/internal/domain/dedupe"
	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/scoring"
	"github.com/okian/expertrank/internal/domain/similarity"
	"github.com/okian/expertrank/internal/domain/skills"
	"github.com/okian/expertrank/internal/recompute"
	"github.com/okian/expertrank/pkg/logger"
	"github.com/okian/expertrank/pkg/metrics"
)

// Service implements the API dependencies for the relevancy engine.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	repo     repository.Store
	scores   scorestore.Store
	ranks    *ranking.Index
	queue    *queue.InMemoryQueue
	orch     *recompute.Orchestrator
	pool     *worker.Pool
	computer *scoring.Computer

	started bool
	cancel  context.CancelFunc
	logger  logger.Logger

	// dropped counts triggers rejected since the last complete repair.
	dropped      atomic.Int64
	repairCancel context.CancelFunc
	repairWG     sync.WaitGroup
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewComputer builds the pair score computer described by cfg.
func NewComputer(cfg *config.Config) (*scoring.Computer, error) {
	metric, err := similarity.New(cfg.SimilarityMetric,
		similarity.WithSkillWeights(cfg.SkillWeights, cfg.DefaultSkillWeight))
	if err != nil {
		return nil, err
	}
	return scoring.NewComputer(
		scoring.WithMetric(metric),
		scoring.WithExtractor(skills.NewExtractor(skills.WithSynonyms(cfg.SkillSynonyms))),
		scoring.WithRecommendedBlend(cfg.RecommendedBlend),
	), nil
}

// Start opens storage, warms the ranking index and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.logger.Info(ctx, "starting relevancy service...")

	computer, err := NewComputer(cfg)
	if err != nil {
		return err
	}
	s.computer = computer

	if s.repo == nil {
		repo, err := repository.Open(ctx, cfg.StoreDriver, cfg.SQLiteDSN)
		if err != nil {
			return err
		}
		s.repo = repo
	}
	if s.scores == nil {
		sc, err := openScores(cfg)
		if err != nil {
			_ = s.repo.Close()
			return err
		}
		s.scores = sc
	}

	s.ranks = ranking.New()
	if err := s.ranks.Load(ctx, s.scores); err != nil {
		s.closeStores(ctx)
		return err
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	s.orch = recompute.New(s.repo, s.scores, computer,
		recompute.WithQueue(s.queue),
		recompute.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
		recompute.WithRanker(s.ranks),
		recompute.WithConcurrency(cfg.ComputeConcurrency),
		recompute.WithPairTimeout(cfg.PairTimeout()),
		recompute.WithStorageRetry(cfg.StorageRetryAttempts, cfg.StorageRetryInitial(), cfg.StorageRetryMax()),
		recompute.WithFailedLedgerSize(cfg.FailedLedgerSize),
	)
	s.pool = worker.NewPool(s.queue, s.orch, worker.WithSize(cfg.WorkerCount))

	// Workers outlive the Start request; Shutdown cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)
	if every := cfg.RepairInterval(); every > 0 {
		repairCtx, stop := context.WithCancel(runCtx)
		s.repairCancel = stop
		s.repairWG.Add(1)
		go s.repairLoop(repairCtx, s.orch, every)
	}

	s.started = true
	s.logger.Info(ctx, "relevancy service started",
		logger.String("store_driver", cfg.StoreDriver),
		logger.String("similarity", computer.Metric().Name()),
		logger.Int("workers", cfg.WorkerCount),
		logger.Int("queue_size", cfg.QueueSize),
		logger.Bool("repair_enabled", cfg.RepairInterval() > 0),
		logger.Int("ranked_experts", s.ranks.Count(ctx, model.KindExpert)),
		logger.Int("ranked_candidates", s.ranks.Count(ctx, model.KindCandidate)),
	)
	return nil
}

func openScores(cfg *config.Config) (scorestore.Store, error) {
	if cfg.BadgerPath == "" {
		return scorestore.OpenInMemory()
	}
	bc := scorestore.DefaultConfig(cfg.BadgerPath)
	bc.GCInterval = cfg.BadgerGCInterval()
	return scorestore.Open(bc)
}

// Shutdown stops accepting events, lets workers drain the queue and closes
// storage. Events still queued when ctx expires are lost; Reconcile repairs
// their scores.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping relevancy service...")

	if s.repairCancel != nil {
		s.repairCancel()
		s.repairWG.Wait()
		s.repairCancel = nil
	}
	err := s.pool.Shutdown(ctx)
	s.cancel()
	s.closeStores(ctx)
	s.started = false

	if err != nil {
		return fmt.Errorf("draining workers: %w", err)
	}
	s.logger.Info(ctx, "relevancy service stopped")
	return nil
}

func (s *Service) closeStores(ctx context.Context) {
	if err := s.scores.Close(); err != nil {
		s.logger.Warn(ctx, "closing score store", logger.Error(err))
	}
	if err := s.repo.Close(); err != nil {
		s.logger.Warn(ctx, "closing repository", logger.Error(err))
	}
}

// running returns the orchestrator and repository of a started service.
func (s *Service) running() (*recompute.Orchestrator, repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.orch, s.repo, nil
}

// Submit hands an externally committed mutation to the orchestrator. It
// returns false on backpressure.
func (s *Service) Submit(ctx context.Context, ev model.MutationEvent) bool { //nolint:gocritic // hugeParam: events travel by value
	orch, _, err := s.running()
	if err != nil {
		return false
	}
	return orch.OnMutation(ctx, ev)
}

// Reconcile recomputes every expert and candidate.
func (s *Service) Reconcile(ctx context.Context) (recompute.ReconcileReport, error) {
	orch, _, err := s.running()
	if err != nil {
		return recompute.ReconcileReport{}, err
	}
	return orch.Reconcile(ctx)
}

// Repair reconciles when a recomputation failed or a trigger was dropped
// since the last complete pass. ran is false when there was nothing to do.
func (s *Service) Repair(ctx context.Context) (bool, error) {
	orch, _, err := s.running()
	if err != nil {
		return false, err
	}
	return s.repair(ctx, orch)
}

func (s *Service) repair(ctx context.Context, orch *recompute.Orchestrator) (bool, error) {
	dropped := s.dropped.Load()
	if dropped == 0 && orch.Stats().FailedLedger == 0 {
		return false, nil
	}
	rep, err := orch.Reconcile(ctx)
	if err != nil {
		s.logger.Warn(ctx, "repair pass incomplete",
			logger.Int("entities", rep.Entities),
			logger.Int("failed", rep.Failed),
			logger.Error(err),
		)
		return true, err
	}
	s.dropped.Add(-dropped)
	s.logger.Info(ctx, "repair pass complete",
		logger.Int("entities", rep.Entities),
		logger.Int("purged", rep.Purged),
		logger.Int("dropped_triggers", int(dropped)),
	)
	return true, nil
}

// repairLoop runs a repair pass every tick until ctx is done.
func (s *Service) repairLoop(ctx context.Context, orch *recompute.Orchestrator, every time.Duration) {
	defer s.repairWG.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.repair(ctx, orch)
		}
	}
}

// FailedEvents returns events that ended partially failed.
func (s *Service) FailedEvents() []recompute.FailedEvent {
	orch, _, err := s.running()
	if err != nil {
		return nil
	}
	return orch.FailedEvents()
}

// Idle reports whether no event is queued or being recomputed.
func (s *Service) Idle() bool {
	orch, _, err := s.running()
	if err != nil {
		return true
	}
	st := orch.Stats()
	settled := st.Processed + st.Failed + st.Duplicates + st.Rejected
	return s.queue.Len() == 0 && st.InFlightKeys == 0 && settled >= st.Received
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"store_driver": s.cfg.StoreDriver,
		"worker_count": s.cfg.WorkerCount,
		"queue_size":   s.cfg.QueueSize,
	}
	if !s.started {
		return stats
	}

	stats["queue_length"] = s.queue.Len()
	for _, kind := range []model.EntityKind{model.KindCandidate, model.KindExpert, model.KindSubject} {
		n, err := s.repo.Count(ctx, kind)
		if err != nil {
			s.logger.Warn(ctx, "counting documents", logger.String("kind", string(kind)), logger.Error(err))
			continue
		}
		stats[string(kind)+"s"] = n
	}
	stats["ranked_experts"] = s.ranks.Count(ctx, model.KindExpert)
	stats["ranked_candidates"] = s.ranks.Count(ctx, model.KindCandidate)
	stats["similarity_metric"] = s.computer.Metric().Name()
	stats["recompute"] = s.orch.Stats()
	stats["dropped_triggers"] = s.dropped.Load()

	metrics.UpdateQueueSize(s.queue.Len())
	metrics.UpdateWorkerActiveCount(s.pool.Size())
	return stats
}
