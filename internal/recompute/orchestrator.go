// Package recompute keeps derived relevancy scores consistent with the
// documents they are computed from.
//
// Each committed mutation flows through
//
//	TRIGGERED -> SCOPED -> COMPUTING -> AGGREGATING -> PERSISTED
//
// or ends in FAILED when some keys could not be recomputed. Pair and
// aggregate keys are claimed while in flight; an event touching a claimed
// key marks it dirty and the claim owner recomputes it again from fresh
// state, so the last committed write wins.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/domain/aggregate"
	"github.com/okian/expertrank/internal/domain/dedupe"
	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/scope"
	"github.com/okian/expertrank/internal/domain/scoring"
	"github.com/okian/expertrank/pkg/logger"
	"github.com/okian/expertrank/pkg/metrics"
)

// State names a step of one recomputation.
type State string

const (
	StateTriggered   State = "TRIGGERED"
	StateScoped      State = "SCOPED"
	StateComputing   State = "COMPUTING"
	StateAggregating State = "AGGREGATING"
	StatePersisted   State = "PERSISTED"
	StateFailed      State = "FAILED"
)

// documents is what a pair computation reads.
type documents interface {
	scope.Reader
	ListApplicants(ctx context.Context, subjectID string) ([]model.Candidate, error)
}

// Repository is the document source.
type Repository interface {
	documents
	ListIDs(ctx context.Context, kind model.EntityKind) ([]string, error)
}

// Ranker receives every written aggregate.
type Ranker interface {
	Upsert(ctx context.Context, ref model.EntityRef, score float64) error
	Remove(ctx context.Context, ref model.EntityRef) error
}

// Enqueuer accepts events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev model.MutationEvent) error
}

// FailedEvent is an event kept for reconciliation.
type FailedEvent struct {
	Event    model.MutationEvent `json:"event"`
	Error    string              `json:"error"`
	FailedAt time.Time           `json:"failed_at"`
}

// Stats is a point-in-time view of orchestrator counters.
type Stats struct {
	Received          int64 `json:"received"`
	Duplicates        int64 `json:"duplicates"`
	Rejected          int64 `json:"rejected"`
	Processed         int64 `json:"processed"`
	Failed            int64 `json:"failed"`
	PairsComputed     int64 `json:"pairs_computed"`
	PairFailures      int64 `json:"pair_failures"`
	AggregatesWritten int64 `json:"aggregates_written"`
	Coalesced         int64 `json:"coalesced"`
	InFlightKeys      int   `json:"in_flight_keys"`
	FailedLedger      int   `json:"failed_ledger"`
}

type counters struct {
	received, duplicates, rejected, processed, failed atomic.Int64
	pairs, pairFailures, aggregates, coalesced        atomic.Int64
}

// Orchestrator runs recomputations for committed mutations.
type Orchestrator struct {
	repo     Repository
	scores   scorestore.Store
	computer *scoring.Computer
	ranker   Ranker
	queue    Enqueuer
	dedupe   dedupe.Deduper
	logger   logger.Logger
	now      func() time.Time

	concurrency   int
	pairTimeout   time.Duration
	retryAttempts uint
	retryInitial  time.Duration
	retryMax      time.Duration
	ledgerSize    int

	claimsMu sync.Mutex
	claims   map[string]bool // key -> dirty

	ledgerMu sync.Mutex
	ledger   []FailedEvent

	stats counters
}

// New creates an orchestrator. Without WithQueue, OnMutation rejects every
// event; Process can still be called directly.
func New(repo Repository, scores scorestore.Store, computer *scoring.Computer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:          repo,
		scores:        scores,
		computer:      computer,
		ranker:        nopRanker{},
		now:           time.Now,
		concurrency:   runtime.NumCPU() * 2,
		pairTimeout:   2 * time.Second,
		retryAttempts: 4,
		retryInitial:  50 * time.Millisecond,
		retryMax:      time.Second,
		ledgerSize:    1000,
		claims:        map[string]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.computer == nil {
		o.computer = scoring.NewComputer()
	}
	if o.dedupe == nil {
		o.dedupe = dedupe.NewInMemoryDeduper()
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("orchestrator")
	}
	return o
}

// OnMutation is called after a mutation commits. It never blocks on
// computation and never reports computation errors; it returns false only
// when the event could not be queued.
func (o *Orchestrator) OnMutation(ctx context.Context, ev model.MutationEvent) bool { //nolint:gocritic // hugeParam: events travel by value
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CommittedAt.IsZero() {
		ev.CommittedAt = o.now()
	}
	o.stats.received.Add(1)
	metrics.RecordMutationReceived(string(ev.Kind), string(ev.Action))

	if o.dedupe.SeenAndRecord(ctx, ev.ID) {
		o.stats.duplicates.Add(1)
		metrics.RecordMutationDuplicate()
		o.logger.Debug(ctx, "dropping redelivered mutation", logger.String("event_id", ev.ID))
		return true
	}

	if o.queue == nil {
		o.reject(ctx, ev, errors.New("no queue configured"))
		return false
	}
	if err := o.queue.Enqueue(ctx, ev); err != nil {
		o.reject(ctx, ev, err)
		return false
	}
	return true
}

func (o *Orchestrator) reject(ctx context.Context, ev model.MutationEvent, err error) { //nolint:gocritic // hugeParam: events travel by value
	o.dedupe.Unrecord(ctx, ev.ID)
	o.stats.rejected.Add(1)
	metrics.RecordMutationRejected()
	o.logger.Warn(ctx, "mutation not queued",
		logger.String("event_id", ev.ID),
		logger.String("kind", string(ev.Kind)),
		logger.Error(err),
	)
}

// Process runs one event to PERSISTED or FAILED.
func (o *Orchestrator) Process(ctx context.Context, ev model.MutationEvent) error { //nolint:gocritic // hugeParam: events travel by value
	start := o.now()
	log := o.logger.With(
		logger.String("event_id", ev.ID),
		logger.String("kind", string(ev.Kind)),
		logger.String("action", string(ev.Action)),
	)
	log.Debug(ctx, "recompute", logger.String("state", string(StateTriggered)))

	reader := newFlightReader(o.repo)
	sc, err := retry(ctx, o, "resolve scope", func() (scope.Scope, error) {
		return scope.NewResolver(reader).Resolve(ctx, ev)
	})
	if err != nil {
		return o.fail(ctx, log, ev, err)
	}
	for _, skipped := range sc.Skipped {
		log.Warn(ctx, "scope entry skipped", logger.Error(skipped))
	}
	if sc.Empty() {
		o.finish(ctx, log, start, "empty")
		return nil
	}
	metrics.RecordScopeSize(len(sc.ExpertPairs) + len(sc.CandidatePairs))
	log.Debug(ctx, "recompute",
		logger.String("state", string(StateScoped)),
		logger.Int("pairs", len(sc.ExpertPairs)+len(sc.CandidatePairs)),
		logger.Int("aggregates", len(sc.ExpertAggregates)+len(sc.CandidateAggregates)),
	)

	var errs []error
	owners := sc.Aggregates()

	// Deletions first so nothing below recreates scores for a removed entity.
	// A purge shares the owner's aggregate claim: if an aggregation is in
	// flight, its owner reruns from fresh state and purges instead.
	for _, ref := range sc.Purge {
		if err := o.claimed(ctx, "agg/"+ref.String(), func(fresh bool) error {
			if fresh {
				return o.aggregateOwner(ctx, ref)
			}
			return o.purgeOwner(ctx, ref)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sid := range sc.PurgeSubjects {
		refs, err := retry(ctx, o, "purge subject", func() ([]model.EntityRef, error) {
			return o.scores.DeleteSubject(ctx, sid)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.RecordPurge(string(model.KindSubject))
		owners = append(owners, refs...)
	}

	log.Debug(ctx, "recompute", logger.String("state", string(StateComputing)))
	errs = append(errs, fanOut(ctx, o.concurrency, sc.Pairs(), func(ctx context.Context, pk model.PairKey) error {
		return o.claimed(ctx, pk.String(), func(fresh bool) error {
			var r documents = reader
			if fresh {
				r = o.repo
			}
			return o.computePair(ctx, r, pk)
		})
	})...)

	log.Debug(ctx, "recompute", logger.String("state", string(StateAggregating)))
	errs = append(errs, fanOut(ctx, o.concurrency, dedupeRefs(owners), func(ctx context.Context, ref model.EntityRef) error {
		return o.claimed(ctx, "agg/"+ref.String(), func(bool) error {
			return o.aggregateOwner(ctx, ref)
		})
	})...)

	if len(errs) > 0 {
		return o.fail(ctx, log, ev, fmt.Errorf("%w: %d keys: %w", ErrPartialFailure, len(errs), errors.Join(errs...)))
	}
	o.finish(ctx, log, start, "persisted")
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, log logger.Logger, start time.Time, outcome string) {
	o.stats.processed.Add(1)
	metrics.RecordMutationProcessed(outcome)
	metrics.RecordRecomputeLatency(float64(o.now().Sub(start).Milliseconds()))
	log.Debug(ctx, "recompute", logger.String("state", string(StatePersisted)), logger.String("outcome", outcome))
}

func (o *Orchestrator) fail(ctx context.Context, log logger.Logger, ev model.MutationEvent, err error) error { //nolint:gocritic // hugeParam: events travel by value
	o.stats.failed.Add(1)
	metrics.RecordMutationProcessed("failed")
	log.Error(ctx, "recompute failed", logger.String("state", string(StateFailed)), logger.Error(err))

	o.ledgerMu.Lock()
	o.ledger = append(o.ledger, FailedEvent{Event: ev, Error: err.Error(), FailedAt: o.now()})
	if over := len(o.ledger) - o.ledgerSize; over > 0 {
		o.ledger = slices.Delete(o.ledger, 0, over)
	}
	n := len(o.ledger)
	o.ledgerMu.Unlock()
	metrics.UpdateFailedLedgerSize(n)
	return err
}

// fanOut runs fn for every item with bounded concurrency. A failing item
// does not cancel its siblings.
func fanOut[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) []error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() error {
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// claimed runs fn while holding the claim on key. If the key is already
// claimed, it is marked dirty and the current owner reruns it; fn receives
// fresh=true on reruns.
func (o *Orchestrator) claimed(ctx context.Context, key string, fn func(fresh bool) error) error {
	if !o.acquire(key) {
		o.stats.coalesced.Add(1)
		metrics.RecordCoalesced()
		return nil
	}
	fresh := false
	for {
		if err := fn(fresh); err != nil {
			o.drop(key)
			return err
		}
		if !o.release(key) {
			return nil
		}
		fresh = true
		if ctx.Err() != nil {
			o.drop(key)
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) acquire(key string) bool {
	o.claimsMu.Lock()
	defer o.claimsMu.Unlock()
	if _, busy := o.claims[key]; busy {
		o.claims[key] = true
		return false
	}
	o.claims[key] = false
	return true
}

// release ends a claim unless it was marked dirty, in which case the flag is
// cleared, the claim kept and true returned.
func (o *Orchestrator) release(key string) bool {
	o.claimsMu.Lock()
	defer o.claimsMu.Unlock()
	if o.claims[key] {
		o.claims[key] = false
		return true
	}
	delete(o.claims, key)
	return false
}

func (o *Orchestrator) drop(key string) {
	o.claimsMu.Lock()
	delete(o.claims, key)
	o.claimsMu.Unlock()
}

func (o *Orchestrator) purgeOwner(ctx context.Context, ref model.EntityRef) error {
	if err := do(ctx, o, "purge "+ref.String(), func() error {
		return o.scores.DeleteOwner(ctx, ref)
	}); err != nil {
		return err
	}
	if err := o.ranker.Remove(ctx, ref); err != nil {
		o.logger.Warn(ctx, "ranking remove failed", logger.String("entity", ref.String()), logger.Error(err))
	}
	metrics.RecordPurge(string(ref.Kind))
	return nil
}

// computePair scores one pair and overwrites its stored value. Pairs whose
// endpoints vanished or are no longer related are skipped; aggregation
// prunes what they left behind.
func (o *Orchestrator) computePair(ctx context.Context, r documents, pk model.PairKey) error {
	start := o.now()
	pctx, cancel := context.WithTimeout(ctx, o.pairTimeout)
	defer cancel()

	value, ok, err := o.scorePair(pctx, r, pk)
	if err == nil && ok {
		err = do(pctx, o, "write "+pk.String(), func() error {
			return o.scores.WritePairScore(pctx, model.PairScore{PairKey: pk, Value: value, ComputedAt: o.now()})
		})
	}
	metrics.RecordPairLatency(float64(o.now().Sub(start).Milliseconds()))

	switch {
	case err == nil:
		if ok {
			o.stats.pairs.Add(1)
			metrics.RecordPairComputed(string(pk.Kind))
		}
		return nil
	case errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		o.stats.pairFailures.Add(1)
		metrics.RecordPairFailure(string(pk.Kind), "timeout")
		return fmt.Errorf("%w: %s after %s", ErrComputationTimeout, pk, o.pairTimeout)
	default:
		o.stats.pairFailures.Add(1)
		metrics.RecordPairFailure(string(pk.Kind), "storage")
		return fmt.Errorf("%s: %w", pk, err)
	}
}

func (o *Orchestrator) scorePair(ctx context.Context, r documents, pk model.PairKey) (float64, bool, error) {
	subject, err := retry(ctx, o, "fetch subject", func() (model.Subject, error) {
		return r.FetchSubject(ctx, pk.SubjectID)
	})
	if errors.Is(err, model.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	switch pk.Kind {
	case model.PairExpertSubject:
		expert, err := retry(ctx, o, "fetch expert", func() (model.Expert, error) {
			return r.FetchExpert(ctx, pk.OwnerID)
		})
		if errors.Is(err, model.ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		if !slices.Contains(expert.Subjects, pk.SubjectID) {
			return 0, false, nil
		}
		pool, err := retry(ctx, o, "list applicants", func() ([]model.Candidate, error) {
			return r.ListApplicants(ctx, pk.SubjectID)
		})
		if errors.Is(err, model.ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return o.computer.ScoreExpertSubject(expert, subject, pool), true, nil

	case model.PairCandidateSubject:
		cand, err := retry(ctx, o, "fetch candidate", func() (model.Candidate, error) {
			return r.FetchCandidate(ctx, pk.OwnerID)
		})
		if errors.Is(err, model.ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		if !slices.Contains(cand.Subjects, pk.SubjectID) {
			return 0, false, nil
		}
		return o.computer.ScoreCandidateSubject(cand, subject), true, nil
	}
	return 0, false, fmt.Errorf("unknown pair kind %q", pk.Kind)
}

// members re-reads the current subject membership of an owner. found is
// false when the owner no longer exists.
func (o *Orchestrator) members(ctx context.Context, ref model.EntityRef) ([]string, bool, error) {
	var (
		subjects []string
		err      error
	)
	switch ref.Kind {
	case model.KindExpert:
		var e model.Expert
		e, err = retry(ctx, o, "fetch expert", func() (model.Expert, error) { return o.repo.FetchExpert(ctx, ref.ID) })
		subjects = e.Subjects
	case model.KindCandidate:
		var c model.Candidate
		c, err = retry(ctx, o, "fetch candidate", func() (model.Candidate, error) { return o.repo.FetchCandidate(ctx, ref.ID) })
		subjects = c.Subjects
	default:
		return nil, false, fmt.Errorf("%s cannot be aggregated", ref)
	}
	if errors.Is(err, model.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return subjects, true, nil
}

// aggregateOwner rewrites the average relevancy of ref from its stored pair
// scores, pruning pairs for subjects it no longer belongs to.
func (o *Orchestrator) aggregateOwner(ctx context.Context, ref model.EntityRef) error {
	members, found, err := o.members(ctx, ref)
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", ref, err)
	}
	if !found {
		// Deleted while in flight: remove anything written meanwhile.
		return o.purgeOwner(ctx, ref)
	}

	kind, _ := model.PairKindFor(ref.Kind)
	stored, err := retry(ctx, o, "list pairs", func() ([]model.PairScore, error) {
		return o.scores.ListPairScores(ctx, kind, ref.ID)
	})
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", ref, err)
	}

	res := aggregate.AverageFor(members, stored)
	if len(res.Stale) > 0 {
		keys := make([]model.PairKey, len(res.Stale))
		for i, sid := range res.Stale {
			keys[i] = model.PairKey{Kind: kind, OwnerID: ref.ID, SubjectID: sid}
		}
		if err := do(ctx, o, "prune pairs", func() error {
			return o.scores.DeletePairScores(ctx, keys...)
		}); err != nil {
			return fmt.Errorf("aggregate %s: %w", ref, err)
		}
	}

	agg := model.Aggregate{EntityRef: ref, Value: res.Value, ComputedAt: o.now()}
	if err := do(ctx, o, "write aggregate", func() error {
		return o.scores.WriteAggregate(ctx, agg)
	}); err != nil {
		return fmt.Errorf("aggregate %s: %w", ref, err)
	}
	if err := o.ranker.Upsert(ctx, ref, res.Value); err != nil {
		o.logger.Warn(ctx, "ranking update failed", logger.String("entity", ref.String()), logger.Error(err))
	}
	o.stats.aggregates.Add(1)
	metrics.RecordAggregateWritten(string(ref.Kind))
	return nil
}

func dedupeRefs(refs []model.EntityRef) []model.EntityRef {
	seen := make(map[model.EntityRef]struct{}, len(refs))
	out := make([]model.EntityRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// FailedEvents returns a copy of the failed-event ledger, oldest first.
func (o *Orchestrator) FailedEvents() []FailedEvent {
	o.ledgerMu.Lock()
	defer o.ledgerMu.Unlock()
	return slices.Clone(o.ledger)
}

// Stats returns current counters.
func (o *Orchestrator) Stats() Stats {
	o.claimsMu.Lock()
	inflight := len(o.claims)
	o.claimsMu.Unlock()
	o.ledgerMu.Lock()
	ledger := len(o.ledger)
	o.ledgerMu.Unlock()

	return Stats{
		Received:          o.stats.received.Load(),
		Duplicates:        o.stats.duplicates.Load(),
		Rejected:          o.stats.rejected.Load(),
		Processed:         o.stats.processed.Load(),
		Failed:            o.stats.failed.Load(),
		PairsComputed:     o.stats.pairs.Load(),
		PairFailures:      o.stats.pairFailures.Load(),
		AggregatesWritten: o.stats.aggregates.Load(),
		Coalesced:         o.stats.coalesced.Load(),
		InFlightKeys:      inflight,
		FailedLedger:      ledger,
	}
}

type nopRanker struct{}

func (nopRanker) Upsert(context.Context, model.EntityRef, float64) error { return nil }
func (nopRanker) Remove(context.Context, model.EntityRef) error          { return nil }
