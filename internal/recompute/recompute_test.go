package recompute_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/expertrank/internal/adapters/mq/queue"
	"github.com/okian/expertrank/internal/adapters/ranking"
	"github.com/okian/expertrank/internal/adapters/repository"
	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/recompute"
	logging "github.com/okian/expertrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var epoch = time.Unix(1700000000, 0).UTC()

type fixture struct {
	repo   *repository.MemoryStore
	scores *scorestore.BadgerStore
	rank   *ranking.Index
}

func cand(id string) model.EntityRef { return model.EntityRef{Kind: model.KindCandidate, ID: id} }
func expr(id string) model.EntityRef { return model.EntityRef{Kind: model.KindExpert, ID: id} }

func pair(kind model.PairKind, owner, subject string) model.PairKey {
	return model.PairKey{Kind: kind, OwnerID: owner, SubjectID: subject}
}

// newFixture seeds one board s1 with applicant c1 and expert e1.
func newFixture(ctx context.Context) fixture {
	repo := repository.NewMemoryStore()
	So(repo.PutSubject(ctx, model.Subject{ID: "s1", Status: model.SubjectOpen, RecommendedSkills: []string{"python", "ml", "security"}}), ShouldBeNil)
	So(repo.PutCandidate(ctx, model.Candidate{ID: "c1", Skills: []string{"python", "ml"}}), ShouldBeNil)
	So(repo.PutExpert(ctx, model.Expert{ID: "e1", Skills: []string{"python", "security"}}), ShouldBeNil)
	So(repo.Link(ctx, cand("c1"), "s1"), ShouldBeNil)
	So(repo.Link(ctx, expr("e1"), "s1"), ShouldBeNil)

	scores, err := scorestore.OpenInMemory()
	So(err, ShouldBeNil)
	return fixture{repo: repo, scores: scores, rank: ranking.New()}
}

func (f fixture) orchestrator(opts ...recompute.Option) *recompute.Orchestrator {
	base := []recompute.Option{
		recompute.WithRanker(f.rank),
		recompute.WithClock(func() time.Time { return epoch }),
		recompute.WithStorageRetry(2, time.Millisecond, time.Millisecond),
	}
	return recompute.New(f.repo, f.scores, nil, append(base, opts...)...)
}

func (f fixture) pairValue(ctx context.Context, k model.PairKey) float64 {
	ps, err := f.scores.ReadPairScore(ctx, k)
	So(err, ShouldBeNil)
	return ps.Value
}

func (f fixture) aggValue(ctx context.Context, ref model.EntityRef) float64 {
	a, err := f.scores.ReadAggregate(ctx, ref)
	So(err, ShouldBeNil)
	return a.Value
}

func linked(kind model.EntityKind, id, subject string) model.MutationEvent {
	return model.MutationEvent{ID: "ev-" + id + "-" + subject, Kind: kind, Action: model.ActionLinked, EntityID: id, AffectedSubjectIDs: []string{subject}}
}

func TestProcess(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a board with one applicant and one expert", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		o := f.orchestrator()

		Convey("When the applicant is linked", func() {
			So(o.Process(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeNil)

			Convey("Then the candidate covers two thirds of the board", func() {
				So(f.pairValue(ctx, pair(model.PairCandidateSubject, "c1", "s1")), ShouldAlmostEqual, 2.0/3.0, 1e-9)
				So(f.aggValue(ctx, cand("c1")), ShouldAlmostEqual, 2.0/3.0, 1e-9)
			})

			Convey("Then the expert covers half of the applicant pool", func() {
				So(f.pairValue(ctx, pair(model.PairExpertSubject, "e1", "s1")), ShouldAlmostEqual, 0.5, 1e-9)
				So(f.aggValue(ctx, expr("e1")), ShouldAlmostEqual, 0.5, 1e-9)
			})

			Convey("Then both aggregates are ranked", func() {
				e, err := f.rank.Rank(ctx, expr("e1"))
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 1)
				So(f.rank.Count(ctx, model.KindCandidate), ShouldEqual, 1)
			})

			Convey("Then processing it again changes nothing", func() {
				before, err := f.scores.ListPairScores(ctx, model.PairExpertSubject, "e1")
				So(err, ShouldBeNil)
				So(o.Process(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeNil)
				after, err := f.scores.ListPairScores(ctx, model.PairExpertSubject, "e1")
				So(err, ShouldBeNil)
				So(after, ShouldResemble, before)
				So(o.Stats().Processed, ShouldEqual, 2)
			})
		})

		Convey("When a second applicant with other skills joins", func() {
			So(o.Process(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeNil)
			So(f.repo.PutCandidate(ctx, model.Candidate{ID: "c2", Skills: []string{"go", "rust"}}), ShouldBeNil)
			So(f.repo.Link(ctx, cand("c2"), "s1"), ShouldBeNil)
			So(o.Process(ctx, linked(model.KindCandidate, "c2", "s1")), ShouldBeNil)

			Convey("Then the expert's pool coverage drops", func() {
				So(f.pairValue(ctx, pair(model.PairExpertSubject, "e1", "s1")), ShouldAlmostEqual, 0.25, 1e-9)
			})
		})

		Convey("When an update does not touch skills", func() {
			ev := model.MutationEvent{ID: "n", Kind: model.KindCandidate, Action: model.ActionUpdated, EntityID: "c1", ChangedFields: []string{"name"}}
			So(o.Process(ctx, ev), ShouldBeNil)

			Convey("Then nothing is written", func() {
				_, err := f.scores.ReadAggregate(ctx, cand("c1"))
				So(errors.Is(err, scorestore.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the event kind is unknown", func() {
			err := o.Process(ctx, model.MutationEvent{ID: "x", Kind: "widget", Action: model.ActionCreated})

			Convey("Then it fails and lands in the ledger", func() {
				So(err, ShouldNotBeNil)
				So(o.FailedEvents(), ShouldHaveLength, 1)
			})
		})
	})
}

func TestProcessMembershipChanges(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given scores computed for a two-board expert", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		o := f.orchestrator()

		So(f.repo.PutSubject(ctx, model.Subject{ID: "s2", RecommendedSkills: []string{"go"}}), ShouldBeNil)
		So(f.repo.PutCandidate(ctx, model.Candidate{ID: "c2", Skills: []string{"python"}}), ShouldBeNil)
		So(f.repo.Link(ctx, cand("c2"), "s2"), ShouldBeNil)
		So(f.repo.Link(ctx, expr("e1"), "s2"), ShouldBeNil)
		So(o.Process(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeNil)
		So(o.Process(ctx, linked(model.KindExpert, "e1", "s2")), ShouldBeNil)
		So(f.aggValue(ctx, expr("e1")), ShouldAlmostEqual, 0.75, 1e-9)

		Convey("When the expert is removed from a board", func() {
			removed, err := f.repo.Unlink(ctx, expr("e1"), "s2")
			So(err, ShouldBeNil)
			So(removed, ShouldBeTrue)
			So(o.Process(ctx, model.MutationEvent{ID: "u", Kind: model.KindExpert, Action: model.ActionUnlinked, EntityID: "e1", AffectedSubjectIDs: []string{"s2"}}), ShouldBeNil)

			Convey("Then the stale pair is pruned and the average follows", func() {
				_, err := f.scores.ReadPairScore(ctx, pair(model.PairExpertSubject, "e1", "s2"))
				So(errors.Is(err, scorestore.ErrNotFound), ShouldBeTrue)
				So(f.aggValue(ctx, expr("e1")), ShouldAlmostEqual, 0.5, 1e-9)
			})
		})

		Convey("When the candidate is deleted", func() {
			affected, err := f.repo.Delete(ctx, model.KindCandidate, "c1")
			So(err, ShouldBeNil)
			So(o.Process(ctx, model.MutationEvent{ID: "d", Kind: model.KindCandidate, Action: model.ActionDeleted, EntityID: "c1", AffectedSubjectIDs: affected}), ShouldBeNil)

			Convey("Then no score references it", func() {
				pairs, err := f.scores.ListPairScores(ctx, model.PairCandidateSubject, "c1")
				So(err, ShouldBeNil)
				So(pairs, ShouldBeEmpty)
				_, err = f.scores.ReadAggregate(ctx, cand("c1"))
				So(errors.Is(err, scorestore.ErrNotFound), ShouldBeTrue)
				_, err = f.rank.Rank(ctx, cand("c1"))
				So(errors.Is(err, ranking.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then the expert is rescored against the empty pool", func() {
				So(f.pairValue(ctx, pair(model.PairExpertSubject, "e1", "s1")), ShouldEqual, 0)
				So(f.aggValue(ctx, expr("e1")), ShouldAlmostEqual, 0.5, 1e-9)
			})
		})

		Convey("When the expert is deleted", func() {
			_, err := f.repo.Delete(ctx, model.KindExpert, "e1")
			So(err, ShouldBeNil)
			So(o.Process(ctx, model.MutationEvent{ID: "de", Kind: model.KindExpert, Action: model.ActionDeleted, EntityID: "e1"}), ShouldBeNil)

			Convey("Then its pairs and aggregate are gone", func() {
				pairs, err := f.scores.ListPairScores(ctx, model.PairExpertSubject, "e1")
				So(err, ShouldBeNil)
				So(pairs, ShouldBeEmpty)
				So(f.rank.Count(ctx, model.KindExpert), ShouldEqual, 0)
			})
		})

		Convey("When a board is deleted", func() {
			_, _, err := f.repo.DeleteSubject(ctx, "s1")
			So(err, ShouldBeNil)
			So(o.Process(ctx, model.MutationEvent{ID: "ds", Kind: model.KindSubject, Action: model.ActionDeleted, EntityID: "s1"}), ShouldBeNil)

			Convey("Then nothing references it and owners are re-averaged", func() {
				left, err := f.scores.ListSubjectPairs(ctx, "s1")
				So(err, ShouldBeNil)
				So(left, ShouldBeEmpty)
				So(f.aggValue(ctx, expr("e1")), ShouldEqual, 1)
				So(f.aggValue(ctx, cand("c1")), ShouldEqual, 0)
			})
		})

		Convey("When recommended skills change", func() {
			So(f.repo.PutSubject(ctx, model.Subject{ID: "s1", RecommendedSkills: []string{"python"}}), ShouldBeNil)
			So(o.Process(ctx, model.MutationEvent{ID: "rs", Kind: model.KindSubject, Action: model.ActionUpdated, EntityID: "s1", ChangedFields: []string{model.FieldRecommendedSkills}}), ShouldBeNil)

			Convey("Then the applicant is rescored", func() {
				So(f.pairValue(ctx, pair(model.PairCandidateSubject, "c1", "s1")), ShouldEqual, 1)
			})
		})
	})
}

// flakyScores fails every pair write.
type flakyScores struct {
	scorestore.Store
}

func (flakyScores) WritePairScore(context.Context, model.PairScore) error {
	return errors.New("disk on fire")
}

// slowRepo blocks subject reads until the caller gives up.
type slowRepo struct {
	*repository.MemoryStore
}

func (slowRepo) FetchSubject(ctx context.Context, _ string) (model.Subject, error) {
	<-ctx.Done()
	return model.Subject{}, ctx.Err()
}

func TestProcessFailures(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given computed scores", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		So(f.orchestrator().Process(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeNil)

		Convey("When the score store keeps failing", func() {
			So(f.repo.PutCandidate(ctx, model.Candidate{ID: "c1", Skills: []string{"python"}}), ShouldBeNil)
			o := recompute.New(f.repo, flakyScores{f.scores}, nil,
				recompute.WithStorageRetry(2, time.Millisecond, time.Millisecond))
			err := o.Process(ctx, model.MutationEvent{ID: "f", Kind: model.KindCandidate, Action: model.ActionUpdated, EntityID: "c1", ChangedFields: []string{model.FieldSkills}})

			Convey("Then the event fails partially and old values remain", func() {
				So(errors.Is(err, recompute.ErrPartialFailure), ShouldBeTrue)
				So(errors.Is(err, recompute.ErrStorageUnavailable), ShouldBeTrue)
				So(f.pairValue(ctx, pair(model.PairCandidateSubject, "c1", "s1")), ShouldAlmostEqual, 2.0/3.0, 1e-9)
				So(o.FailedEvents(), ShouldHaveLength, 1)
				So(o.FailedEvents()[0].Event.ID, ShouldEqual, "f")
				So(o.Stats().Failed, ShouldEqual, 1)
			})

			Convey("Then reconciliation with a healthy store repairs it", func() {
				healthy := f.orchestrator()
				rep, err := healthy.Reconcile(ctx)
				So(err, ShouldBeNil)
				So(rep.Entities, ShouldEqual, 2)
				So(f.pairValue(ctx, pair(model.PairCandidateSubject, "c1", "s1")), ShouldAlmostEqual, 1.0/3.0, 1e-9)
			})
		})

		Convey("When a pair computation outlives its deadline", func() {
			o := recompute.New(slowRepo{f.repo}, f.scores, nil, recompute.WithPairTimeout(20*time.Millisecond))
			err := o.Process(ctx, linked(model.KindExpert, "e1", "s1"))

			Convey("Then it times out and the previous value is kept", func() {
				So(errors.Is(err, recompute.ErrComputationTimeout), ShouldBeTrue)
				So(f.pairValue(ctx, pair(model.PairExpertSubject, "e1", "s1")), ShouldAlmostEqual, 0.5, 1e-9)
				So(o.Stats().PairFailures, ShouldEqual, 1)
			})
		})

		Convey("When the failed ledger overflows", func() {
			o := recompute.New(f.repo, f.scores, nil, recompute.WithFailedLedgerSize(2))
			for _, id := range []string{"a", "b", "c"} {
				_ = o.Process(ctx, model.MutationEvent{ID: id, Kind: "widget"})
			}

			Convey("Then only the newest entries are kept", func() {
				got := o.FailedEvents()
				So(got, ShouldHaveLength, 2)
				So(got[0].Event.ID, ShouldEqual, "b")
				So(got[1].Event.ID, ShouldEqual, "c")
			})
		})
	})
}

// gatedScores parks the first expert aggregate write after arm until open
// is closed.
type gatedScores struct {
	scorestore.Store
	armed   atomic.Bool
	entered chan struct{}
	open    chan struct{}
}

func newGatedScores(s scorestore.Store) *gatedScores {
	return &gatedScores{Store: s, entered: make(chan struct{}), open: make(chan struct{})}
}

func (g *gatedScores) WriteAggregate(ctx context.Context, a model.Aggregate) error {
	if a.Kind == model.KindExpert && g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.open
	}
	return g.Store.WriteAggregate(ctx, a)
}

func skillsUpdated(id, evID string) model.MutationEvent {
	return model.MutationEvent{ID: evID, Kind: model.KindExpert, Action: model.ActionUpdated, EntityID: id, ChangedFields: []string{model.FieldSkills}}
}

func TestProcessOverlapping(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an expert aggregate write held in flight", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		gate := newGatedScores(f.scores)
		o := recompute.New(f.repo, gate, nil,
			recompute.WithRanker(f.rank),
			recompute.WithClock(func() time.Time { return epoch }),
			recompute.WithStorageRetry(2, time.Millisecond, time.Millisecond),
		)
		So(o.Process(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeNil)
		So(f.aggValue(ctx, expr("e1")), ShouldAlmostEqual, 0.5, 1e-9)

		// e1 loses python: it covers none of the pool {python, ml}.
		So(f.repo.PutExpert(ctx, model.Expert{ID: "e1", Skills: []string{"security"}}), ShouldBeNil)
		gate.armed.Store(true)
		first := make(chan error, 1)
		go func() { first <- o.Process(ctx, skillsUpdated("e1", "first")) }()
		<-gate.entered

		Convey("When a later skills change for the same expert commits", func() {
			So(f.repo.PutExpert(ctx, model.Expert{ID: "e1", Skills: []string{"python", "ml"}}), ShouldBeNil)
			So(o.Process(ctx, skillsUpdated("e1", "second")), ShouldBeNil)
			close(gate.open)
			So(<-first, ShouldBeNil)

			Convey("Then one final value remains and it reflects the later commit", func() {
				So(f.pairValue(ctx, pair(model.PairExpertSubject, "e1", "s1")), ShouldEqual, 1)
				So(f.aggValue(ctx, expr("e1")), ShouldEqual, 1)
				e, err := f.rank.Rank(ctx, expr("e1"))
				So(err, ShouldBeNil)
				So(e.Score, ShouldEqual, 1)
				So(o.Stats().Coalesced, ShouldEqual, 1)
				So(o.Stats().InFlightKeys, ShouldEqual, 0)
			})
		})

		Convey("When the expert is deleted meanwhile", func() {
			_, err := f.repo.Delete(ctx, model.KindExpert, "e1")
			So(err, ShouldBeNil)
			So(o.Process(ctx, model.MutationEvent{ID: "gone", Kind: model.KindExpert, Action: model.ActionDeleted, EntityID: "e1"}), ShouldBeNil)
			close(gate.open)
			So(<-first, ShouldBeNil)

			Convey("Then no score or ranking entry survives", func() {
				_, err := f.scores.ReadAggregate(ctx, expr("e1"))
				So(errors.Is(err, scorestore.ErrNotFound), ShouldBeTrue)
				pairs, err := f.scores.ListPairScores(ctx, model.PairExpertSubject, "e1")
				So(err, ShouldBeNil)
				So(pairs, ShouldBeEmpty)
				So(f.rank.Count(ctx, model.KindExpert), ShouldEqual, 0)
				So(o.Stats().Coalesced, ShouldEqual, 1)
			})
		})
	})
}

func TestOnMutation(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an orchestrator with a one-slot queue", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		q := queue.NewInMemoryQueue(queue.WithCapacity(1))
		o := f.orchestrator(recompute.WithQueue(q))

		Convey("When the same event is delivered twice", func() {
			ev := linked(model.KindCandidate, "c1", "s1")
			So(o.OnMutation(ctx, ev), ShouldBeTrue)
			So(o.OnMutation(ctx, ev), ShouldBeTrue)

			Convey("Then it is queued once", func() {
				So(q.Len(), ShouldEqual, 1)
				So(o.Stats().Duplicates, ShouldEqual, 1)
			})

			Convey("Then a further event is rejected and can be retried later", func() {
				other := linked(model.KindExpert, "e1", "s1")
				So(o.OnMutation(ctx, other), ShouldBeFalse)
				So(o.Stats().Rejected, ShouldEqual, 1)

				_, ok := q.Next(ctx)
				So(ok, ShouldBeTrue)
				So(o.OnMutation(ctx, other), ShouldBeTrue)
			})
		})

		Convey("When an event carries no id or timestamp", func() {
			So(o.OnMutation(ctx, model.MutationEvent{Kind: model.KindCandidate, Action: model.ActionCreated, EntityID: "c1"}), ShouldBeTrue)

			Convey("Then both are assigned", func() {
				ev, ok := q.Next(ctx)
				So(ok, ShouldBeTrue)
				So(ev.ID, ShouldNotBeBlank)
				So(ev.CommittedAt, ShouldEqual, epoch)
			})
		})
	})

	Convey("Given an orchestrator without a queue", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		o := f.orchestrator()

		Convey("Then every event is rejected", func() {
			So(o.OnMutation(ctx, linked(model.KindCandidate, "c1", "s1")), ShouldBeFalse)
		})
	})
}

func TestReconcile(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an aggregate left behind by a vanished expert", t, func() {
		f := newFixture(ctx)
		defer f.scores.Close()
		So(f.scores.WriteAggregate(ctx, model.Aggregate{EntityRef: expr("ghost"), Value: 0.9, ComputedAt: epoch}), ShouldBeNil)
		So(f.rank.Upsert(ctx, expr("ghost"), 0.9), ShouldBeNil)
		o := f.orchestrator()

		Convey("When reconciling", func() {
			rep, err := o.Reconcile(ctx)
			So(err, ShouldBeNil)

			Convey("Then live entities are scored and the ghost is purged", func() {
				So(rep, ShouldResemble, recompute.ReconcileReport{Entities: 2, Purged: 1})
				So(f.aggValue(ctx, expr("e1")), ShouldAlmostEqual, 0.5, 1e-9)
				_, err := f.rank.Rank(ctx, expr("ghost"))
				So(errors.Is(err, ranking.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
