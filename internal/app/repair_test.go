package service

import (
	"context"
	"testing"
	"time"

	"github.com/okian/expertrank/internal/config"
	"github.com/okian/expertrank/internal/domain/model"
	logging "github.com/okian/expertrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func repairConfig(every int) *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 1
	cfg.RepairIntervalS = every
	cfg.StorageRetryAttempts = 2
	cfg.StorageRetryInitialMS = 1
	cfg.StorageRetryMaxMS = 2
	return cfg
}

func settle(svc *Service) {
	deadline := time.Now().Add(5 * time.Second)
	for !svc.Idle() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	So(svc.Idle(), ShouldBeTrue)
}

func candidateAverage(ctx context.Context, svc *Service) float64 {
	card, err := svc.CandidateScoreCard(ctx, "c1")
	So(err, ShouldBeNil)
	return card.AverageRelevancy
}

// startWithApplicant runs a service whose only applicant c1 covers half of s1.
func startWithApplicant(ctx context.Context, cfg *config.Config) *Service {
	svc := New(WithConfig(cfg))
	So(svc.Start(ctx), ShouldBeNil)
	_, err := svc.CreateSubject(ctx, model.Subject{ID: "s1", RecommendedSkills: []string{"python", "ml"}})
	So(err, ShouldBeNil)
	_, err = svc.RegisterCandidate(ctx, model.Candidate{ID: "c1", Skills: []string{"python"}, Subjects: []string{"s1"}})
	So(err, ShouldBeNil)
	settle(svc)
	So(candidateAverage(ctx, svc), ShouldAlmostEqual, 0.5, 1e-9)
	return svc
}

func TestRepair(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a running service with repair passes on demand", t, func() {
		svc := startWithApplicant(ctx, repairConfig(0))
		defer func() { So(svc.Shutdown(ctx), ShouldBeNil) }()

		Convey("When nothing failed or was dropped", func() {
			ran, err := svc.Repair(ctx)

			Convey("Then no pass runs", func() {
				So(err, ShouldBeNil)
				So(ran, ShouldBeFalse)
			})
		})

		Convey("When the queue stops accepting triggers", func() {
			So(svc.queue.Close(), ShouldBeNil)
			So(svc.UpdateCandidate(ctx, model.Candidate{ID: "c1", Skills: []string{"python", "ml"}}), ShouldBeNil)

			Convey("Then the trigger is counted as dropped and the score is stale", func() {
				So(svc.dropped.Load(), ShouldEqual, 1)
				So(svc.GetStats(ctx)["dropped_triggers"], ShouldEqual, int64(1))
				So(candidateAverage(ctx, svc), ShouldAlmostEqual, 0.5, 1e-9)
			})

			Convey("Then a repair pass brings the score up to date", func() {
				ran, err := svc.Repair(ctx)
				So(err, ShouldBeNil)
				So(ran, ShouldBeTrue)
				So(candidateAverage(ctx, svc), ShouldEqual, 1)
				So(svc.dropped.Load(), ShouldEqual, 0)

				again, err := svc.Repair(ctx)
				So(err, ShouldBeNil)
				So(again, ShouldBeFalse)
			})
		})

		Convey("When a stored score disagrees and the ledger holds a failure", func() {
			So(svc.scores.WriteAggregate(ctx, model.Aggregate{EntityRef: model.EntityRef{Kind: model.KindCandidate, ID: "c1"}, Value: 0.9}), ShouldBeNil)
			So(svc.orch.Process(ctx, model.MutationEvent{ID: "bad", Kind: "widget", Action: model.ActionCreated}), ShouldNotBeNil)

			Convey("Then a repair pass rewrites it and clears the ledger", func() {
				ran, err := svc.Repair(ctx)
				So(err, ShouldBeNil)
				So(ran, ShouldBeTrue)
				So(candidateAverage(ctx, svc), ShouldAlmostEqual, 0.5, 1e-9)
				So(svc.FailedEvents(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a running service with a one-second repair interval", t, func() {
		svc := startWithApplicant(ctx, repairConfig(1))
		defer func() { So(svc.Shutdown(ctx), ShouldBeNil) }()

		Convey("When a trigger is dropped", func() {
			So(svc.queue.Close(), ShouldBeNil)
			So(svc.UpdateCandidate(ctx, model.Candidate{ID: "c1", Skills: []string{"python", "ml"}}), ShouldBeNil)

			Convey("Then the background pass repairs the score", func() {
				deadline := time.Now().Add(5 * time.Second)
				for svc.dropped.Load() != 0 && time.Now().Before(deadline) {
					time.Sleep(20 * time.Millisecond)
				}
				So(svc.dropped.Load(), ShouldEqual, 0)
				So(candidateAverage(ctx, svc), ShouldEqual, 1)
			})
		})
	})
}
