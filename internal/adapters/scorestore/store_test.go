package scorestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/domain/model"
	logging "github.com/okian/expertrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func ps(kind model.PairKind, owner, subject string, v float64) model.PairScore {
	return model.PairScore{
		PairKey:    model.PairKey{Kind: kind, OwnerID: owner, SubjectID: subject},
		Value:      v,
		ComputedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestBadgerStore(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an in-memory score store", t, func() {
		s, err := scorestore.OpenInMemory()
		So(err, ShouldBeNil)
		defer s.Close()

		So(s.WritePairScore(ctx, ps(model.PairExpertSubject, "e1", "s1", 0.5)), ShouldBeNil)
		So(s.WritePairScore(ctx, ps(model.PairExpertSubject, "e1", "s2", 0.25)), ShouldBeNil)
		So(s.WritePairScore(ctx, ps(model.PairExpertSubject, "e2", "s1", 1)), ShouldBeNil)
		So(s.WritePairScore(ctx, ps(model.PairCandidateSubject, "c1", "s1", 0.667)), ShouldBeNil)

		Convey("When a pair is read back", func() {
			got, err := s.ReadPairScore(ctx, model.PairKey{Kind: model.PairExpertSubject, OwnerID: "e1", SubjectID: "s1"})

			Convey("Then value and timestamp survive", func() {
				So(err, ShouldBeNil)
				So(got.Value, ShouldEqual, 0.5)
				So(got.ComputedAt.Equal(time.Unix(1700000000, 0)), ShouldBeTrue)
			})
		})

		Convey("When a pair is overwritten", func() {
			So(s.WritePairScore(ctx, ps(model.PairExpertSubject, "e1", "s1", 0.9)), ShouldBeNil)
			list, err := s.ListPairScores(ctx, model.PairExpertSubject, "e1")

			Convey("Then there is still one score per pair", func() {
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 2)
				So(list[0].Value, ShouldEqual, 0.9)
			})
		})

		Convey("When listing by owner", func() {
			list, err := s.ListPairScores(ctx, model.PairExpertSubject, "e1")

			Convey("Then only that owner's pairs are returned", func() {
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 2)
				So(list[0].SubjectID, ShouldEqual, "s1")
				So(list[1].SubjectID, ShouldEqual, "s2")
			})
		})

		Convey("When listing by subject", func() {
			list, err := s.ListSubjectPairs(ctx, "s1")

			Convey("Then pairs of both kinds are found through the index", func() {
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 3)
			})
		})

		Convey("When specific pairs are deleted", func() {
			So(s.DeletePairScores(ctx, model.PairKey{Kind: model.PairExpertSubject, OwnerID: "e1", SubjectID: "s2"}), ShouldBeNil)
			_, err := s.ReadPairScore(ctx, model.PairKey{Kind: model.PairExpertSubject, OwnerID: "e1", SubjectID: "s2"})

			Convey("Then they are gone", func() {
				So(errors.Is(err, scorestore.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When an owner is deleted", func() {
			ref := model.EntityRef{Kind: model.KindExpert, ID: "e1"}
			So(s.WriteAggregate(ctx, model.Aggregate{EntityRef: ref, Value: 0.375}), ShouldBeNil)
			So(s.DeleteOwner(ctx, ref), ShouldBeNil)

			list, _ := s.ListPairScores(ctx, model.PairExpertSubject, "e1")
			_, aggErr := s.ReadAggregate(ctx, ref)
			bySubject, _ := s.ListSubjectPairs(ctx, "s1")

			Convey("Then its pairs, index entries and aggregate are removed", func() {
				So(list, ShouldBeEmpty)
				So(errors.Is(aggErr, scorestore.ErrNotFound), ShouldBeTrue)
				So(bySubject, ShouldHaveLength, 2)
			})
		})

		Convey("When a subject is deleted", func() {
			owners, err := s.DeleteSubject(ctx, "s1")
			left, _ := s.ListPairScores(ctx, model.PairExpertSubject, "e1")

			Convey("Then every owner that referenced it is reported", func() {
				So(err, ShouldBeNil)
				So(owners, ShouldHaveLength, 3)
				So(owners, ShouldContain, model.EntityRef{Kind: model.KindCandidate, ID: "c1"})
				So(owners, ShouldContain, model.EntityRef{Kind: model.KindExpert, ID: "e2"})
				So(left, ShouldHaveLength, 1)
				So(left[0].SubjectID, ShouldEqual, "s2")
			})
		})

		Convey("When aggregates are written", func() {
			So(s.WriteAggregate(ctx, model.Aggregate{EntityRef: model.EntityRef{Kind: model.KindExpert, ID: "e1"}, Value: 0.4}), ShouldBeNil)
			So(s.WriteAggregate(ctx, model.Aggregate{EntityRef: model.EntityRef{Kind: model.KindExpert, ID: "e2"}, Value: 0.8}), ShouldBeNil)
			So(s.WriteAggregate(ctx, model.Aggregate{EntityRef: model.EntityRef{Kind: model.KindCandidate, ID: "c1"}, Value: 0.1}), ShouldBeNil)
			list, err := s.ListAggregates(ctx, model.KindExpert)

			Convey("Then they are listed per kind", func() {
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 2)
				So(list[1].ID, ShouldEqual, "e2")
				So(list[1].Value, ShouldEqual, 0.8)
			})
		})

		Convey("When an id contains the key separator", func() {
			err := s.WritePairScore(ctx, ps(model.PairExpertSubject, "e/1", "s1", 0.1))

			Convey("Then the write is rejected", func() {
				So(errors.Is(err, scorestore.ErrInvalidKey), ShouldBeTrue)
			})
		})
	})
}

func TestBadgerStorePersistent(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a store on disk", t, func() {
		dir := t.TempDir()
		cfg := scorestore.DefaultConfig(dir)
		cfg.GCInterval = time.Hour

		s, err := scorestore.Open(cfg)
		So(err, ShouldBeNil)
		So(s.WriteAggregate(ctx, model.Aggregate{EntityRef: model.EntityRef{Kind: model.KindExpert, ID: "e1"}, Value: 0.5}), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When it is reopened", func() {
			s2, err := scorestore.Open(cfg)
			So(err, ShouldBeNil)
			defer s2.Close()
			agg, err := s2.ReadAggregate(ctx, model.EntityRef{Kind: model.KindExpert, ID: "e1"})

			Convey("Then scores survive", func() {
				So(err, ShouldBeNil)
				So(agg.Value, ShouldEqual, 0.5)
			})
		})
	})
}
