package aggregate_test

import (
	"testing"

	"github.com/okian/expertrank/internal/domain/aggregate"
	"github.com/okian/expertrank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func pair(subject string, v float64) model.PairScore {
	return model.PairScore{
		PairKey: model.PairKey{Kind: model.PairExpertSubject, OwnerID: "e1", SubjectID: subject},
		Value:   v,
	}
}

func TestAverageFor(t *testing.T) {
	Convey("Given an owner's stored pair scores", t, func() {
		Convey("When membership is empty", func() {
			res := aggregate.AverageFor(nil, nil)

			Convey("Then the average is exactly 0", func() {
				So(res.Value, ShouldEqual, 0)
				So(res.Counted, ShouldEqual, 0)
				So(res.Stale, ShouldBeEmpty)
			})
		})

		Convey("When there is a single member score", func() {
			res := aggregate.AverageFor([]string{"s1"}, []model.PairScore{pair("s1", 0.7)})

			Convey("Then the average equals it", func() {
				So(res.Value, ShouldAlmostEqual, 0.7, 1e-12)
				So(res.Counted, ShouldEqual, 1)
			})
		})

		Convey("When a subject left the membership", func() {
			res := aggregate.AverageFor(
				[]string{"s1", "s3"},
				[]model.PairScore{pair("s1", 0.2), pair("s2", 1.0), pair("s3", 0.4)},
			)

			Convey("Then it is excluded and reported stale", func() {
				So(res.Value, ShouldAlmostEqual, 0.3, 1e-12)
				So(res.Stale, ShouldResemble, []string{"s2"})
			})
		})

		Convey("When a member has no stored score yet", func() {
			res := aggregate.AverageFor([]string{"s1", "s2"}, []model.PairScore{pair("s1", 0.6)})

			Convey("Then it does not drag the mean down", func() {
				So(res.Value, ShouldAlmostEqual, 0.6, 1e-12)
				So(res.Counted, ShouldEqual, 1)
			})
		})

		Convey("When every stored score is stale", func() {
			res := aggregate.AverageFor(nil, []model.PairScore{pair("s9", 0.9), pair("s8", 0.1)})

			Convey("Then the value is 0 and all are pruned", func() {
				So(res.Value, ShouldEqual, 0)
				So(res.Stale, ShouldResemble, []string{"s8", "s9"})
			})
		})
	})
}
