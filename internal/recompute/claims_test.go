package recompute

import (
	"context"
	"sync/atomic"
	"testing"

	logging "github.com/okian/expertrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestClaims(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an orchestrator", t, func() {
		o := New(nil, nil, nil)

		Convey("When a key is claimed twice", func() {
			So(o.acquire("k"), ShouldBeTrue)
			So(o.acquire("k"), ShouldBeFalse)

			Convey("Then the owner reruns once and then lets go", func() {
				So(o.release("k"), ShouldBeTrue)
				So(o.release("k"), ShouldBeFalse)
				So(o.acquire("k"), ShouldBeTrue)
			})
		})

		Convey("When an event touches a key that is being computed", func() {
			var runs atomic.Int32
			var freshRuns atomic.Int32
			err := o.claimed(ctx, "k", func(fresh bool) error {
				if runs.Add(1) == 1 {
					// A concurrent event arrives mid-computation.
					So(o.claimed(ctx, "k", func(bool) error { t.Fatal("coalesced work ran"); return nil }), ShouldBeNil)
				}
				if fresh {
					freshRuns.Add(1)
				}
				return nil
			})

			Convey("Then the latest state is recomputed by the owner", func() {
				So(err, ShouldBeNil)
				So(runs.Load(), ShouldEqual, 2)
				So(freshRuns.Load(), ShouldEqual, 1)
				So(o.Stats().Coalesced, ShouldEqual, 1)
				So(o.Stats().InFlightKeys, ShouldEqual, 0)
			})
		})
	})
}
