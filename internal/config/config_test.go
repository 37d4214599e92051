package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/expertrank/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.SimilarityMetric, convey.ShouldEqual, "coverage")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
			convey.So(cfg.PairTimeout(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.StorageRetryInitial(), convey.ShouldEqual, 50*time.Millisecond)
			convey.So(cfg.StorageRetryMax(), convey.ShouldEqual, time.Second)
			convey.So(cfg.BadgerGCInterval(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.RepairInterval(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":          func(c *config.Config) { c.Addr = " " },
			"zero queue":          func(c *config.Config) { c.QueueSize = 0 },
			"zero workers":        func(c *config.Config) { c.WorkerCount = 0 },
			"zero concurrency":    func(c *config.Config) { c.ComputeConcurrency = 0 },
			"zero pair timeout":   func(c *config.Config) { c.PairTimeoutMS = 0 },
			"zero attempts":       func(c *config.Config) { c.StorageRetryAttempts = 0 },
			"inverted retry":      func(c *config.Config) { c.StorageRetryMaxMS = 10 },
			"blend above one":     func(c *config.Config) { c.RecommendedBlend = 1.5 },
			"negative repair":     func(c *config.Config) { c.RepairIntervalS = -1 },
			"unknown metric":      func(c *config.Config) { c.SimilarityMetric = "cosine" },
			"unknown driver":      func(c *config.Config) { c.StoreDriver = "mongo" },
			"unknown log format":  func(c *config.Config) { c.LogFormat = "xml" },
			"negative weight":     func(c *config.Config) { c.SkillWeights = map[string]float64{"go": -1} },
			"zero default weight": func(c *config.Config) { c.DefaultSkillWeight = 0 },
			"sqlite without dsn": func(c *config.Config) {
				c.StoreDriver = "sqlite"
				c.SQLiteDSN = ""
			},
		}

		for name, mutate := range cases {
			convey.Convey("When "+name, func() {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then validation fails with ErrInvalidConfig", func() {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}
