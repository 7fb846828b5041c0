package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/spawnfence/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.ExtraFlushThreshold, convey.ShouldEqual, 500)
			convey.So(cfg.FlushInterval, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.LockTTL, convey.ShouldEqual, 600*time.Second)
			convey.So(cfg.GeofenceRefreshInterval, convey.ShouldEqual, time.Hour)
			convey.So(cfg.ExtraFlushWatermark(), convey.ShouldEqual, 1500)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When max_queue_size is zero", func() {
			cfg.MaxQueueSize = 0
			err := cfg.Validate()

			convey.Convey("Then it should be rejected as invalid", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "max_queue_size")
			})
		})

		convey.Convey("When the storage driver is unknown", func() {
			cfg.StorageDriver = "mongo"
			err := cfg.Validate()

			convey.Convey("Then the error should name the driver", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, `"mongo"`)
			})
		})

		convey.Convey("When the in-process task queue is used without an embedded worker", func() {
			cfg.TaskQueueDriver = config.TaskQueueMemory
			cfg.RunWorker = false

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			})

			convey.Convey("And enabling run_worker should fix it", func() {
				cfg.RunWorker = true
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When several fields are broken", func() {
			cfg.Addr = " "
			cfg.GeofenceMaxTries = 0
			cfg.GeofenceRetryMultiplier = 0.5
			err := cfg.Validate()

			convey.Convey("Then every problem should be reported", func() {
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(err.Error(), convey.ShouldContainSubstring, "geofence_max_tries")
				convey.So(err.Error(), convey.ShouldContainSubstring, "geofence_retry_multiplier")
			})
		})

		convey.Convey("When a NATS topic contains a dot", func() {
			cfg.TaskTopic = "sightings.batches"

			convey.Convey("Then it should be rejected as a stream name", func() {
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "task_topic")
			})

			convey.Convey("And the in-process driver should accept it", func() {
				cfg.TaskQueueDriver = config.TaskQueueMemory
				cfg.RunWorker = true
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}

func TestConfig_Warnings(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then the retry budget should fit in ack_wait", func() {
			// 1s + 2s + 4s + 8s + 16s
			convey.So(cfg.RetryBudget(), convey.ShouldEqual, 31*time.Second)
			convey.So(cfg.Warnings(), convey.ShouldBeEmpty)
		})

		convey.Convey("When retries outlast ack_wait", func() {
			cfg.MaxRetries = 7
			cfg.AckWait = time.Minute

			convey.Convey("Then a warning should name both settings", func() {
				warnings := cfg.Warnings()
				convey.So(warnings, convey.ShouldHaveLength, 1)
				convey.So(warnings[0], convey.ShouldContainSubstring, "2m7s")
				convey.So(warnings[0], convey.ShouldContainSubstring, "ack_wait 1m0s")
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the in-process task queue is used", func() {
			cfg.TaskQueueDriver = config.TaskQueueMemory
			cfg.MaxRetries = 10

			convey.Convey("Then there is no ack deadline to warn about", func() {
				convey.So(cfg.Warnings(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the dedupe window is negative", func() {
			cfg.DedupeWindow = -time.Second

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "dedupe_window")
			})
		})
	})
}
