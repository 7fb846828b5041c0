package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/spawnfence/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.TaskQueueDriver, convey.ShouldEqual, config.TaskQueueNATS)
				convey.So(cfg.StorageDriver, convey.ShouldEqual, config.StoragePostgres)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("SPAWNFENCE_ADDR", ":8080")
			_ = os.Setenv("SPAWNFENCE_MAX_QUEUE_SIZE", "250")
			_ = os.Setenv("SPAWNFENCE_EXTRA_FLUSH_THRESHOLD", "50")
			_ = os.Setenv("SPAWNFENCE_FLUSH_INTERVAL", "3s")
			_ = os.Setenv("SPAWNFENCE_LOCK_TTL", "2m")
			_ = os.Setenv("SPAWNFENCE_RUN_WORKER", "true")
			_ = os.Setenv("SPAWNFENCE_GEOFENCE_RETRY_MULTIPLIER", "1.5")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 250)
				convey.So(cfg.ExtraFlushThreshold, convey.ShouldEqual, 50)
				convey.So(cfg.FlushInterval, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.LockTTL, convey.ShouldEqual, 2*time.Minute)
				convey.So(cfg.RunWorker, convey.ShouldBeTrue)
				convey.So(cfg.GeofenceRetryMultiplier, convey.ShouldEqual, 1.5)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
max_queue_size: 300
geofence_url: "http://koji.local/api/v1/geofence/feature-collection/pokemon"
geofence_bearer_token: "secret"
storage_driver: sqlite
storage_dsn: "file::memory:"
retry_delay: 250ms
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SPAWNFENCE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.GeofenceBearerToken, convey.ShouldEqual, "secret")
				convey.So(cfg.StorageDriver, convey.ShouldEqual, config.StorageSQLite)
				convey.So(cfg.RetryDelay, convey.ShouldEqual, 250*time.Millisecond)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
max_queue_size: 300
worker_count: 24
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SPAWNFENCE_CONFIG", tmpFile)
			_ = os.Setenv("SPAWNFENCE_ADDR", ":8080")
			_ = os.Setenv("SPAWNFENCE_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxQueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("SPAWNFENCE_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("SPAWNFENCE_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("SPAWNFENCE_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("SPAWNFENCE_MAX_QUEUE_SIZE", "invalid")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a malformed duration", func() {
			_ = os.Setenv("SPAWNFENCE_FLUSH_INTERVAL", "soon")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"SPAWNFENCE_CONFIG",
		"SPAWNFENCE_ADDR",
		"SPAWNFENCE_MAX_QUEUE_SIZE",
		"SPAWNFENCE_EXTRA_FLUSH_THRESHOLD",
		"SPAWNFENCE_FLUSH_INTERVAL",
		"SPAWNFENCE_LOCK_TTL",
		"SPAWNFENCE_RUN_WORKER",
		"SPAWNFENCE_WORKER_COUNT",
		"SPAWNFENCE_GEOFENCE_RETRY_MULTIPLIER",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "spawnfence-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
