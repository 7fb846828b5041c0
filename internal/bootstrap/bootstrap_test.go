package bootstrap_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/alicebob/miniredis/v2"
	"github.com/okian/spawnfence/internal/adapters/mq/taskqueue"
	"github.com/okian/spawnfence/internal/adapters/repository"
	"github.com/okian/spawnfence/internal/bootstrap"
	"github.com/okian/spawnfence/internal/config"
	"github.com/okian/spawnfence/internal/domain/geofence"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	os.Exit(m.Run())
}

func memoryConfig(t *testing.T) *config.Config {
	cfg := config.New(context.Background())
	cfg.TaskQueueDriver = config.TaskQueueMemory
	cfg.RunWorker = true
	cfg.StorageDriver = config.StorageSQLite
	cfg.StorageDSN = filepath.Join(t.TempDir(), "bootstrap.db")
	cfg.MaxQueueSize = 3
	cfg.RetryDelay = time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func downtown() geofence.Source {
	return geofence.SourceFunc(func(context.Context) ([]geofence.Area, error) {
		square := orb.MultiPolygon{{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}}
		return []geofence.Area{geofence.NewArea("Downtown", square)}, nil
	})
}

func TestOpenStore(t *testing.T) {
	Convey("Given storage drivers", t, func() {
		ctx := context.Background()
		cfg := memoryConfig(t)

		Convey("Then memory should need no DSN", func() {
			cfg.StorageDriver = config.StorageMemory
			store, err := bootstrap.OpenStore(ctx, cfg)
			So(err, ShouldBeNil)
			_, ok := store.(*repository.MemoryStore)
			So(ok, ShouldBeTrue)
		})

		Convey("Then sqlite should create the table", func() {
			store, err := bootstrap.OpenStore(ctx, cfg)
			So(err, ShouldBeNil)
			defer func() { _ = store.Close() }()
			n, err := store.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("Then an unknown driver should be rejected", func() {
			cfg.StorageDriver = "mongo"
			_, err := bootstrap.OpenStore(ctx, cfg)
			So(errors.Is(err, bootstrap.ErrWiring), ShouldBeTrue)
		})
	})
}

func TestNewGeofenceSource(t *testing.T) {
	Convey("Given a config without a geofence URL", t, func() {
		cfg := config.New(context.Background())

		Convey("Then building the source should fail", func() {
			_, err := bootstrap.NewGeofenceSource(cfg)
			So(errors.Is(err, bootstrap.ErrWiring), ShouldBeTrue)
		})

		Convey("Then a URL should be enough", func() {
			cfg.GeofenceURL = "http://koji.invalid/geofence"
			src, err := bootstrap.NewGeofenceSource(cfg)
			So(err, ShouldBeNil)
			So(src, ShouldNotBeNil)
		})
	})
}

func TestPipeline(t *testing.T) {
	Convey("Given a receiver and an embedded worker on the memory transport", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cfg := memoryConfig(t)

		transport, err := taskqueue.New(cfg, watermill.NopLogger{})
		So(err, ShouldBeNil)
		defer func() { _ = transport.Close() }()

		store, err := bootstrap.OpenStore(ctx, cfg)
		So(err, ShouldBeNil)
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

		stack, err := bootstrap.NewInsertStack(cfg, store, client, transport, watermill.NopLogger{})
		So(err, ShouldBeNil)
		defer func() { _ = stack.Close() }()

		routerCtx, stopRouter := context.WithCancel(ctx)
		routerDone := make(chan struct{})
		go func() {
			defer close(routerDone)
			_ = stack.Router.Serve(routerCtx)
		}()
		defer func() {
			stopRouter()
			<-routerDone
		}()
		<-stack.Router.Running()

		pub, err := transport.Publisher()
		So(err, ShouldBeNil)
		recv, err := bootstrap.NewReceiver(ctx, cfg, downtown(), pub)
		So(err, ShouldBeNil)
		recv.Resolver.Start(ctx)
		So(recv.Service.Start(ctx), ShouldBeNil)

		Convey("When a webhook fills one batch", func() {
			body := `[
				{"type":"pokemon","message":{"pokemon_id":1,"form":0,"latitude":1,"longitude":1,"individual_attack":15,"individual_defense":15,"individual_stamina":15}},
				{"type":"pokemon","message":{"pokemon_id":2,"form":0,"latitude":2,"longitude":2,"individual_attack":1,"individual_defense":2,"individual_stamina":3}},
				{"type":"raid","message":{}},
				{"type":"pokemon","message":{"pokemon_id":3,"form":0,"latitude":3,"longitude":3,"individual_attack":0,"individual_defense":0,"individual_stamina":0}}
			]`
			rec := httptest.NewRecorder()
			recv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

			Convey("Then the batch should reach storage", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"accepted":3`)

				deadline := time.Now().Add(5 * time.Second)
				n := 0
				for n < 3 && time.Now().Before(deadline) {
					n, _ = store.Count(ctx)
					time.Sleep(10 * time.Millisecond)
				}
				So(n, ShouldEqual, 3)
				So(recv.Queue.Len(ctx), ShouldEqual, 0)
			})
		})

		Convey("When the receiver stops with a partial buffer", func() {
			body := `[{"type":"pokemon","message":{"pokemon_id":7,"form":0,"latitude":4,"longitude":4,"individual_attack":15,"individual_defense":15,"individual_stamina":15}}]`
			rec := httptest.NewRecorder()
			recv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
			So(rec.Code, ShouldEqual, http.StatusOK)
			recv.Service.Stop(ctx)

			Convey("Then the remainder should be dispatched and later posts refused", func() {
				deadline := time.Now().Add(5 * time.Second)
				n := 0
				for n < 1 && time.Now().Before(deadline) {
					n, _ = store.Count(ctx)
					time.Sleep(10 * time.Millisecond)
				}
				So(n, ShouldEqual, 1)

				late := strings.Replace(body, `"pokemon_id":7`, `"pokemon_id":8`, 1)
				rec := httptest.NewRecorder()
				recv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(late)))
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})
	})
}

func TestServers(t *testing.T) {
	Convey("Given the shared HTTP helpers", t, func() {
		Convey("Then servers should carry timeouts", func() {
			srv := bootstrap.NewHTTPServer(":0", http.NotFoundHandler())
			So(srv.ReadHeaderTimeout, ShouldBeGreaterThan, 0)
			So(srv.WriteTimeout, ShouldBeGreaterThan, 0)
		})

		Convey("Then the metrics handler should serve healthz", func() {
			rec := httptest.NewRecorder()
			bootstrap.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestConfigureMetrics(t *testing.T) {
	Convey("Given metric naming settings in the config", t, func() {
		cfg := config.New(context.Background())
		cfg.MetricsNamespace = "fence"
		cfg.MetricsSubsystem = "rx"
		cfg.MetricsLabels = map[string]string{"site": "nyc"}
		cfg.MetricsRefreshInterval = 3 * time.Second
		Reset(func() { bootstrap.ConfigureMetrics(config.New(context.Background())) })

		Convey("When they are applied", func() {
			bootstrap.ConfigureMetrics(cfg)
			metrics.UpdateQueueSize(7)

			rec := httptest.NewRecorder()
			bootstrap.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			Convey("Then the served series should use them", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `fence_rx_queue_size{site="nyc"} 7`)
				So(metrics.RefreshInterval(), ShouldEqual, 3*time.Second)
			})
		})
	})
}
