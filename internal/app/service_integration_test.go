package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/alicebob/miniredis/v2"
	"github.com/okian/spawnfence/internal/adapters/lock"
	"github.com/okian/spawnfence/internal/adapters/mq/dispatch"
	"github.com/okian/spawnfence/internal/adapters/mq/flusher"
	"github.com/okian/spawnfence/internal/adapters/mq/queue"
	"github.com/okian/spawnfence/internal/adapters/mq/worker"
	"github.com/okian/spawnfence/internal/adapters/repository"
	service "github.com/okian/spawnfence/internal/app"
	"github.com/okian/spawnfence/internal/domain/geofence"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	itTaskTopic   = "it_batches"
	itFailedTopic = "it_failed"
)

// teeDispatcher remembers every batch it forwards.
type teeDispatcher struct {
	inner *dispatch.Dispatcher
	mu    sync.Mutex
	sent  []model.Batch
}

func (d *teeDispatcher) Dispatch(ctx context.Context, items []model.QueueItem) (model.Batch, error) {
	b, err := d.inner.Dispatch(ctx, items)
	if err == nil {
		d.mu.Lock()
		d.sent = append(d.sent, b)
		d.mu.Unlock()
	}
	return b, err
}

func square() orb.MultiPolygon {
	return orb.MultiPolygon{{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}}
}

func waitForRows(ctx context.Context, store repository.Store, want int) int {
	deadline := time.Now().Add(5 * time.Second)
	n := 0
	for time.Now().Before(deadline) {
		n, _ = store.Count(ctx)
		if n >= want {
			return n
		}
		time.Sleep(10 * time.Millisecond)
	}
	return n
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a receiver and an insert worker sharing an in-process task queue", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resolver := geofence.New(geofence.SourceFunc(func(context.Context) ([]geofence.Area, error) {
			return []geofence.Area{geofence.NewArea("Downtown", square())}, nil
		}))
		So(resolver.Refresh(ctx), ShouldBeNil)

		wmLogger := watermill.NopLogger{}
		pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, wmLogger)
		defer func() { _ = pubSub.Close() }()

		store, err := repository.Open(ctx, repository.DriverSQLite, filepath.Join(t.TempDir(), "it.db"))
		So(err, ShouldBeNil)
		defer func() { _ = store.Close() }()

		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer func() { _ = client.Close() }()

		router, err := worker.NewRouter(worker.RouterConfig{
			Topic:        itTaskTopic,
			FailedTopic:  itFailedTopic,
			MaxRetries:   2,
			RetryDelay:   time.Millisecond,
			CloseTimeout: time.Second,
		}, worker.NewInsertWorker(store, lock.New(client)), pubSub, pubSub, wmLogger)
		So(err, ShouldBeNil)

		routerCtx, stopRouter := context.WithCancel(ctx)
		routerDone := make(chan struct{})
		go func() {
			defer close(routerDone)
			_ = router.Serve(routerCtx)
		}()
		defer func() {
			stopRouter()
			<-routerDone
		}()
		<-router.Running()

		q := queue.NewIngestionQueue(queue.WithMaxSize(5))
		d := &teeDispatcher{inner: dispatch.New(pubSub, dispatch.WithTopic(itTaskTopic), dispatch.WithRetryDelay(time.Millisecond))}
		svc := service.New(resolver, q, d)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When 7 events arrive and the idle timer fires", func() {
			body := pokemons(1, 7)
			body = append(body, pokemon(99, 50))
			res, err := svc.Ingest(ctx, body)
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 7)
			So(res.Unmatched, ShouldEqual, 1)

			flusher.New(q, d, 1).Tick(ctx)

			Convey("Then every accepted event should be stored once", func() {
				So(waitForRows(ctx, store, 7), ShouldEqual, 7)
				So(len(d.sent), ShouldEqual, 2)
			})

			Convey("When a batch is delivered again", func() {
				So(waitForRows(ctx, store, 7), ShouldEqual, 7)
				_, err := d.inner.Dispatch(ctx, d.sent[0].Items)
				So(err, ShouldBeNil)
				marker, _ := svc.Ingest(ctx, pokemons(50, 3))
				So(marker.Accepted, ShouldEqual, 3)
				flusher.New(q, d, 1).Tick(ctx)

				Convey("Then only the later batch should add rows", func() {
					So(waitForRows(ctx, store, 10), ShouldEqual, 10)
				})
			})
		})

		Convey("When the receiver stops with a partial buffer", func() {
			_, err := svc.Ingest(ctx, pokemons(1, 3))
			So(err, ShouldBeNil)
			svc.Stop(ctx)

			Convey("Then the remaining events should still reach storage", func() {
				So(waitForRows(ctx, store, 3), ShouldEqual, 3)
			})
		})
	})
}
