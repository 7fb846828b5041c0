package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/okian/spawnfence/internal/adapters/lock"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDedupLock(t *testing.T) {
	ctx := context.Background()

	Convey("Given a lock backed by redis", t, func() {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer func() { _ = client.Close() }()
		l := lock.New(client, lock.WithTTL(10*time.Minute))

		Convey("When a worker acquires a free batch", func() {
			token, ok, err := l.Acquire(ctx, "batch-1")

			Convey("Then it should own the lock with the configured expiry", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(token, ShouldNotBeEmpty)
				So(mr.TTL("spawnfence:lock:batch-1"), ShouldEqual, 10*time.Minute)
			})

			Convey("Then a second worker should be refused", func() {
				_, ok2, err := l.Acquire(ctx, "batch-1")
				So(err, ShouldBeNil)
				So(ok2, ShouldBeFalse)
			})

			Convey("When it releases the lock", func() {
				So(l.Release(ctx, "batch-1", token), ShouldBeNil)

				Convey("Then the batch should be free again", func() {
					So(mr.Exists("spawnfence:lock:batch-1"), ShouldBeFalse)
					_, ok2, _ := l.Acquire(ctx, "batch-1")
					So(ok2, ShouldBeTrue)
				})
			})

			Convey("When a stale token releases", func() {
				So(l.Release(ctx, "batch-1", "someone-else"), ShouldBeNil)

				Convey("Then the current holder should keep the lock", func() {
					So(mr.Exists("spawnfence:lock:batch-1"), ShouldBeTrue)
				})
			})
		})

		Convey("When the lock expires", func() {
			_, _, _ = l.Acquire(ctx, "batch-2")
			mr.FastForward(11 * time.Minute)

			Convey("Then another worker may take it", func() {
				_, ok, err := l.Acquire(ctx, "batch-2")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When a batch is marked done", func() {
			So(l.MarkDone(ctx, "batch-3"), ShouldBeNil)

			Convey("Then it should be reported done until the window passes", func() {
				done, err := l.IsDone(ctx, "batch-3")
				So(err, ShouldBeNil)
				So(done, ShouldBeTrue)

				mr.FastForward(11 * time.Minute)
				done, _ = l.IsDone(ctx, "batch-3")
				So(done, ShouldBeFalse)
			})
		})

		Convey("When redis goes away", func() {
			mr.Close()
			_, _, err := l.Acquire(ctx, "batch-4")

			Convey("Then the error should be marked unavailable", func() {
				So(errors.Is(err, lock.ErrUnavailable), ShouldBeTrue)
			})
		})
	})

	Convey("Given a redis URL", t, func() {
		mr := miniredis.RunT(t)

		Convey("Then Dial should connect and ping", func() {
			client, err := lock.Dial(ctx, "redis://"+mr.Addr()+"/0")
			So(err, ShouldBeNil)
			So(client.Close(), ShouldBeNil)
		})

		Convey("Then a bad URL should fail", func() {
			_, err := lock.Dial(ctx, "not a url")
			So(err, ShouldNotBeNil)
		})
	})
}
