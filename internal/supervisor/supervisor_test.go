package supervisor_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/spawnfence/internal/supervisor"
	. "github.com/smartystreets/goconvey/convey"
)

type flakyService struct {
	runs atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.runs.Add(1) == 1 {
		return errors.New("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyService) String() string { return "flaky" }

type fakeServer struct {
	stop     chan struct{}
	listen   error
	shutdown atomic.Bool
}

func (s *fakeServer) ListenAndServe() error {
	if s.listen != nil {
		return s.listen
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shutdown.Store(true)
	close(s.stop)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestTree(t *testing.T) {
	Convey("Given a supervisor tree with a service that fails once", t, func() {
		tree := supervisor.NewTree("test", quietLogger(), supervisor.TreeConfig{ShutdownTimeout: time.Second})
		svc := &flakyService{}
		tree.AddPipelineService(svc)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := tree.ServeBackground(ctx)

		Convey("Then the service should be restarted", func() {
			deadline := time.Now().Add(5 * time.Second)
			for svc.runs.Load() < 2 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(int(svc.runs.Load()), ShouldBeGreaterThanOrEqualTo, 2)

			cancel()
			select {
			case <-errCh:
			case <-time.After(5 * time.Second):
				t.Fatal("tree did not stop")
			}
		})

		Reset(cancel)
	})
}

func TestHTTPServerService(t *testing.T) {
	Convey("Given an HTTP server service", t, func() {
		Convey("When the context is cancelled", func() {
			srv := &fakeServer{stop: make(chan struct{})}
			svc := supervisor.NewHTTPServerService("webhook-server", srv, time.Second)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- svc.Serve(ctx) }()
			cancel()

			Convey("Then the server should be shut down gracefully", func() {
				err := <-done
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(srv.shutdown.Load(), ShouldBeTrue)
				So(svc.String(), ShouldEqual, "webhook-server")
			})
		})

		Convey("When the server cannot listen", func() {
			srv := &fakeServer{stop: make(chan struct{}), listen: errors.New("address already in use")}
			err := supervisor.NewHTTPServerService("", srv, 0).Serve(context.Background())

			Convey("Then Serve should report the failure", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "address already in use")
				So(err.Error(), ShouldStartWith, "http-server")
			})
		})
	})
}

func TestTickerService(t *testing.T) {
	Convey("Given a ticker service", t, func() {
		var ticks atomic.Int32
		svc := supervisor.NewTickerService("poll", time.Millisecond, func(context.Context) {
			ticks.Add(1)
		})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		Convey("Then fn should run until the context ends", func() {
			deadline := time.Now().Add(5 * time.Second)
			for ticks.Load() < 3 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			So(int(ticks.Load()), ShouldBeGreaterThanOrEqualTo, 3)

			cancel()
			So(errors.Is(<-done, context.Canceled), ShouldBeTrue)
			So(svc.String(), ShouldEqual, "poll")
		})

		Reset(cancel)
	})

	Convey("Given the system metrics service", t, func() {
		Convey("Then sampling should not panic", func() {
			So(supervisor.UpdateSystemMetrics, ShouldNotPanic)
			So(supervisor.NewSystemMetricsService(time.Second).String(), ShouldEqual, "system-metrics")
		})
	})
}
