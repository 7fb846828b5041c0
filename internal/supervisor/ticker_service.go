package supervisor

import (
	"context"
	"runtime"
	"time"

	"github.com/okian/spawnfence/pkg/metrics"
)

const nanosecondsPerMillisecond = 1e6

// TickerService runs fn on every tick until ctx is done.
type TickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// NewTickerService creates a supervised periodic task.
func NewTickerService(name string, interval time.Duration, fn func(ctx context.Context)) *TickerService {
	return &TickerService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service.
func (s *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fn(ctx)
		}
	}
}

func (s *TickerService) String() string { return s.name }

// NewSystemMetricsService publishes memory, goroutine and GC gauges every interval.
func NewSystemMetricsService(interval time.Duration) *TickerService {
	return NewTickerService("system-metrics", interval, func(context.Context) {
		UpdateSystemMetrics()
	})
}

// UpdateSystemMetrics samples the runtime once.
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		// Average pause over the process lifetime.
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
