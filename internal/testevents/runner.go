package testevents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/okian/spawnfence/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	outputPermission    = 0600
)

// Run executes the complete webhook load test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}

	logger.Get().Info(ctx, "starting spawnfence webhook test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("events", config.NumEvents),
		logger.Int("batchSize", config.BatchSize),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	before, err := fetchReceiverStats(ctx, config)
	if err != nil {
		return fmt.Errorf("initial stats failed: %w", err)
	}
	if before.Geofences == 0 {
		logger.Get().Warn(ctx, "receiver has no geofences loaded; every event will be unmatched")
	}

	// Step 2: Generate payloads
	payloads, kinds, err := generatePayloads(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("payload generation failed: %w", err)
	}

	// Step 3: Post payloads concurrently
	if err := submitPayloads(ctx, config, payloads, stats); err != nil {
		return fmt.Errorf("webhook submission failed: %w", err)
	}

	// Step 4: Let the idle flush run
	if config.SettleWait > 0 {
		logger.Get().Info(ctx, "waiting for the receiver to flush", logger.Duration("wait", config.SettleWait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.SettleWait):
		}
	}

	// Step 5: Compare with the receiver's counters
	after, err := fetchReceiverStats(ctx, config)
	if err != nil {
		return fmt.Errorf("final stats failed: %w", err)
	}
	verifyErr := verifyResults(ctx, config, before, after, kinds, stats)

	// Step 6: Save payloads to file
	if err := savePayloadsToFile(ctx, config, payloads); err != nil {
		logger.Get().Warn(ctx, "failed to save payloads to file", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	if verifyErr != nil {
		return fmt.Errorf("result verification failed: %w", verifyErr)
	}
	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + healthPath

	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
		}
	}()

	// The health endpoint serves Prometheus metrics; any 200 is healthy.
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// savePayloadsToFile writes the posted webhook arrays as one JSON array.
func savePayloadsToFile(ctx context.Context, config *Config, payloads [][]Envelope) error {
	if len(payloads) == 0 {
		return fmt.Errorf("no payloads to save")
	}

	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_webhooks_" + timestamp + ".json"
	}

	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal payloads: %w", err)
	}
	if err := os.WriteFile(filename, data, outputPermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Get().Info(ctx, "payloads saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var successRate, eventsPerSecond float64

	if stats.PostsSubmitted > 0 {
		successRate = float64(stats.PostsSuccessful) / float64(stats.PostsSubmitted) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.counted()) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("postsSubmitted", stats.PostsSubmitted),
		logger.Int("postsSuccessful", stats.PostsSuccessful),
		logger.Int("postsFailed", stats.PostsFailed),
		logger.Int("accepted", stats.Accepted),
		logger.Int("rejected", stats.Rejected),
		logger.Int("unmatched", stats.Unmatched),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("ignored", stats.Ignored),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
