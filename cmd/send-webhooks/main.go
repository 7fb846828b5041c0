package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/spawnfence/internal/testevents"
)

// Default configuration constants.
const (
	defaultNumEvents   = 10000
	defaultBatchSize   = 50
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
	defaultCenterLat   = 40.7128
	defaultCenterLon   = -74.0060
	defaultSpread      = 0.05
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the receiver")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of pokemon events to generate")
		batchSize  = flag.Int("batch", defaultBatchSize, "Events per webhook POST")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent senders")
		centerLat  = flag.Float64("lat", defaultCenterLat, "Latitude the sightings scatter around")
		centerLon  = flag.Float64("lon", defaultCenterLon, "Longitude the sightings scatter around")
		spread     = flag.Float64("spread", defaultSpread, "Max offset in degrees from the center")
		seed       = flag.Uint64("seed", 0, "Random seed (0 picks one from the clock)")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", testevents.DefaultSettleWait, "Wait before reading receiver stats")
		outputFile = flag.String("output", "", "Output file for generated payloads (default: generated_webhooks_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for test output (default: send_webhooks_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		testevents.ShowHelp()
		return 0
	}

	if err := testevents.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	config := &testevents.Config{
		BaseURL:    *baseURL,
		NumEvents:  *numEvents,
		BatchSize:  *batchSize,
		Workers:    *workers,
		Timeout:    *timeout,
		CenterLat:  *centerLat,
		CenterLon:  *centerLon,
		Spread:     *spread,
		Seed:       *seed,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
		SettleWait: *settle,
	}

	if err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		return 1
	}
	return 0
}
