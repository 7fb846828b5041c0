package testevents

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/spawnfence/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "send_webhooks_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the webhook sender.
func ShowHelp() {
	os.Stdout.WriteString(`spawnfence webhook sender
=========================

Posts generated pokemon webhook arrays to a spawnfence receiver and checks the
counts it reports back.

Usage:
  go run ./cmd/send-webhooks [options]

Options:
  -url string
        Base URL of the receiver (default "http://localhost:9080")
  -events int
        Number of pokemon events to generate (default 10000)
  -batch int
        Events per webhook POST (default 50)
  -workers int
        Number of concurrent senders (default CPU cores * 2)
  -lat float, -lon float
        Center of the generated sightings (default 40.7128, -74.0060)
  -spread float
        Max offset in degrees from the center (default 0.05)
  -seed uint
        Random seed, 0 for a clock-based seed
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        Wait before reading receiver stats (default 15s)
  -output string
        Output file for generated payloads (default: generated_webhooks_TIMESTAMP.json)
  -log string
        Log file for test output (default: send_webhooks_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Send with default settings
  go run ./cmd/send-webhooks

  # Larger run against another receiver
  go run ./cmd/send-webhooks -events 50000 -workers 16 -url http://localhost:8080

  # Reproducible payloads
  go run ./cmd/send-webhooks -seed 42 -output run42.json
`)
}
