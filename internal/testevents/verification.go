package testevents

import (
	"context"
	"fmt"
	"log"

	json "github.com/goccy/go-json"
)

// fetchReceiverStats reads GET /stats from the receiver.
func fetchReceiverStats(ctx context.Context, config *Config) (ReceiverStats, error) {
	client := newHTTPClient(config.Timeout)

	resp, err := client.Get(ctx, config.BaseURL+statsPath)
	if err != nil {
		return ReceiverStats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return ReceiverStats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return ReceiverStats{}, fmt.Errorf("stats request failed with status: %d", resp.StatusCode)
	}

	var rs ReceiverStats
	if err := json.Unmarshal(body, &rs); err != nil {
		return ReceiverStats{}, fmt.Errorf("failed to decode stats: %w", err)
	}
	return rs, nil
}

// verifyResults checks the per-post counts against what was sent and
// against the receiver's cumulative counters.
func verifyResults(ctx context.Context, config *Config, before, after ReceiverStats, kinds map[string]int, stats *Stats) error {
	log.Println("🔍 Verifying results...")

	var problems []string

	if stats.PostsFailed == 0 && stats.counted() != stats.EventsGenerated {
		problems = append(problems, fmt.Sprintf("receiver counted %d events, generated %d",
			stats.counted(), stats.EventsGenerated))
	}

	// Other senders may share the receiver, so the deltas are lower bounds.
	deltas := []struct {
		name string
		got  int64
		want int
	}{
		{"accepted", after.Accepted - before.Accepted, stats.Accepted},
		{"rejected", after.Rejected - before.Rejected, stats.Rejected},
		{"unmatched", after.Unmatched - before.Unmatched, stats.Unmatched},
		{"duplicate", after.Duplicate - before.Duplicate, stats.Duplicate},
		{"ignored", after.Ignored - before.Ignored, stats.Ignored},
	}
	for _, d := range deltas {
		if d.got < int64(d.want) {
			problems = append(problems, fmt.Sprintf("%s grew by %d on the receiver, responses reported %d",
				d.name, d.got, d.want))
		}
	}

	if want := kinds[KindMissing]; stats.PostsFailed == 0 && stats.Rejected != want {
		problems = append(problems, fmt.Sprintf("rejected %d events, generated %d with a missing stat",
			stats.Rejected, want))
	}
	if want := kinds[KindOtherType]; stats.PostsFailed == 0 && stats.Ignored != want {
		problems = append(problems, fmt.Sprintf("ignored %d events, generated %d of other types",
			stats.Ignored, want))
	}

	if config.Verbose {
		log.Printf("📋 Receiver: queue=%d geofences=%d accepted=%d", after.QueueLength, after.Geofences, after.Accepted)
	}

	if len(problems) > 0 {
		for _, p := range problems {
			log.Printf("⚠️  %s", p)
		}
		return fmt.Errorf("%d verification problems, first: %s", len(problems), problems[0])
	}

	log.Println("✅ Result verification completed")
	return nil
}
