package testevents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitPayloads posts webhook arrays concurrently using a worker pool.
func submitPayloads(ctx context.Context, config *Config, payloads [][]Envelope, stats *Stats) error {
	log.Printf("📤 Posting %d webhook arrays with %d workers...", len(payloads), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + webhookPath

	var submitted, successful, failed int64
	var accepted, rejected, unmatched, duplicate, ignored int64

	var (
		reportMu   sync.Mutex
		lastReport time.Time
	)
	reportInterval := 1 * time.Second

	payloadChan := make(chan []Envelope, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	workers := max(config.Workers, 1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for payload := range payloadChan {
				if ctx.Err() != nil {
					return
				}
				res, err := submitSinglePayload(ctx, client, url, payload)

				atomic.AddInt64(&submitted, 1)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						log.Printf("⚠️  Post failed: %v", err)
					}
				} else {
					atomic.AddInt64(&successful, 1)
					atomic.AddInt64(&accepted, int64(res.Accepted))
					atomic.AddInt64(&rejected, int64(res.Rejected))
					atomic.AddInt64(&unmatched, int64(res.Unmatched))
					atomic.AddInt64(&duplicate, int64(res.Duplicate))
					atomic.AddInt64(&ignored, int64(res.Ignored))
				}

				reportMu.Lock()
				due := time.Since(lastReport) >= reportInterval
				if due {
					lastReport = time.Now()
				}
				reportMu.Unlock()
				if due {
					total := atomic.LoadInt64(&submitted)
					if config.Verbose {
						log.Printf("📊 Progress: %d/%d posted (accepted events: %d, failed posts: %d)",
							total, len(payloads), atomic.LoadInt64(&accepted), atomic.LoadInt64(&failed))
					} else {
						fmt.Printf("\r📤 Posted: %d/%d (accepted events: %d, failed posts: %d)",
							total, len(payloads), atomic.LoadInt64(&accepted), atomic.LoadInt64(&failed))
					}
				}
			}
		}()
	}

	go func() {
		defer close(payloadChan)
		for _, payload := range payloads {
			select {
			case <-ctx.Done():
				return
			case payloadChan <- payload:
			}
		}
	}()

	wg.Wait()

	if !config.Verbose {
		fmt.Println()
	}

	stats.PostsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.PostsSuccessful = int(atomic.LoadInt64(&successful))
	stats.PostsFailed = int(atomic.LoadInt64(&failed))
	stats.Accepted = int(atomic.LoadInt64(&accepted))
	stats.Rejected = int(atomic.LoadInt64(&rejected))
	stats.Unmatched = int(atomic.LoadInt64(&unmatched))
	stats.Duplicate = int(atomic.LoadInt64(&duplicate))
	stats.Ignored = int(atomic.LoadInt64(&ignored))

	log.Printf(`✅ Webhook submission completed:
   Posts ok: %d
   Posts failed: %d
   Accepted: %d  Rejected: %d  Unmatched: %d  Duplicate: %d  Ignored: %d
`, stats.PostsSuccessful, stats.PostsFailed,
		stats.Accepted, stats.Rejected, stats.Unmatched, stats.Duplicate, stats.Ignored)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submission interrupted: %w", err)
	}
	return nil
}

// submitSinglePayload posts one webhook array and decodes the receiver's counts.
func submitSinglePayload(ctx context.Context, client *HTTPClient, url string, payload []Envelope) (WebhookResponse, error) {
	resp, err := client.Post(ctx, url, payload)
	if err != nil {
		return WebhookResponse{}, err
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return WebhookResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != StatusOK {
		return WebhookResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var res WebhookResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return WebhookResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if res.Status != "success" {
		return res, fmt.Errorf("unexpected response status %q", res.Status)
	}
	return res, nil
}
