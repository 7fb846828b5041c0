package geofence

import (
	"net/http"
	"time"
)

// Option applies a configuration option to the Source.
type Option func(*Source)

// WithBearerToken sets the Authorization bearer token.
func WithBearerToken(token string) Option {
	return func(s *Source) { s.token = token }
}

// WithMaxAreas caps how many areas are kept from one fetch.
func WithMaxAreas(n int) Option {
	return func(s *Source) { s.maxAreas = n }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithBreaker sets how many consecutive failures open the circuit and how
// long it stays open.
func WithBreaker(failures uint32, open time.Duration) Option {
	return func(s *Source) {
		if failures > 0 {
			s.breakerFailures = failures
		}
		if open > 0 {
			s.breakerOpen = open
		}
	}
}
