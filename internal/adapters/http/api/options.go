package api

import "github.com/okian/spawnfence/pkg/logger"

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithAllowWebhookHost restricts the webhook routes to one remote address.
// Empty allows every sender.
func WithAllowWebhookHost(host string) Option {
	return func(s *Server) {
		s.allowHost = host
	}
}

// WithMaxBodyBytes caps the webhook body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
