// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/okian/spawnfence/internal/adapters/http/swagger"
	service "github.com/okian/spawnfence/internal/app"
	"github.com/okian/spawnfence/internal/domain/model"
	"github.com/okian/spawnfence/pkg/logger"
)

const defaultMaxBodyBytes = 32 << 20

// Ingester runs a decoded webhook body through the receiver pipeline.
type Ingester interface {
	Ingest(ctx context.Context, envelopes []model.Envelope) (service.IngestResult, error)
}

// Server wires HTTP routes for the webhook receiver.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	webhookHandler *WebhookHandler

	allowHost    string
	maxBodyBytes int64
	logger       logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(ingester Ingester, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.webhookHandler = NewWebhookHandler(ingester, s.maxBodyBytes, s.logger)
	return s
}

// Handler builds the chi router.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(AllowHost(s.allowHost, s.logger))
		r.Post("/", s.webhookHandler.HandleRootRedirect)
		r.Post("/webhook", MetricsMiddleware(s.webhookHandler.HandleWebhook, "webhook"))
	})

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	swagger.Register(ctx, r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
