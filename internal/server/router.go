package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbrag/internal/api/handlers"
	"github.com/cloo-solutions/kbrag/internal/api/middleware"
)

// DefaultMaxBodyBytes bounds request bodies when RouterConfig leaves it unset.
const DefaultMaxBodyBytes int64 = 10 * 1024 * 1024

type RouterConfig struct {
	KnowledgeHandler *handlers.KnowledgeHandler
	ChatHandler      *handlers.ChatHandler
	Logger           *zap.Logger
	MaxBodyBytes     int64
	MetricsHandler   http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", handlers.Health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Post("/ingest", cfg.KnowledgeHandler.Ingest)
	r.Post("/ingest/bulk", cfg.KnowledgeHandler.IngestBulk)
	r.Get("/search", cfg.KnowledgeHandler.Search)
	r.Get("/list", cfg.KnowledgeHandler.List)
	r.Get("/stats", cfg.KnowledgeHandler.Stats)
	r.Delete("/index", cfg.KnowledgeHandler.Clear)

	r.Post("/chat", cfg.ChatHandler.Chat)

	return r
}
