package handler

import (
	"net/http"

	"loanflow/internal/middleware"
	"loanflow/pkg/logger"

	"github.com/gorilla/mux"
)

// RouterConfig carries what NewRouter wires together. Limiter is optional.
type RouterConfig struct {
	Runs      *RunHandler
	System    *SystemHandler
	Auth      *middleware.AuthMiddleware
	Limiter   *middleware.RateLimiter
	Logger    logger.Logger
	BodyLimit int64
}

func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Log)
	if cfg.BodyLimit > 0 {
		r.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	r.HandleFunc("/health", cfg.System.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/scenarios", cfg.Runs.ListScenarios).Methods(http.MethodGet)
	api.HandleFunc("/runs", cfg.Runs.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", cfg.Runs.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/report", cfg.Runs.GetReport).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/events", cfg.Runs.StreamEvents).Methods(http.MethodGet)

	var start http.Handler = http.HandlerFunc(cfg.Runs.StartRun)
	if cfg.Limiter != nil {
		start = cfg.Limiter.Limit(start)
	}
	api.Handle("/runs", cfg.Auth.Authenticate(start)).Methods(http.MethodPost, http.MethodOptions)

	return r
}
