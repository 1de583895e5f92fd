// Package http provides the operational HTTP surface of the scanner: a health
// check backed by the database and the Prometheus metrics endpoint.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
)

// NewRouter initializes a Chi router serving /healthz and /metrics.
func NewRouter(logger *httplog.Logger, db pinger, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	h := newHealthHandler(db)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	return r
}
