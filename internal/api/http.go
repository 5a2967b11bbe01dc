// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedcore/ingestd/internal/logging"
)

// Router builds the minimal HTTP surface described in the configuration
// table (spec §6): health, stats, and Prometheus metrics. There is no
// provider-facing HTTP surface; providers are called out, not in.
//
// Grounded in the teacher's internal/api/chi_router.go middleware stack
// (request ID, recoverer), stripped of every media-specific route group.
type Router struct {
	api *API
}

// NewRouter wraps an already-constructed API.
func NewRouter(a *API) *Router {
	return &Router{api: a}
}

// Handler builds the chi-routed http.Handler.
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.RealIP)
	mux.Use(chimiddleware.Recoverer)
	mux.Use(requestLogger)

	mux.Get("/healthz", r.handleHealthz)
	mux.Get("/stats", r.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		logging.Debug().Str("method", req.Method).Str("path", req.URL.Path).Dur("duration", time.Since(start)).Msg("http request")
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	stats, err := r.api.Stats(ctx)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
