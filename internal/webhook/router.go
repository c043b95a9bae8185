// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package webhook

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// RateLimitRequests per RateLimitWindow, keyed by client IP.
	// Zero disables rate limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the chi router for the webhook surface:
//
//	GET  /         greeting
//	GET  /github   greeting
//	POST /github   webhook intake
//	GET  /metrics  Prometheus metrics
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.RateLimitRequests > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, window))
	}

	r.Get("/", handler.Root)
	r.Get("/github", handler.GithubGreeting)
	r.Post("/github", handler.Github)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
