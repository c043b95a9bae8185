// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package shortener provides a best-effort client for is.gd-compatible
// link shortening services. A failed or slow shorten call never fails the
// caller; the original URL is used instead.
package shortener

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/commitbot/internal/logging"
	"github.com/tomtom215/commitbot/internal/metrics"
)

// maxResponseSize bounds the shortener response body. A shortened URL is a
// few dozen bytes; anything larger is a misbehaving service.
const maxResponseSize = 1024

// Config configures the shortener client.
type Config struct {
	// Domain is the shortener host, e.g. "is.gd" or "v.gd".
	Domain string

	// Timeout caps a single shorten call. Default: 5s.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens and calls are skipped entirely. Default: 5.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before probing again.
	// Default: 60s.
	OpenTimeout time.Duration
}

// Client performs single-attempt POST calls against the shortener's
// create.php endpoint. Calls go through a circuit breaker so a dead
// service is skipped instead of costing a timeout per notification.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[string]
}

// New creates a shortener client for the given configuration.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "link-shortener",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Shortener circuit state changed")
		},
	}

	return &Client{
		endpoint: fmt.Sprintf("https://%s/create.php", cfg.Domain),
		timeout:  cfg.Timeout,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Shorten attempts to shorten target with a single POST call. It returns
// the shortened URL and true on success, or "" and false on any failure:
// transport error, non-2xx response, empty body, or open circuit. No
// retries are made.
func (c *Client) Shorten(ctx context.Context, target string) (string, bool) {
	short, err := c.breaker.Execute(func() (string, error) {
		return c.shortenOnce(ctx, target)
	})
	if err != nil {
		logging.Debug().Err(err).Str("url", target).Msg("Link shortening failed")
		metrics.ShortenerRequests.WithLabelValues("fallback").Inc()
		return "", false
	}
	metrics.ShortenerRequests.WithLabelValues("shortened").Inc()
	return short, true
}

func (c *Client) shortenOnce(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{
		"format": {"simple"},
		"url":    {target},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("shortener returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	short := strings.TrimSpace(string(body))
	if short == "" {
		return "", fmt.Errorf("shortener returned empty body")
	}
	return short, nil
}
