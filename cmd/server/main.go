// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package main is the entry point for the commitbot relay.
//
// Commitbot listens for GitHub webhook deliveries (push and pull request
// events), formats them into short IRC-styled notifications, and relays
// them to configured IRC channels over a supervised, reconnecting
// connection.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (defaults, YAML file, env vars)
//  2. Link shortener client with a circuit breaker
//  3. IRC relay service with its reconnect policy
//  4. Event formatter wired between the webhook handler and the relay
//  5. HTTP server: webhook endpoints plus Prometheus metrics
//  6. Supervisor tree: chat layer and API layer under one root
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (COMMITBOT_ prefix, e.g. COMMITBOT_IRC_SERVER)
//   - Config file (CONFIG_PATH, ./config.yaml, or /etc/commitbot/config.yaml)
//   - Built-in defaults
//
// Minimal setup:
//
//	export COMMITBOT_IRC_SERVER=irc.libera.chat
//	export COMMITBOT_IRC_CHANNELS="#mychannel"
//	export COMMITBOT_HTTP_GITHUB_SECRET=$(openssl rand -hex 20)
//	./commitbot
//
// # Signal Handling
//
// The relay shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests (10s timeout) and the IRC connection is closed.
// A channel operator can also stop the process remotely by kicking the bot
// with the reason "die".
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/commitbot/internal/config"
	"github.com/tomtom215/commitbot/internal/format"
	"github.com/tomtom215/commitbot/internal/irc"
	"github.com/tomtom215/commitbot/internal/logging"
	"github.com/tomtom215/commitbot/internal/shortener"
	"github.com/tomtom215/commitbot/internal/supervisor"
	"github.com/tomtom215/commitbot/internal/webhook"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("server", cfg.IRC.Server).
		Int("port", cfg.IRC.Port).
		Bool("tls", cfg.IRC.TLS).
		Int("channels", len(cfg.IRC.ParsedChannels())).
		Str("listen", cfg.HTTP.Addr()).
		Msg("Starting commitbot")

	if cfg.HTTP.GithubSecret == "" {
		logging.Warn().Msg("No webhook secret configured; signatures will not be checked")
	}

	// Context for graceful shutdown. The relay's remote shutdown kick and
	// OS signals land in the same cancel.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channels := make([]irc.Channel, 0, len(cfg.IRC.ParsedChannels()))
	for _, ch := range cfg.IRC.ParsedChannels() {
		channels = append(channels, irc.Channel{Name: ch.Name, Key: ch.Key})
	}

	relay := supervisor.NewRelay(supervisor.RelayConfig{
		Dial: irc.DialConfig{
			Server: cfg.IRC.Server,
			Port:   cfg.IRC.Port,
			TLS:    cfg.IRC.TLS,
			CAPath: cfg.IRC.CAPath,
		},
		Conn: irc.Config{
			Nick:            cfg.IRC.Nick,
			Username:        cfg.IRC.Username,
			Realname:        cfg.IRC.Realname,
			ServerPassword:  cfg.IRC.ServerPassword,
			SASLUser:        cfg.IRC.SASLUser,
			SASLPass:        cfg.IRC.SASLPass,
			Channels:        channels,
			Filters:         irc.ChannelFilter(cfg.IRC.ParsedFilters()),
			MessageInterval: cfg.IRC.MessageInterval,
			MessageBurst:    cfg.IRC.MessageBurst,
		},
		Backoff: supervisor.Backoff{
			Initial: cfg.IRC.ReconnectInitial,
			Max:     cfg.IRC.ReconnectMax,
		},
		OnShutdown: func(reason string) {
			logging.Info().Str("reason", reason).Msg("Shutting down on operator request")
			cancel()
		},
	})

	links := shortener.New(shortener.Config{
		Domain:  cfg.Formatter.ShortenerDomain,
		Timeout: cfg.Formatter.ShortenerTimeout,
	})
	formatter := format.New(links, relay)

	handler := webhook.NewHandler(cfg.HTTP.GithubSecret, formatter)
	router := webhook.NewRouter(handler, webhook.RouterConfig{
		RateLimitRequests: cfg.HTTP.RateLimitRequests,
		RateLimitWindow:   cfg.HTTP.RateLimitWindow,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bridge zerolog to slog for sutureslog's event hook.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddChatService(relay)
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Stopped")
}
