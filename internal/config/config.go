// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package config loads and validates the Commitbot configuration using
// Koanf v2 with layered sources: built-in defaults, an optional YAML file,
// and environment variables (highest priority).
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the relay.
type Config struct {
	IRC       IRCConfig       `koanf:"irc"`
	HTTP      HTTPConfig      `koanf:"http"`
	Formatter FormatterConfig `koanf:"formatter"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// IRCConfig describes the outbound chat connection.
type IRCConfig struct {
	// Server is the IRC server hostname.
	Server string `koanf:"server" validate:"required"`

	// Port is the IRC server port. 6697 and 7000 are common TLS ports.
	Port int `koanf:"port" validate:"min=1,max=65535"`

	// TLS enables a TLS connection to the server.
	TLS bool `koanf:"tls"`

	// CAPath optionally points at a PEM bundle used instead of the system roots.
	CAPath string `koanf:"ca_path"`

	// ServerPassword is sent as PASS before registration when non-empty.
	ServerPassword string `koanf:"server_password"`

	// Nick, Username and Realname form the bot's identity.
	Nick     string `koanf:"nick" validate:"required"`
	Username string `koanf:"username" validate:"required"`
	Realname string `koanf:"realname"`

	// SASLUser and SASLPass enable SASL PLAIN authentication during
	// capability negotiation. Both must be set or both empty.
	SASLUser string `koanf:"sasl_user"`
	SASLPass string `koanf:"sasl_pass"`

	// Channels lists channels to join, each "#name" or "#name,key".
	Channels []string `koanf:"channels" validate:"min=1,dive,startswith=#"`

	// Filters maps a channel name to a space-separated list of event tags
	// it accepts. Channels without an entry accept every tag.
	Filters map[string]string `koanf:"filters"`

	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	ReconnectInitial time.Duration `koanf:"reconnect_initial"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`

	// MessageInterval throttles outbound lines (IRC flood protection).
	// Zero disables throttling.
	MessageInterval time.Duration `koanf:"message_interval"`
	MessageBurst    int           `koanf:"message_burst"`
}

// HTTPConfig describes the inbound webhook surface.
type HTTPConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// GithubSecret is the shared HMAC secret for X-Hub-Signature-256
	// verification. Empty disables verification (logged as a trust decision).
	GithubSecret string `koanf:"github_secret"`

	// RateLimitRequests per RateLimitWindow, keyed by client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// FormatterConfig describes event formatting collaborators.
type FormatterConfig struct {
	// ShortenerDomain is the is.gd-compatible shortener host ("is.gd", "v.gd").
	// Empty disables shortening; links pass through unmodified.
	ShortenerDomain string `koanf:"shortener_domain"`

	// ShortenerTimeout caps a single shorten call.
	ShortenerTimeout time.Duration `koanf:"shortener_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// ChannelKey is one parsed Channels entry.
type ChannelKey struct {
	Name string
	Key  string
}

// ParsedChannels splits each Channels entry at the last comma into
// channel name and optional join key.
func (c *IRCConfig) ParsedChannels() []ChannelKey {
	out := make([]ChannelKey, 0, len(c.Channels))
	for _, entry := range c.Channels {
		name, key := entry, ""
		if i := strings.LastIndex(entry, ","); i >= 0 {
			name, key = entry[:i], entry[i+1:]
		}
		out = append(out, ChannelKey{Name: name, Key: key})
	}
	return out
}

// ParsedFilters splits each filter value into its tag set.
func (c *IRCConfig) ParsedFilters() map[string][]string {
	if len(c.Filters) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c.Filters))
	for channel, raw := range c.Filters {
		var tags []string
		for _, tag := range strings.Fields(raw) {
			tags = append(tags, tag)
		}
		if tags != nil {
			out[channel] = tags
		}
	}
	return out
}

// Addr returns the webhook listen address.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// defaultConfig returns a Config with all defaults applied. Defaults mirror
// a typical libera.chat-style deployment and are overridden by the config
// file and environment variables.
func defaultConfig() *Config {
	return &Config{
		IRC: IRCConfig{
			Server:           "",
			Port:             7000,
			TLS:              true,
			Nick:             "CommitBot",
			Username:         "CommitBot",
			Realname:         "Commit bot",
			ReconnectInitial: 2 * time.Second,
			ReconnectMax:     5 * time.Minute,
			MessageInterval:  600 * time.Millisecond,
			MessageBurst:     4,
		},
		HTTP: HTTPConfig{
			Host:              "127.0.0.1",
			Port:              5651,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Formatter: FormatterConfig{
			ShortenerDomain:  "is.gd", // "v.gd" is also compatible
			ShortenerTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
