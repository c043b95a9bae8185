// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package metrics provides Prometheus instrumentation for the relay:
// webhook intake, event formatting, link shortening, and the IRC client
// lifecycle. Metrics are exposed on /metrics via promhttp.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake

	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitbot_webhook_requests_total",
			Help: "Webhook HTTP requests by response status code",
		},
		[]string{"status"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitbot_webhook_events_total",
			Help: "Verified webhook events accepted for dispatch, by event kind",
		},
		[]string{"kind"},
	)

	// Formatting and delivery

	FormatDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commitbot_format_duration_seconds",
			Help:    "Time to format and dispatch one webhook event, including the shortener call",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commitbot_notifications_delivered_total",
			Help: "Messages delivered to IRC channels",
		},
	)

	NotificationsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commitbot_notifications_filtered_total",
			Help: "Messages suppressed by a channel tag filter",
		},
	)

	// Link shortener

	ShortenerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitbot_shortener_requests_total",
			Help: "Link shortener calls by outcome (shortened, fallback)",
		},
		[]string{"outcome"},
	)

	// IRC client lifecycle

	IRCConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commitbot_irc_connected",
			Help: "1 while a fully registered IRC connection is live",
		},
	)

	IRCReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commitbot_irc_reconnects_total",
			Help: "Connection attempts after the first, successful or not",
		},
	)

	IRCChannelsJoined = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "commitbot_irc_channels_joined",
			Help: "Channels currently joined on the live connection",
		},
	)

	SASLOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitbot_sasl_outcomes_total",
			Help: "SASL negotiation results (success, failed, toolong, aborted, timeout, unsupported)",
		},
		[]string{"result"},
	)
)

// ObserveWebhookStatus records one webhook HTTP response.
func ObserveWebhookStatus(code int) {
	WebhookRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}
