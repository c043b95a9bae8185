// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package supervisor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/commitbot/internal/irc"
	"github.com/tomtom215/commitbot/internal/logging"
	"github.com/tomtom215/commitbot/internal/metrics"
)

// RelayConfig describes the relay's dial target, connection identity, and
// reconnect policy.
type RelayConfig struct {
	Dial irc.DialConfig
	Conn irc.Config

	// Backoff governs the delay between reconnect attempts.
	Backoff Backoff

	// OnShutdown fires when an operator requests a remote shutdown (the
	// shutdown kick). The owner is expected to cancel the root context.
	OnShutdown func(reason string)
}

// Relay keeps one IRC connection alive: dial, run to termination, wait the
// backoff delay, repeat. It implements suture.Service.
//
// It also implements the formatter's Notifier contract: Notify fans out to
// whichever connections are currently registered, so messages arriving
// during a reconnect window are dropped rather than queued.
type Relay struct {
	cfg      RelayConfig
	dialFunc func(ctx context.Context) (net.Conn, error)
	log      zerolog.Logger
	name     string

	mu      sync.Mutex
	backoff Backoff
	live    map[*irc.Conn]struct{}
}

// NewRelay creates the relay service. It does not connect until Serve runs.
func NewRelay(cfg RelayConfig) *Relay {
	r := &Relay{
		cfg:     cfg,
		log:     logging.With().Str("component", "relay").Logger(),
		name:    "irc-relay",
		backoff: cfg.Backoff,
		live:    make(map[*irc.Conn]struct{}),
	}
	r.dialFunc = func(ctx context.Context) (net.Conn, error) {
		return irc.Dial(ctx, cfg.Dial)
	}
	return r
}

// Serve implements suture.Service: a reconnect loop that only returns when
// the context is canceled. Connection failures are absorbed here with the
// relay's own backoff policy rather than surfaced to suture, so the webhook
// side keeps serving while the chat side is down.
func (r *Relay) Serve(ctx context.Context) error {
	for {
		if err := r.runOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("Connection ended")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.nextDelay()
		r.log.Info().Dur("delay", delay).Msg("Reconnecting")
		metrics.IRCReconnects.Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce dials and runs a single connection to termination.
func (r *Relay) runOnce(ctx context.Context) error {
	netConn, err := r.dialFunc(ctx)
	if err != nil {
		return err
	}

	conn := irc.NewConn(netConn, r.cfg.Conn, irc.Callbacks{
		Ready:    func(c *irc.Conn) { r.register(c) },
		Dead:     func(c *irc.Conn) { r.unregister(c) },
		Shutdown: r.shutdown,
	})
	return conn.Run(ctx)
}

// register admits a fully registered connection to the live set and resets
// the backoff sequence.
func (r *Relay) register(c *irc.Conn) {
	r.mu.Lock()
	r.live[c] = struct{}{}
	r.backoff.Reset()
	n := len(r.live)
	r.mu.Unlock()

	metrics.IRCConnected.Set(float64(n))
}

// unregister drops a terminated connection. The connection reports death
// exactly once, so the set never holds a dead entry.
func (r *Relay) unregister(c *irc.Conn) {
	r.mu.Lock()
	delete(r.live, c)
	n := len(r.live)
	r.mu.Unlock()

	metrics.IRCConnected.Set(float64(n))
}

func (r *Relay) shutdown(reason string) {
	r.log.Info().Str("reason", reason).Msg("Remote shutdown requested")
	if r.cfg.OnShutdown != nil {
		r.cfg.OnShutdown(reason)
	}
}

func (r *Relay) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoff.Next()
}

// Notify delivers one tagged message through every live connection.
func (r *Relay) Notify(tag, text string) {
	r.mu.Lock()
	conns := make([]*irc.Conn, 0, len(r.live))
	for c := range r.live {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	if len(conns) == 0 {
		r.log.Debug().Str("tag", tag).Msg("No live connection; message dropped")
		return
	}
	for _, c := range conns {
		c.Notify(tag, text)
	}
}

// String implements fmt.Stringer for suture's event log.
func (r *Relay) String() string {
	return r.name
}
