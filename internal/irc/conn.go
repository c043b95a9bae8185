// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package irc implements the relay's IRC client: registration with
// optional SASL PLAIN authentication, sequential channel joining, filtered
// message delivery, and disconnect reporting. Line framing and message
// parsing come from gopkg.in/irc.v4; this package layers the semantic
// handshake and lifecycle logic on top.
package irc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	ircproto "gopkg.in/irc.v4"

	"github.com/tomtom215/commitbot/internal/logging"
	"github.com/tomtom215/commitbot/internal/metrics"
)

// State is the connection lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateRegistering
	StateJoining
	StateReady
	StateDisconnected
)

// defaultNickRetryDelay is how long to wait before reclaiming the
// configured nick after a collision.
const defaultNickRetryDelay = 30 * time.Second

// Channel is one configured channel with an optional join key.
type Channel struct {
	Name string
	Key  string
}

// Config describes one connection's identity and behavior.
type Config struct {
	Nick           string
	Username       string
	Realname       string
	ServerPassword string

	// SASLUser and SASLPass enable SASL PLAIN during registration.
	SASLUser string
	SASLPass string

	// Channels are joined strictly in order, one JOIN at a time.
	Channels []Channel

	// Filters restricts delivery per channel; see ChannelFilter.
	Filters ChannelFilter

	// MessageInterval and MessageBurst throttle outbound lines.
	// A zero interval disables throttling.
	MessageInterval time.Duration
	MessageBurst    int

	// SASLTimeout and NickRetryDelay override the defaults; for tests.
	SASLTimeout    time.Duration
	NickRetryDelay time.Duration
}

// Callbacks are lifecycle notifications delivered to the supervisor.
type Callbacks struct {
	// Ready fires once on full registration (RPL_WELCOME).
	Ready func(*Conn)

	// Dead fires exactly once when the connection terminates, for any
	// reason. No protocol lines are sent after it fires.
	Dead func(*Conn)

	// Shutdown fires when a channel operator kicks the bot with the
	// remote shutdown reason.
	Shutdown func(reason string)
}

// shutdownKickReason is the kick message that stops the whole process
// instead of triggering a rejoin.
const shutdownKickReason = "die"

// Conn is one live session to the chat server. It is owned by the
// supervisor from creation to its Dead callback.
type Conn struct {
	cfg       Config
	callbacks Callbacks
	netConn   net.Conn
	proto     *ircproto.Conn
	limiter   *rate.Limiter
	log       zerolog.Logger
	runCtx    context.Context

	mu          sync.Mutex
	state       State
	closed      bool
	sasl        *saslSession
	joinQueue   []Channel
	joined      map[string]struct{}
	currentNick string
	nickTimer   *time.Timer

	wmu      sync.Mutex
	deadOnce sync.Once
}

// NewConn wraps an established transport. Run must be called to start the
// session.
func NewConn(netConn net.Conn, cfg Config, callbacks Callbacks) *Conn {
	if cfg.NickRetryDelay <= 0 {
		cfg.NickRetryDelay = defaultNickRetryDelay
	}

	var limiter *rate.Limiter
	if cfg.MessageInterval > 0 {
		burst := cfg.MessageBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(cfg.MessageInterval), burst)
	}

	c := &Conn{
		cfg:         cfg,
		callbacks:   callbacks,
		netConn:     netConn,
		proto:       ircproto.NewConn(netConn),
		limiter:     limiter,
		log:         logging.With().Str("component", "irc").Logger(),
		state:       StateConnecting,
		joinQueue:   append([]Channel(nil), cfg.Channels...),
		joined:      make(map[string]struct{}),
		currentNick: cfg.Nick,
	}

	c.proto.Reader.DebugCallback = func(line string) {
		c.log.Trace().Str("dir", "<<<").Str("line", line).Msg("irc")
	}
	c.proto.Writer.DebugCallback = func(line string) {
		c.log.Trace().Str("dir", ">>>").Str("line", line).Msg("irc")
	}

	return c
}

// Run registers with the server and processes incoming lines until the
// transport fails or ctx is canceled. The Dead callback always fires
// before Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.runCtx = ctx
	stop := context.AfterFunc(ctx, func() { c.netConn.Close() })
	defer stop()
	defer c.markDead()

	c.register()

	for {
		msg, err := c.proto.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handle(msg)
	}
}

// register runs the connection registration sequence. Capability
// negotiation opens first so the server holds registration until CAP END.
func (c *Conn) register() {
	c.mu.Lock()
	c.state = StateRegistering
	if c.cfg.SASLUser != "" && c.cfg.SASLPass != "" {
		c.sasl = newSASLSession(c.cfg.SASLUser, c.cfg.SASLPass, c, c.log)
		if c.cfg.SASLTimeout > 0 {
			c.sasl.timeout = c.cfg.SASLTimeout
		}
	}
	sasl := c.sasl
	c.mu.Unlock()

	if sasl != nil {
		sasl.start()
	}
	if c.cfg.ServerPassword != "" {
		c.send("PASS", c.cfg.ServerPassword)
	}
	c.send("NICK", c.cfg.Nick)
	realname := c.cfg.Realname
	if realname == "" {
		realname = c.cfg.Username
	}
	c.send("USER", c.cfg.Username, "0", "*", realname)

	c.log.Info().Msg("Connected")
}

func (c *Conn) handle(msg *ircproto.Message) {
	switch strings.ToUpper(msg.Command) {
	case "PING":
		c.send("PONG", msg.Params...)
	case "CAP":
		c.handleCap(msg)
	case "AUTHENTICATE":
		// A server challenge carries exactly one parameter.
		if sasl := c.saslSession(); sasl != nil && len(msg.Params) == 1 {
			sasl.handleChunk(msg.Params[0])
		}
	case "903", "907": // RPL_SASLSUCCESS, ERR_SASLALREADY
		if sasl := c.saslSession(); sasl != nil {
			sasl.handleSuccess()
		}
	case "904": // ERR_SASLFAIL
		if sasl := c.saslSession(); sasl != nil {
			sasl.handleFailed()
		}
	case "905": // ERR_SASLTOOLONG
		if sasl := c.saslSession(); sasl != nil {
			sasl.handleTooLong()
		}
	case "906": // ERR_SASLABORTED
		if sasl := c.saslSession(); sasl != nil {
			sasl.handleAborted()
		}
	case "001": // RPL_WELCOME
		c.signedOn()
	case "433": // ERR_NICKNAMEINUSE
		c.handleNickCollision()
	case "NICK":
		c.handleNickChange(msg)
	case "JOIN":
		c.handleJoin(msg)
	case "KICK":
		c.handleKick(msg)
	case "PRIVMSG":
		// CTCP queries and channel chatter are ignored.
	}
}

// handleCap routes capability negotiation subcommands to the SASL session.
// Message shape: ":server CAP * ACK :sasl".
func (c *Conn) handleCap(msg *ircproto.Message) {
	sasl := c.saslSession()
	if sasl == nil || len(msg.Params) < 2 {
		return
	}
	switch strings.ToUpper(msg.Params[1]) {
	case "NAK":
		sasl.handleCapNak()
	case "ACK":
		caps := strings.Fields(strings.ToLower(msg.Params[len(msg.Params)-1]))
		sasl.handleCapAck(caps)
	}
}

// signedOn completes registration: the supervisor is told the connection
// is live and the join queue starts draining.
func (c *Conn) signedOn() {
	c.mu.Lock()
	c.state = StateJoining
	c.mu.Unlock()

	c.log.Info().Msg("Signed on")
	if c.callbacks.Ready != nil {
		c.callbacks.Ready(c)
	}
	c.joinNext()
}

// joinNext issues the next queued JOIN. Channels are joined one at a time;
// the next JOIN waits for the previous join confirmation so slow
// registration paths don't drop a burst of joins.
func (c *Conn) joinNext() {
	c.mu.Lock()
	if len(c.joinQueue) == 0 {
		c.state = StateReady
		c.mu.Unlock()
		return
	}
	next := c.joinQueue[0]
	c.joinQueue = c.joinQueue[1:]
	c.mu.Unlock()

	if next.Key != "" {
		c.send("JOIN", next.Name, next.Key)
	} else {
		c.send("JOIN", next.Name)
	}
}

func (c *Conn) handleJoin(msg *ircproto.Message) {
	if prefixName(msg) != c.CurrentNick() || len(msg.Params) < 1 {
		return
	}
	channel := msg.Params[0]

	c.mu.Lock()
	c.joined[channel] = struct{}{}
	metrics.IRCChannelsJoined.Set(float64(len(c.joined)))
	c.mu.Unlock()

	c.log.Info().Str("channel", channel).Msg("Channel joined")
	c.joinNext()
}

func (c *Conn) handleKick(msg *ircproto.Message) {
	if len(msg.Params) < 2 {
		return
	}
	channel, victim := msg.Params[0], msg.Params[1]
	if victim != c.CurrentNick() {
		return
	}
	reason := ""
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}

	c.mu.Lock()
	delete(c.joined, channel)
	metrics.IRCChannelsJoined.Set(float64(len(c.joined)))
	c.mu.Unlock()

	c.log.Info().
		Str("channel", channel).
		Str("kicker", prefixName(msg)).
		Str("reason", reason).
		Msg("Kicked from channel")

	if reason == shutdownKickReason {
		if c.callbacks.Shutdown != nil {
			c.callbacks.Shutdown(reason)
		}
		return
	}

	// Rejoin with the configured key, if any.
	for _, ch := range c.cfg.Channels {
		if ch.Name == channel && ch.Key != "" {
			c.send("JOIN", ch.Name, ch.Key)
			return
		}
	}
	c.send("JOIN", channel)
}

// handleNickCollision appends a suffix to keep registration moving and
// schedules a delayed attempt to reclaim the configured nick.
func (c *Conn) handleNickCollision() {
	c.mu.Lock()
	c.currentNick += "_"
	collided := c.currentNick
	if c.nickTimer != nil {
		c.nickTimer.Stop()
	}
	c.nickTimer = time.AfterFunc(c.cfg.NickRetryDelay, func() {
		c.send("NICK", c.cfg.Nick)
	})
	c.mu.Unlock()

	c.log.Warn().Str("nick", collided).Msg("Nick collision; using fallback")
	c.send("NICK", collided)
}

// handleNickChange tracks our own nick as confirmed by the server.
func (c *Conn) handleNickChange(msg *ircproto.Message) {
	if prefixName(msg) != c.CurrentNick() || len(msg.Params) < 1 {
		return
	}
	c.mu.Lock()
	c.currentNick = msg.Params[0]
	c.mu.Unlock()
}

// Notify delivers text to every currently joined channel whose filter
// accepts the tag. Channels without a filter entry accept everything.
func (c *Conn) Notify(tag, text string) {
	c.mu.Lock()
	targets := make([]string, 0, len(c.joined))
	for channel := range c.joined {
		if c.cfg.Filters.Allows(channel, tag) {
			targets = append(targets, channel)
		} else {
			metrics.NotificationsFiltered.Inc()
		}
	}
	c.mu.Unlock()

	sort.Strings(targets)
	for _, channel := range targets {
		c.send("PRIVMSG", channel, text)
		metrics.NotificationsDelivered.Inc()
	}
}

// CurrentNick returns the nick as last confirmed or attempted.
func (c *Conn) CurrentNick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNick
}

// StateNow returns the current lifecycle state.
func (c *Conn) StateNow() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// send writes one line, flood-limited. It is a silent no-op once the
// connection is dead: nothing may be sent after the Dead callback.
func (c *Conn) send(cmd string, params ...string) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.limiter != nil && c.runCtx != nil {
		if err := c.limiter.Wait(c.runCtx); err != nil {
			return
		}
	}
	if err := c.proto.WriteMessage(&ircproto.Message{Command: cmd, Params: params}); err != nil {
		c.log.Debug().Err(err).Str("command", cmd).Msg("Write failed")
	}
}

// sendSASLLine implements saslIO.
func (c *Conn) sendSASLLine(cmd string, params ...string) {
	c.send(cmd, params...)
}

// closeForAuthFailure implements saslIO: SASL failure and abort terminate
// the connection; the supervisor's reconnect policy takes it from there.
func (c *Conn) closeForAuthFailure() {
	c.netConn.Close()
}

// Close tears down the transport, causing Run to return.
func (c *Conn) Close() error {
	return c.netConn.Close()
}

// markDead transitions to Disconnected and reports to the supervisor
// exactly once.
func (c *Conn) markDead() {
	c.deadOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state = StateDisconnected
		if c.nickTimer != nil {
			c.nickTimer.Stop()
			c.nickTimer = nil
		}
		c.mu.Unlock()

		c.netConn.Close()
		c.log.Info().Msg("Disconnected")
		if c.callbacks.Dead != nil {
			c.callbacks.Dead(c)
		}
	})
}

// saslSession returns the session under the state lock.
func (c *Conn) saslSession() *saslSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sasl
}

func prefixName(msg *ircproto.Message) string {
	if msg.Prefix == nil {
		return ""
	}
	return msg.Prefix.Name
}
