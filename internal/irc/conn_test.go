// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package irc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	ircproto "gopkg.in/irc.v4"
)

// connHarness drives a Conn against an in-memory server endpoint.
type connHarness struct {
	t          *testing.T
	client     *Conn
	server     *ircproto.Conn
	serverConn net.Conn
	ready      chan *Conn
	dead       chan *Conn
	shutdown   chan string
	runErr     chan error
	runDone    chan struct{}
	cancel     context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *connHarness {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	h := &connHarness{
		t:          t,
		server:     ircproto.NewConn(serverSide),
		serverConn: serverSide,
		ready:      make(chan *Conn, 1),
		dead:       make(chan *Conn, 2),
		shutdown:   make(chan string, 1),
		runErr:     make(chan error, 1),
		runDone:    make(chan struct{}),
	}

	callbacks := Callbacks{
		Ready:    func(c *Conn) { h.ready <- c },
		Dead:     func(c *Conn) { h.dead <- c },
		Shutdown: func(reason string) { h.shutdown <- reason },
	}
	h.client = NewConn(clientSide, cfg, callbacks)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.runErr <- h.client.Run(ctx)
		close(h.runDone)
	}()

	t.Cleanup(func() {
		cancel()
		serverSide.Close()
		select {
		case <-h.runDone:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return on shutdown")
		}
	})

	return h
}

// read returns the next client line, failing the test on timeout.
func (h *connHarness) read() *ircproto.Message {
	h.t.Helper()
	h.serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := h.server.ReadMessage()
	if err != nil {
		h.t.Fatalf("reading client line: %v", err)
	}
	return msg
}

// expect reads the next line and asserts its command.
func (h *connHarness) expect(command string) *ircproto.Message {
	h.t.Helper()
	msg := h.read()
	if msg.Command != command {
		h.t.Fatalf("expected %s, got %s (%v)", command, msg.Command, msg.Params)
	}
	return msg
}

// expectSilence asserts the client sends nothing for the given window.
func (h *connHarness) expectSilence(d time.Duration) {
	h.t.Helper()
	h.serverConn.SetReadDeadline(time.Now().Add(d))
	msg, err := h.server.ReadMessage()
	if err == nil {
		h.t.Fatalf("expected silence, got %s %v", msg.Command, msg.Params)
	}
}

// sendLine writes one raw server line.
func (h *connHarness) sendLine(line string) {
	h.t.Helper()
	h.serverConn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := h.server.Write(line); err != nil {
		h.t.Fatalf("writing server line: %v", err)
	}
}

// register drives an unauthenticated registration to completion.
func (h *connHarness) register() {
	h.t.Helper()
	h.expect("NICK")
	h.expect("USER")
	h.sendLine(":irc.test 001 CommitBot :Welcome")
	select {
	case <-h.ready:
	case <-time.After(2 * time.Second):
		h.t.Fatal("Ready callback never fired")
	}
}

// confirmJoin acknowledges the next JOIN and returns the channel name.
func (h *connHarness) confirmJoin() string {
	h.t.Helper()
	msg := h.expect("JOIN")
	channel := msg.Params[0]
	h.sendLine(":CommitBot!bot@host JOIN " + channel)
	return channel
}

func baseConfig() Config {
	return Config{
		Nick:     "CommitBot",
		Username: "bot",
		Realname: "Commit bot",
		Channels: []Channel{{Name: "#commits"}},
	}
}

func TestRegistration(t *testing.T) {
	t.Run("plain registration sends NICK then USER", func(t *testing.T) {
		h := newHarness(t, baseConfig())

		nick := h.expect("NICK")
		if nick.Params[0] != "CommitBot" {
			t.Errorf("nick = %q", nick.Params[0])
		}
		user := h.expect("USER")
		if user.Params[0] != "bot" || user.Params[3] != "Commit bot" {
			t.Errorf("user params = %v", user.Params)
		}
	})

	t.Run("server password precedes NICK", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ServerPassword = "letmein"
		h := newHarness(t, cfg)

		pass := h.expect("PASS")
		if pass.Params[0] != "letmein" {
			t.Errorf("pass = %q", pass.Params[0])
		}
		h.expect("NICK")
	})

	t.Run("welcome triggers ready and the first join", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.register()

		join := h.expect("JOIN")
		if join.Params[0] != "#commits" {
			t.Errorf("joined %q", join.Params[0])
		}
	})

	t.Run("join key is sent when configured", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Channels = []Channel{{Name: "#secret", Key: "hunter2"}}
		h := newHarness(t, cfg)
		h.register()

		join := h.expect("JOIN")
		if len(join.Params) != 2 || join.Params[1] != "hunter2" {
			t.Errorf("join params = %v", join.Params)
		}
	})
}

func TestSASLRegistration(t *testing.T) {
	cfg := baseConfig()
	cfg.SASLUser = "bot"
	cfg.SASLPass = "hunter2"
	h := newHarness(t, cfg)

	capReq := h.expect("CAP")
	if capReq.Params[0] != "REQ" || capReq.Params[1] != "sasl" {
		t.Fatalf("cap params = %v", capReq.Params)
	}
	h.expect("NICK")
	h.expect("USER")

	h.sendLine(":irc.test CAP * ACK :sasl")
	auth := h.expect("AUTHENTICATE")
	if auth.Params[0] != "PLAIN" {
		t.Fatalf("expected PLAIN, got %v", auth.Params)
	}

	h.sendLine("AUTHENTICATE +")
	creds := h.expect("AUTHENTICATE")
	if creds.Params[0] == "+" || creds.Params[0] == "PLAIN" {
		t.Fatalf("expected credential payload, got %v", creds.Params)
	}

	h.sendLine(":irc.test 903 CommitBot :SASL authentication successful")
	capEnd := h.expect("CAP")
	if capEnd.Params[0] != "END" {
		t.Fatalf("expected CAP END, got %v", capEnd.Params)
	}

	h.sendLine(":irc.test 001 CommitBot :Welcome")
	select {
	case <-h.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("Ready callback never fired")
	}
}

func TestSASLFailureDisconnects(t *testing.T) {
	cfg := baseConfig()
	cfg.SASLUser = "bot"
	cfg.SASLPass = "wrong"
	h := newHarness(t, cfg)

	h.expect("CAP")
	h.expect("NICK")
	h.expect("USER")
	h.sendLine(":irc.test CAP * ACK :sasl")
	h.expect("AUTHENTICATE")
	h.sendLine("AUTHENTICATE +")
	h.expect("AUTHENTICATE")
	h.sendLine(":irc.test 904 CommitBot :SASL authentication failed")

	select {
	case <-h.dead:
	case <-time.After(2 * time.Second):
		t.Fatal("904 did not terminate the connection")
	}
}

func TestJoinOrdering(t *testing.T) {
	cfg := baseConfig()
	cfg.Channels = []Channel{{Name: "#a"}, {Name: "#b"}, {Name: "#c"}}
	h := newHarness(t, cfg)
	h.register()

	// Only the first join goes out until it is confirmed.
	join := h.expect("JOIN")
	if join.Params[0] != "#a" {
		t.Fatalf("first join = %q", join.Params[0])
	}
	h.expectSilence(100 * time.Millisecond)

	h.sendLine(":CommitBot!bot@host JOIN #a")
	if next := h.expect("JOIN"); next.Params[0] != "#b" {
		t.Fatalf("second join = %q", next.Params[0])
	}
	h.sendLine(":CommitBot!bot@host JOIN #b")
	if next := h.expect("JOIN"); next.Params[0] != "#c" {
		t.Fatalf("third join = %q", next.Params[0])
	}
	h.sendLine(":CommitBot!bot@host JOIN #c")

	deadline := time.Now().Add(2 * time.Second)
	for h.client.StateNow() != StateReady {
		if time.Now().After(deadline) {
			t.Fatal("connection never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKick(t *testing.T) {
	t.Run("ordinary kick triggers a rejoin", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.register()
		h.confirmJoin()

		h.sendLine(":op!op@host KICK #commits CommitBot :spam")
		rejoin := h.expect("JOIN")
		if rejoin.Params[0] != "#commits" {
			t.Errorf("rejoined %q", rejoin.Params[0])
		}
	})

	t.Run("die kick requests process shutdown without rejoining", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.register()
		h.confirmJoin()

		h.sendLine(":op!op@host KICK #commits CommitBot :die")
		select {
		case reason := <-h.shutdown:
			if reason != "die" {
				t.Errorf("shutdown reason = %q", reason)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("shutdown callback never fired")
		}
		h.expectSilence(100 * time.Millisecond)
	})

	t.Run("kick aimed at someone else is ignored", func(t *testing.T) {
		h := newHarness(t, baseConfig())
		h.register()
		h.confirmJoin()

		h.sendLine(":op!op@host KICK #commits SomeoneElse :bye")
		h.expectSilence(100 * time.Millisecond)
	})
}

func TestNickCollision(t *testing.T) {
	cfg := baseConfig()
	cfg.NickRetryDelay = 50 * time.Millisecond
	h := newHarness(t, cfg)

	h.expect("NICK")
	h.expect("USER")

	h.sendLine(":irc.test 433 * CommitBot :Nickname is already in use")
	fallback := h.expect("NICK")
	if fallback.Params[0] != "CommitBot_" {
		t.Fatalf("fallback nick = %q", fallback.Params[0])
	}

	// The original nick is reclaimed after the retry delay.
	reclaim := h.expect("NICK")
	if reclaim.Params[0] != "CommitBot" {
		t.Fatalf("reclaim nick = %q", reclaim.Params[0])
	}
}

func TestNotify(t *testing.T) {
	cfg := baseConfig()
	cfg.Channels = []Channel{{Name: "#general"}, {Name: "#misc"}}
	cfg.Filters = ChannelFilter{"#general": {"push"}}
	h := newHarness(t, cfg)
	h.register()
	h.confirmJoin()
	h.confirmJoin()

	t.Run("filtered tag skips the filtering channel", func(t *testing.T) {
		go h.client.Notify("pull_request", "pr message")

		msg := h.expect("PRIVMSG")
		if msg.Params[0] != "#misc" {
			t.Errorf("delivered to %q, want #misc only", msg.Params[0])
		}
		h.expectSilence(100 * time.Millisecond)
	})

	t.Run("matching tag reaches both channels", func(t *testing.T) {
		go h.client.Notify("push", "push message")

		first := h.expect("PRIVMSG")
		second := h.expect("PRIVMSG")
		got := []string{first.Params[0], second.Params[0]}
		if got[0] != "#general" || got[1] != "#misc" {
			t.Errorf("delivered to %v", got)
		}
		if first.Params[1] != "push message" {
			t.Errorf("text = %q", first.Params[1])
		}
	})
}

func TestDisconnectReportsOnce(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.expect("NICK")
	h.expect("USER")

	h.serverConn.Close()

	select {
	case <-h.dead:
	case <-time.After(2 * time.Second):
		t.Fatal("Dead callback never fired")
	}

	select {
	case err := <-h.runErr:
		if err == nil {
			t.Error("Run should return the transport error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	// Exactly once, and sends after death are silent no-ops.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-h.dead:
		t.Error("Dead callback fired twice")
	default:
	}
	h.client.Notify("push", "into the void")
}

func TestChannelFilter(t *testing.T) {
	f := ChannelFilter{"#general": {"push"}}

	if f.Allows("#general", "pull_request") {
		t.Error("filtered tag allowed")
	}
	if !f.Allows("#general", "push") {
		t.Error("listed tag rejected")
	}
	if !f.Allows("#unlisted", "anything") {
		t.Error("channel without entry must accept all tags")
	}

	var none ChannelFilter
	if !none.Allows("#any", "tag") {
		t.Error("nil filter must accept all tags")
	}
}

func TestCTCPIgnored(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.register()
	h.confirmJoin()

	h.sendLine(":nosy!n@host PRIVMSG CommitBot :\x01VERSION\x01")
	h.expectSilence(100 * time.Millisecond)
}

func TestSASLChallengeAcrossLines(t *testing.T) {
	cfg := baseConfig()
	cfg.SASLUser = "bot"
	cfg.SASLPass = "hunter2"
	h := newHarness(t, cfg)

	h.expect("CAP")
	h.expect("NICK")
	h.expect("USER")
	h.sendLine(":irc.test CAP * ACK :sasl")
	h.expect("AUTHENTICATE")

	// 400-char chunk then terminator: one logical (non-empty) challenge,
	// answered with an empty response under PLAIN.
	h.sendLine("AUTHENTICATE " + strings.Repeat("A", 400))
	h.sendLine("AUTHENTICATE +")
	resp := h.expect("AUTHENTICATE")
	if resp.Params[0] != "+" {
		t.Errorf("expected empty response, got %v", resp.Params)
	}
}
