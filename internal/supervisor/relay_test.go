// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package supervisor

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	ircproto "gopkg.in/irc.v4"

	"github.com/tomtom215/commitbot/internal/irc"
)

func relayConnConfig() irc.Config {
	return irc.Config{
		Nick:     "CommitBot",
		Username: "bot",
		Realname: "Commit bot",
		Channels: []irc.Channel{{Name: "#commits"}},
	}
}

func TestRelayNotifyWithoutConnection(t *testing.T) {
	r := NewRelay(RelayConfig{Conn: relayConnConfig()})

	// Nothing live: the message is dropped, never queued or panicking.
	r.Notify("push", "nobody home")
}

func TestRelayRetriesFailedDials(t *testing.T) {
	r := NewRelay(RelayConfig{
		Conn:    relayConnConfig(),
		Backoff: Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond},
	})

	var attempts atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	r.dialFunc = func(ctx context.Context) (net.Conn, error) {
		if attempts.Add(1) >= 3 {
			cancel()
		}
		return nil, errors.New("connection refused")
	}

	err := r.Serve(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
	if n := attempts.Load(); n < 3 {
		t.Errorf("dial attempts = %d, want at least 3", n)
	}
}

func TestRelayRegistersAndFansOut(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	server := ircproto.NewConn(serverSide)

	dials := make(chan struct{}, 4)
	r := NewRelay(RelayConfig{
		Conn:    relayConnConfig(),
		Backoff: Backoff{Initial: time.Hour, Max: time.Hour},
	})
	r.dialFunc = func(ctx context.Context) (net.Conn, error) {
		select {
		case dials <- struct{}{}:
			return clientSide, nil
		default:
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- r.Serve(ctx) }()

	read := func() *ircproto.Message {
		t.Helper()
		serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := server.ReadMessage()
		if err != nil {
			t.Fatalf("reading client line: %v", err)
		}
		return msg
	}
	send := func(line string) {
		t.Helper()
		serverSide.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := server.Write(line); err != nil {
			t.Fatalf("writing server line: %v", err)
		}
	}

	// Drive registration and the initial join.
	for read().Command != "USER" {
	}
	send(":irc.test 001 CommitBot :Welcome")
	for read().Command != "JOIN" {
	}
	send(":CommitBot!bot@host JOIN #commits")

	// Wait until the join has been processed before notifying.
	waitReady := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		var conn *irc.Conn
		for c := range r.live {
			conn = c
		}
		r.mu.Unlock()
		if conn != nil && conn.StateNow() == irc.StateReady {
			break
		}
		if time.Now().After(waitReady) {
			t.Fatal("connection never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The connection is now live; a notification reaches the channel.
	go r.Notify("push", "deploy done")
	msg := read()
	for msg.Command != "PRIVMSG" {
		msg = read()
	}
	if msg.Params[0] != "#commits" || msg.Params[1] != "deploy done" {
		t.Errorf("delivered %v", msg.Params)
	}

	// Server drops the link: the connection leaves the live set and
	// notifications degrade to drops.
	serverSide.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.live)
		r.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never left the live set")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Notify("push", "into the void")

	cancel()
	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRelayShutdownCallback(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	server := ircproto.NewConn(serverSide)
	defer serverSide.Close()

	shutdown := make(chan string, 1)
	dialed := make(chan struct{}, 1)
	r := NewRelay(RelayConfig{
		Conn:       relayConnConfig(),
		Backoff:    Backoff{Initial: time.Hour, Max: time.Hour},
		OnShutdown: func(reason string) { shutdown <- reason },
	})
	r.dialFunc = func(ctx context.Context) (net.Conn, error) {
		select {
		case dialed <- struct{}{}:
			return clientSide, nil
		default:
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Serve(ctx)

	read := func() *ircproto.Message {
		t.Helper()
		serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := server.ReadMessage()
		if err != nil {
			t.Fatalf("reading client line: %v", err)
		}
		return msg
	}

	for read().Command != "USER" {
	}
	server.Write(":irc.test 001 CommitBot :Welcome")
	for read().Command != "JOIN" {
	}
	server.Write(":CommitBot!bot@host JOIN #commits")
	server.Write(":op!op@host KICK #commits CommitBot :die")

	select {
	case reason := <-shutdown:
		if reason != "die" {
			t.Errorf("shutdown reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}
}
