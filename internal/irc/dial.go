// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package irc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// DialConfig describes how to reach the IRC server.
type DialConfig struct {
	Server string
	Port   int
	TLS    bool

	// CAPath optionally replaces the system root pool with a PEM bundle,
	// for servers using a private CA.
	CAPath string

	// Timeout bounds the dial, TLS handshake included. Default: 30s.
	Timeout time.Duration
}

// Dial opens the TCP or TLS transport for one connection attempt.
func Dial(ctx context.Context, cfg DialConfig) (net.Conn, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))

	if !cfg.TLS {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}

	tlsCfg := &tls.Config{ServerName: cfg.Server}
	if cfg.CAPath != "" {
		pem, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle %s: %w", cfg.CAPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAPath)
		}
		tlsCfg.RootCAs = pool
	}

	d := &tls.Dialer{Config: tlsCfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tls %s: %w", addr, err)
	}
	return conn, nil
}
