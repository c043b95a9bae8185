// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package irc

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/commitbot/internal/metrics"
)

// saslChunkSize is the AUTHENTICATE line payload cap. A chunk of exactly
// this length signals "more data follows"; anything shorter completes one
// logical message.
const saslChunkSize = 400

// defaultSASLTimeout bounds the wait for a server response once
// authentication has started.
const defaultSASLTimeout = 10 * time.Second

// saslState is the negotiation phase.
type saslState int

const (
	saslNotStarted saslState = iota
	saslRequested
	saslAuthenticating
	saslEnded
)

// SASLResult is the terminal outcome of a negotiation. Exactly one result
// is recorded per session; negotiation always concludes.
type SASLResult int

const (
	SASLResultNone SASLResult = iota
	SASLSuccess
	SASLFailed
	SASLTooLong
	SASLAborted
	SASLTimeout
	SASLNotSupported
)

func (r SASLResult) String() string {
	switch r {
	case SASLSuccess:
		return "success"
	case SASLFailed:
		return "failed"
	case SASLTooLong:
		return "toolong"
	case SASLAborted:
		return "aborted"
	case SASLTimeout:
		return "timeout"
	case SASLNotSupported:
		return "unsupported"
	default:
		return "none"
	}
}

// saslIO is what a session needs from its owning connection. Implemented
// by *Conn; replaced by a recorder in tests.
type saslIO interface {
	// sendSASLLine writes one raw protocol line (CAP REQ, AUTHENTICATE, CAP END).
	sendSASLLine(cmd string, params ...string)
	// closeForAuthFailure tears the connection down (904/906 paths).
	closeForAuthFailure()
}

// saslSession is the authentication sub-state-machine embedded in one
// connection during registration. At most one session exists per
// connection; it is created when capability negotiation starts and is done
// once Ended, after which all further authentication traffic is ignored.
type saslSession struct {
	username string
	password string
	timeout  time.Duration
	io       saslIO
	log      zerolog.Logger

	mu      sync.Mutex
	state   saslState
	result  SASLResult
	chunker authChunker
	timer   *time.Timer
}

// authChunker reassembles chunked AUTHENTICATE payloads. A chunk of
// exactly saslChunkSize characters means more follows; a lone "+" is an
// empty chunk that completes the pending message without extending it.
type authChunker struct {
	buf strings.Builder
}

// add consumes one chunk and reports whether it completed a message,
// returning the reassembled encoded payload when it did.
func (a *authChunker) add(chunk string) (string, bool) {
	if chunk == "+" {
		complete := a.buf.String()
		a.buf.Reset()
		return complete, true
	}
	a.buf.WriteString(chunk)
	if len(chunk) == saslChunkSize {
		return "", false
	}
	complete := a.buf.String()
	a.buf.Reset()
	return complete, true
}

func newSASLSession(username, password string, io saslIO, log zerolog.Logger) *saslSession {
	return &saslSession{
		username: username,
		password: password,
		timeout:  defaultSASLTimeout,
		io:       io,
		log:      log,
	}
}

// start requests the sasl capability, opening negotiation.
func (s *saslSession) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != saslNotStarted {
		return
	}
	s.log.Info().Msg("Checking for SASL authentication support")
	s.state = saslRequested
	s.io.sendSASLLine("CAP", "REQ", "sasl")
}

// handleCapNak ends negotiation: the capability is unavailable and
// registration proceeds without authentication.
func (s *saslSession) handleCapNak() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != saslRequested {
		return
	}
	s.log.Info().Msg("SASL authentication not supported")
	s.finish(SASLNotSupported)
}

// handleCapAck starts authentication when the acknowledged capability list
// includes sasl; an ACK without it is treated like a NAK.
func (s *saslSession) handleCapAck(caps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != saslRequested {
		return
	}

	hasSASL := false
	for _, c := range caps {
		if strings.EqualFold(c, "sasl") {
			hasSASL = true
			break
		}
	}
	if !hasSASL {
		// ACK without the capability we asked for: should never happen.
		s.finish(SASLNotSupported)
		return
	}

	s.log.Info().Msg("SASL authentication started")
	s.state = saslAuthenticating
	s.io.sendSASLLine("AUTHENTICATE", "PLAIN")
	s.timer = time.AfterFunc(s.timeout, s.timedOut)
}

// handleChunk processes one AUTHENTICATE payload line from the server.
// A lone "+" is an empty chunk that completes the message without adding
// to the buffer; a chunk of exactly saslChunkSize means more follows.
func (s *saslSession) handleChunk(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != saslAuthenticating {
		return
	}

	complete, done := s.chunker.add(chunk)
	if !done {
		return
	}

	var request []byte
	if complete != "" {
		decoded, err := base64.StdEncoding.DecodeString(complete)
		if err != nil {
			s.log.Warn().Err(err).Msg("Undecodable SASL challenge; ending negotiation")
			s.finish(SASLAborted)
			return
		}
		request = decoded
	}

	response := s.respond(request)
	for _, line := range splitAuthPayload(response) {
		s.io.sendSASLLine("AUTHENTICATE", line)
	}
}

// respond answers one decoded server message. PLAIN has a single exchange:
// an empty request for credentials, answered with the NUL-joined triple.
// Anything else gets an empty response.
func (s *saslSession) respond(request []byte) string {
	if len(request) != 0 {
		return ""
	}
	plain := s.username + "\x00" + s.username + "\x00" + s.password
	return base64.StdEncoding.EncodeToString([]byte(plain))
}

// splitAuthPayload breaks an encoded response into AUTHENTICATE payload
// lines. An empty payload is the single line "+". When the final chunk is
// exactly saslChunkSize characters, a terminating "+" line disambiguates
// it from "more data follows".
func splitAuthPayload(encoded string) []string {
	if encoded == "" {
		return []string{"+"}
	}
	var lines []string
	for len(encoded) > saslChunkSize {
		lines = append(lines, encoded[:saslChunkSize])
		encoded = encoded[saslChunkSize:]
	}
	lines = append(lines, encoded)
	if len(encoded) == saslChunkSize {
		lines = append(lines, "+")
	}
	return lines
}

// handleSuccess handles RPL_SASLSUCCESS (903) and ERR_SASLALREADY (907).
func (s *saslSession) handleSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == saslEnded || s.state == saslNotStarted {
		return
	}
	s.log.Info().Msg("SASL authentication succeeded")
	s.finish(SASLSuccess)
}

// handleFailed handles ERR_SASLFAIL (904). This is the one auth failure
// that terminates the connection instead of just ending negotiation.
func (s *saslSession) handleFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == saslEnded || s.state == saslNotStarted {
		return
	}
	s.log.Warn().Msg("SASL authentication failed: closing")
	s.conclude(SASLFailed)
	s.io.closeForAuthFailure()
}

// handleTooLong handles ERR_SASLTOOLONG (905); negotiation ends but the
// connection continues unauthenticated.
func (s *saslSession) handleTooLong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == saslEnded || s.state == saslNotStarted {
		return
	}
	s.log.Warn().Msg("SASL authentication data was too long")
	s.finish(SASLTooLong)
}

// handleAborted handles ERR_SASLABORTED (906); the connection is closed.
func (s *saslSession) handleAborted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == saslEnded || s.state == saslNotStarted {
		return
	}
	s.log.Warn().Msg("SASL authentication aborted: closing")
	s.conclude(SASLAborted)
	s.io.closeForAuthFailure()
}

// timedOut fires when the server stops responding mid-authentication.
// Registration proceeds without auth.
func (s *saslSession) timedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == saslEnded {
		return
	}
	s.log.Warn().Msg("SASL authentication timed out")
	s.finish(SASLTimeout)
}

// finish records the result and sends CAP END exactly once, completing
// registration. Must be called with mu held.
func (s *saslSession) finish(result SASLResult) {
	s.conclude(result)
	s.io.sendSASLLine("CAP", "END")
}

// conclude records the result and stops the timer without ending
// capability negotiation (the 904/906 paths close the connection instead).
// Must be called with mu held.
func (s *saslSession) conclude(result SASLResult) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = saslEnded
	s.result = result
	metrics.SASLOutcomes.WithLabelValues(result.String()).Inc()
}

// Result returns the recorded outcome, or SASLResultNone while negotiation
// is still in flight.
func (s *saslSession) Result() SASLResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
