// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package supervisor

import "time"

// Backoff produces the reconnect delay sequence: a fixed initial delay that
// doubles on each consecutive failure up to a cap, and snaps back to the
// initial delay once a connection registers successfully.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}

	if b.current == 0 {
		b.current = b.Initial
	}
	d := b.current

	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset snaps the sequence back to the initial delay. Called after a
// successful registration so a later disconnect retries promptly.
func (b *Backoff) Reset() {
	b.current = 0
}
