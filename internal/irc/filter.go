// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package irc

// ChannelFilter maps a channel name to the event tags it accepts.
// A channel without an entry accepts every tag.
type ChannelFilter map[string][]string

// Allows reports whether a message with the given tag may be delivered to
// the channel.
func (f ChannelFilter) Allows(channel, tag string) bool {
	tags, ok := f[channel]
	if !ok {
		return true
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
