// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. Invalid configuration is a fatal operator error: the process
// must not start with it.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid field %s (rule %s)", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	// SASL credentials come as a pair or not at all.
	if (c.IRC.SASLUser == "") != (c.IRC.SASLPass == "") {
		return errors.New("irc.sasl_user and irc.sasl_pass must both be set or both be empty")
	}

	// A filter entry for an unknown channel is a config typo.
	known := make(map[string]bool, len(c.IRC.Channels))
	for _, ck := range c.IRC.ParsedChannels() {
		known[ck.Name] = true
	}
	for channel := range c.IRC.Filters {
		if !known[channel] {
			return fmt.Errorf("filter configured for %s, which is not in irc.channels", channel)
		}
	}

	if c.IRC.ReconnectInitial <= 0 || c.IRC.ReconnectMax < c.IRC.ReconnectInitial {
		return errors.New("irc.reconnect_initial must be positive and no greater than irc.reconnect_max")
	}

	return nil
}
