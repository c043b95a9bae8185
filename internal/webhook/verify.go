// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package webhook is the inbound HTTP surface: it verifies GitHub webhook
// signatures against the raw request body, negotiates content types, and
// hands verified events off to the formatter without making the HTTP
// response wait on chat delivery.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks an X-Hub-Signature-256 header value against the
// HMAC-SHA256 of the raw, unparsed request body. The header carries
// "sha256=<hex>"; comparison is constant-time. A malformed header is
// simply invalid, never an error.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
