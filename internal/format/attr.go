// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package format

// mIRC formatting control codes. Color codes use the two-digit form so a
// following digit in the text cannot be absorbed into the color number.
const (
	ctrlBold      = "\x02"
	ctrlColor     = "\x03"
	ctrlUnderline = "\x1f"

	colorMagenta   = "06"
	colorLightCyan = "11"
	colorGray      = "14"
)

func bold(s string) string {
	return ctrlBold + s + ctrlBold
}

func underline(s string) string {
	return ctrlUnderline + s + ctrlUnderline
}

func fg(color, s string) string {
	return ctrlColor + color + s + ctrlColor
}

func magenta(s string) string   { return fg(colorMagenta, s) }
func lightCyan(s string) string { return fg(colorLightCyan, s) }
func gray(s string) string      { return fg(colorGray, s) }
