// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

// Package format turns verified GitHub webhook events into IRC
// notification messages and dispatches them to the connection supervisor.
// Links are shortened best-effort; a failed shorten call falls back to the
// original URL and never delays or suppresses the notification.
package format

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/commitbot/internal/logging"
	"github.com/tomtom215/commitbot/internal/metrics"
)

// maxCommitLines caps how many individual commit messages follow a push
// summary.
const maxCommitLines = 3

// commitIDLen is the abbreviated commit id length shown in commit lines.
const commitIDLen = 7

// LinkShortener is the shortening contract: ok is false whenever no
// shortened link is available, which is never an error for the formatter.
type LinkShortener interface {
	Shorten(ctx context.Context, url string) (string, bool)
}

// Notifier fans one tagged message out to interested channels.
type Notifier interface {
	Notify(tag, text string)
}

// Formatter converts webhook events into notifications.
type Formatter struct {
	shortener LinkShortener // nil disables shortening
	notifier  Notifier
}

// New creates a Formatter. shortener may be nil to disable link shortening.
func New(shortener LinkShortener, notifier Notifier) *Formatter {
	return &Formatter{shortener: shortener, notifier: notifier}
}

// Dispatch formats ev and delivers the resulting messages in order.
// It is called from a detached goroutine after the webhook response has
// been written; errors end here, logged, never propagated to the caller.
func (f *Formatter) Dispatch(ctx context.Context, ev Event) {
	start := time.Now()
	msgs := f.Format(ctx, ev)
	metrics.FormatDuration.Observe(time.Since(start).Seconds())

	for _, m := range msgs {
		f.notifier.Notify(m.Tag, m.Text)
	}

	logging.Debug().
		Str("origin", ev.Origin).
		Str("kind", ev.Kind).
		Str("repo", ev.Payload.Repository.Name).
		Int("messages", len(msgs)).
		Msg("Webhook event dispatched")
}

// Format produces the notification sequence for one event. Unrecognized
// event kinds and pull request actions yield no messages.
func (f *Formatter) Format(ctx context.Context, ev Event) []Notification {
	switch ev.Kind {
	case "pull_request":
		return f.formatPullRequest(ctx, ev.Payload)
	case "push":
		return f.formatPush(ctx, ev.Payload)
	default:
		logging.Debug().Str("kind", ev.Kind).Msg("Ignoring unsupported event kind")
		return nil
	}
}

func (f *Formatter) formatPullRequest(ctx context.Context, p Payload) []Notification {
	switch p.Action {
	case "opened", "closed", "reopened":
	default:
		return nil
	}

	repo := p.Repository.Name
	link := f.link(ctx, p.PullRequest.HTMLURL)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s pull request #%s: %s (%s) %s",
		magenta(repo),
		p.Sender.Login,
		bold(p.Action),
		bold(strconv.Itoa(p.Number)),
		p.PullRequest.Title,
		magenta(p.PullRequest.Base.Ref+"..."+p.PullRequest.Head.Ref),
		lightCyan(underline(link)),
	)

	return []Notification{{Tag: repo, Text: b.String()}}
}

func (f *Formatter) formatPush(ctx context.Context, p Payload) []Notification {
	repo := p.Repository.Name
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	link := f.link(ctx, p.Compare)

	verb := "pushed"
	if p.Forced {
		verb = "forced pushed"
	}

	msgs := make([]Notification, 0, 1+maxCommitLines)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s %s new commits to %s: %s",
		magenta(repo),
		p.Sender.Login,
		verb,
		bold(strconv.Itoa(len(p.Commits))),
		magenta(branch),
		lightCyan(underline(link)),
	)
	msgs = append(msgs, Notification{Tag: repo, Text: b.String()})

	for i, c := range p.Commits {
		if i >= maxCommitLines {
			break
		}
		msgs = append(msgs, Notification{
			Tag: repo,
			Text: fmt.Sprintf("%s/%s %s %s: %s",
				magenta(repo),
				magenta(branch),
				gray(abbrevID(c.ID)),
				c.Author.Username,
				firstLine(c.Message),
			),
		})
	}

	return msgs
}

// link shortens url best-effort, falling back to the original on any
// failure or when shortening is disabled.
func (f *Formatter) link(ctx context.Context, url string) string {
	if f.shortener == nil || url == "" {
		return url
	}
	if short, ok := f.shortener.Shorten(ctx, url); ok {
		return short
	}
	return url
}

// abbrevID truncates a commit id to its leading 7 characters.
func abbrevID(id string) string {
	if len(id) > commitIDLen {
		return id[:commitIDLen]
	}
	return id
}

// firstLine discards everything after the first line break.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
