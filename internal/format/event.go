// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package format

// Event is one verified webhook event handed off by the HTTP surface.
// It is immutable after creation and consumed exactly once by Dispatch.
type Event struct {
	// Origin identifies the webhook source ("github").
	Origin string

	// Kind is the event type from X-GitHub-Event ("push", "pull_request").
	Kind string

	// Payload is the decoded request body.
	Payload Payload
}

// Payload is the union of the fields Commitbot reads from GitHub webhook
// bodies. Push and pull_request payloads each fill their own subset.
type Payload struct {
	Repository Repository  `json:"repository"`
	Sender     Sender      `json:"sender"`
	Action     string      `json:"action"`
	Number     int         `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Compare    string      `json:"compare"`
	Ref        string      `json:"ref"`
	Forced     bool        `json:"forced"`
	Commits    []Commit    `json:"commits"`
}

// Repository carries the repository name, which doubles as the routing tag
// for channel filtering.
type Repository struct {
	Name string `json:"name"`
}

// Sender is the acting GitHub user.
type Sender struct {
	Login string `json:"login"`
}

// PullRequest carries the pull request fields shown in notifications.
type PullRequest struct {
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	Base    Branch `json:"base"`
	Head    Branch `json:"head"`
}

// Branch is a base or head reference of a pull request.
type Branch struct {
	Ref string `json:"ref"`
}

// Commit is one entry of a push payload's commit list.
type Commit struct {
	ID      string `json:"id"`
	Author  Author `json:"author"`
	Message string `json:"message"`
}

// Author is the commit author.
type Author struct {
	Username string `json:"username"`
}

// Notification is one formatted message routed by tag to matching channels.
type Notification struct {
	// Tag routes the message through per-channel filters. All messages
	// from one webhook share the repository name as their tag.
	Tag string

	// Text is the fully formatted IRC message body.
	Text string
}
