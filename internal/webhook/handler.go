// Commitbot - GitHub Webhook to IRC Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commitbot

package webhook

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/commitbot/internal/format"
	"github.com/tomtom215/commitbot/internal/logging"
	"github.com/tomtom215/commitbot/internal/metrics"
)

// maxBodySize bounds webhook request bodies. GitHub caps payloads at 25MB.
const maxBodySize = 25 << 20

// dispatchTimeout bounds the detached formatting/delivery task spawned per
// accepted event. It must cover the shortener call plus flood-limited sends.
const dispatchTimeout = 2 * time.Minute

// Dispatcher receives verified events after the HTTP response is written.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev format.Event)
}

// Handler serves the webhook endpoints.
type Handler struct {
	secret     string
	dispatcher Dispatcher
}

// NewHandler creates a webhook handler. An empty secret disables signature
// verification; that trust decision is logged once at startup.
func NewHandler(secret string, dispatcher Dispatcher) *Handler {
	if secret == "" {
		logging.Warn().Msg("No webhook secret configured; accepting unsigned payloads")
	}
	return &Handler{secret: secret, dispatcher: dispatcher}
}

// Root answers GET / with a short greeting.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	respondText(w, http.StatusOK, "Commitbot lives here. Direct your hooks to /github.\n")
}

// GithubGreeting answers GET /github for humans probing the hook URL.
func (h *Handler) GithubGreeting(w http.ResponseWriter, _ *http.Request) {
	respondText(w, http.StatusOK, "You found the Github hook!\n")
}

// Github handles POST /github:
//
//  1. Verify the X-Hub-Signature-256 header against the raw body bytes.
//     Verification always runs before any parsing of untrusted input.
//  2. Negotiate content: application/json bodies are used as-is; form
//     bodies must carry exactly one "payload" field, extracted from the
//     original undecoded body so the verified bytes are the parsed bytes.
//  3. Decode the payload and schedule formatting asynchronously.
//
// The 200 response never waits on link shortening or IRC delivery.
func (h *Handler) Github(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondText(w, http.StatusBadRequest, "Unreadable body\n")
		return
	}

	if h.secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			respondText(w, http.StatusForbidden, "Missing signature\n")
			return
		}
		if !VerifySignature(h.secret, body, signature) {
			logging.Warn().Str("remote", r.RemoteAddr).Msg("Webhook signature verification failed")
			respondText(w, http.StatusForbidden, "Invalid signature\n")
			return
		}
	}

	payload, status, err := extractPayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		respondText(w, status, err.Error()+"\n")
		return
	}

	var decoded format.Payload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		respondText(w, http.StatusBadRequest, "Malformed payload\n")
		return
	}

	kind := r.Header.Get("X-Github-Event")
	delivery := r.Header.Get("X-Github-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}

	metrics.WebhookEvents.WithLabelValues(sanitizeLogValue(kind)).Inc()
	logging.Info().
		Str("delivery", delivery).
		Str("event", sanitizeLogValue(kind)).
		Str("repo", sanitizeLogValue(decoded.Repository.Name)).
		Msg("Webhook received")

	ev := format.Event{Origin: "github", Kind: kind, Payload: decoded}

	// Detached task: the HTTP response returns immediately, and any
	// failure in formatting or delivery is captured and logged here.
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error().
					Str("delivery", delivery).
					Interface("panic", rec).
					Msg("Webhook dispatch panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		h.dispatcher.Dispatch(ctx, ev)
	}()

	respondText(w, http.StatusOK, "OK\n")
}

// extractPayload applies content negotiation to the raw body and returns
// the JSON bytes to decode. On failure it returns the HTTP status to send.
func extractPayload(contentType string, body []byte) ([]byte, int, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/json":
		return body, 0, nil
	case "application/x-www-form-urlencoded":
		// Parse the original body bytes, not a framework-provided view
		// mixed with query parameters: the signature covered these bytes.
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("malformed form body")
		}
		payload, ok := values["payload"]
		if !ok || len(payload) != 1 {
			return nil, http.StatusBadRequest, fmt.Errorf("missing payload")
		}
		return []byte(payload[0]), 0, nil
	default:
		return nil, http.StatusUnsupportedMediaType, fmt.Errorf("invalid Content-Type")
	}
}

// respondText writes a plain-text response and records the status metric.
func respondText(w http.ResponseWriter, status int, body string) {
	metrics.ObserveWebhookStatus(status)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// sanitizeLogValue replaces control characters in user-provided values so
// they cannot inject log lines or terminal escapes.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
