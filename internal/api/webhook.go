package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/hostbot/internal/chat"
	"github.com/ashureev/hostbot/internal/identity"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML escapes the five reserved XML characters.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// TwiML renders a messaging reply document with a single message.
func TwiML(message string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		"<Response><Message>" + EscapeXML(message) + "</Message></Response>"
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(TwiML(message)))
}

// Webhook handles an inbound messaging webhook with form fields Body and From.
// It always answers 200 with reply markup so the platform does not retry.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := identity.ProfileIDFromContext(ctx)
	if profileID == "" {
		profileID = h.opts.DefaultProfileID
	}
	msgs := messagesFor(h.localeFor(ctx, profileID))

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Failed to parse webhook form", "error", err, "remote_ip", identity.IPFromRequest(r))
		writeTwiML(w, msgs.fallback)
		return
	}

	text := strings.TrimSpace(r.PostFormValue("Body"))
	sender := identity.SenderID(r.PostFormValue("From"))
	if text == "" || sender == "" {
		slog.Info("Webhook missing Body or From", "profile_id", profileID, "remote_ip", identity.IPFromRequest(r))
		writeTwiML(w, msgs.fallback)
		return
	}

	reply, err := h.chat.Reply(ctx, sender, profileID, text)
	switch {
	case errors.Is(err, chat.ErrUnconfiguredProfile):
		slog.Warn("Chat on unconfigured profile", "sender", sender, "profile_id", profileID)
		writeTwiML(w, msgs.notConfigured)
	case err != nil:
		slog.Error("Chat turn failed", "sender", sender, "profile_id", profileID, "error", err)
		writeTwiML(w, msgs.apology)
	default:
		writeTwiML(w, reply)
	}
}

// localeFor returns the profile's locale, or the configured default when the
// profile is absent or cannot be read.
func (h *Handler) localeFor(ctx context.Context, profileID string) string {
	profile, err := h.repo.GetProfile(ctx, profileID)
	if err != nil {
		slog.Warn("Failed to load profile locale", "profile_id", profileID, "error", err)
	}
	if err != nil || profile == nil || profile.Locale == "" {
		return h.opts.DefaultLocale
	}
	return profile.Locale
}
