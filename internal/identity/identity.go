// Package identity resolves which profile and sender a request belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// ProfileHeaderName selects a profile on webhook and API calls.
	ProfileHeaderName = "X-Profile-ID"
	// ProfileQueryParam is the query fallback for ProfileHeaderName.
	ProfileQueryParam = "profile"
)

type contextKey int

const (
	profileIDKey contextKey = iota
)

var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ProfileIDFromContext extracts the profile ID from the request context.
func ProfileIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(profileIDKey).(string); ok {
		return v
	}
	return ""
}

// WithProfileID returns a context carrying the profile ID.
func WithProfileID(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, profileIDKey, profileID)
}

// SanitizeProfileID returns id when it is a well-formed profile identifier and
// fallback otherwise.
func SanitizeProfileID(id, fallback string) string {
	id = strings.TrimSpace(id)
	if id == "" || !profileIDPattern.MatchString(id) {
		return fallback
	}
	return id
}

// SenderID normalizes the opaque sender identity from a webhook form field.
func SenderID(from string) string {
	return strings.TrimSpace(from)
}

func profileIDFromRequest(r *http.Request, fallback string) string {
	id := r.Header.Get(ProfileHeaderName)
	if id == "" {
		id = r.URL.Query().Get(ProfileQueryParam)
	}
	return SanitizeProfileID(id, fallback)
}

// Middleware injects the requested profile ID, or defaultProfileID when the
// request does not name a valid one.
func Middleware(defaultProfileID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithProfileID(r.Context(), profileIDFromRequest(r, defaultProfileID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
