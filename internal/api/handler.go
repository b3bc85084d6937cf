// Package api provides HTTP handlers for the hostbot webhook and admin API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/hostbot/internal/ingest"
	"github.com/ashureev/hostbot/internal/store"
)

// Chatter answers one guest message.
type Chatter interface {
	Reply(ctx context.Context, senderID, profileID, text string) (string, error)
}

// Ingester runs a knowledge ingestion.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Outcome, error)
}

// Options carries request-level settings from configuration.
type Options struct {
	DefaultProfileID string
	DefaultLocale    string
	MaxBodyBytes     int64
}

// Handler provides common handler utilities.
type Handler struct {
	chat   Chatter
	ingest Ingester
	repo   store.Repository
	opts   Options
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(chat Chatter, ingester Ingester, repo store.Repository, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		chat:   chat,
		ingest: ingester,
		repo:   repo,
		opts:   opts,
	}
}

// RegisterRoutes registers all routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Liveness)
	r.Post("/whatsapp", h.Webhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", h.Ingest)
		r.Get("/profile", h.GetDefaultProfile)
		r.Get("/profiles", h.ListProfiles)
		r.Get("/profiles/{profileID}", h.GetProfile)
		r.Get("/profiles/{profileID}/ingestions", h.ListIngestions)
	})
}

// Liveness returns a fixed confirmation payload.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("hostbot is running."))
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
