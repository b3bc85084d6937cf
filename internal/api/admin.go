package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/identity"
	"github.com/ashureev/hostbot/internal/ingest"
)

const defaultIngestionLimit = 20

type ingestResponse struct {
	OK                  bool            `json:"ok"`
	Profile             *domain.Profile `json:"profile,omitempty"`
	UpdatedAt           *time.Time      `json:"updatedAt,omitempty"`
	InvalidatedSessions int             `json:"invalidatedSessions"`
	ParseFailed         bool            `json:"parseFailed,omitempty"`
	Raw                 string          `json:"raw,omitempty"`
}

// Ingest builds a profile from the posted source URLs.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProfileID == "" {
		req.ProfileID = identity.ProfileIDFromContext(r.Context())
	}
	if req.ProfileID != "" && identity.SanitizeProfileID(req.ProfileID, "") == "" {
		Error(w, http.StatusBadRequest, "invalid profileId")
		return
	}

	out, err := h.ingest.Ingest(r.Context(), req)
	if err != nil {
		kind := ingest.Kind(err)
		switch kind {
		case "missing_input":
			Error(w, http.StatusBadRequest, "urls is required and must not be empty")
		case "upstream_fetch", "completion_api":
			slog.Warn("Ingestion failed", "profile_id", req.ProfileID, "kind", kind, "error", err)
			JSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "kind": kind})
		default:
			slog.Error("Ingestion failed", "profile_id", req.ProfileID, "kind", kind, "error", err)
			JSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error(), "kind": kind})
		}
		return
	}

	if out.ParseFailed {
		JSON(w, http.StatusOK, ingestResponse{OK: false, ParseFailed: true, Raw: out.Raw})
		return
	}

	updatedAt := out.Profile.UpdatedAt
	JSON(w, http.StatusOK, ingestResponse{
		OK:                  true,
		Profile:             out.Profile,
		UpdatedAt:           &updatedAt,
		InvalidatedSessions: out.InvalidatedSessions,
	})
}

// GetDefaultProfile returns the default profile verbatim, or null.
func (h *Handler) GetDefaultProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.repo.GetProfile(r.Context(), h.opts.DefaultProfileID)
	if err != nil {
		slog.Error("Failed to load profile", "profile_id", h.opts.DefaultProfileID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	JSON(w, http.StatusOK, profile)
}

// GetProfile returns one profile, or null with 404 when absent.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	profile, err := h.repo.GetProfile(r.Context(), profileID)
	if err != nil {
		slog.Error("Failed to load profile", "profile_id", profileID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		JSON(w, http.StatusNotFound, nil)
		return
	}
	JSON(w, http.StatusOK, profile)
}

// ListProfiles returns every stored profile.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.repo.ListProfiles(r.Context())
	if err != nil {
		slog.Error("Failed to list profiles", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []*domain.Profile{}
	}
	JSON(w, http.StatusOK, profiles)
}

// ListIngestions returns recent ingestion attempts for a profile.
func (h *Handler) ListIngestions(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")

	limit := defaultIngestionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.repo.ListIngestions(r.Context(), profileID, limit)
	if err != nil {
		slog.Error("Failed to list ingestions", "profile_id", profileID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list ingestions")
		return
	}
	if records == nil {
		records = []*domain.IngestionRecord{}
	}
	JSON(w, http.StatusOK, records)
}
