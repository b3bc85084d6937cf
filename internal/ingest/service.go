// Package ingest builds profile knowledge from source pages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/fetch"
	"github.com/ashureev/hostbot/internal/knowledge"
	"github.com/ashureev/hostbot/internal/llm"
	"github.com/ashureev/hostbot/internal/store"
)

// ErrMissingInput is returned when a required request field is absent.
var ErrMissingInput = errors.New("missing input")

// Fetcher downloads source documents.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) ([]fetch.Document, error)
}

// Extractor turns documents into knowledge.
type Extractor interface {
	Extract(ctx context.Context, docs []fetch.Document, city string) (knowledge.Result, error)
}

// ProfileApplier writes a profile and invalidates its sessions.
type ProfileApplier interface {
	ApplyProfile(ctx context.Context, profile *domain.Profile) (int, error)
}

// Defaults fill request fields that are absent and have no stored value.
type Defaults struct {
	ProfileID string
	Name      string
	Locale    string
	City      string
}

// Request is one ingestion call.
type Request struct {
	ProfileID string   `json:"profileId"`
	Name      string   `json:"name"`
	Locale    string   `json:"locale"`
	City      string   `json:"city"`
	URLs      []string `json:"urls"`
}

// Outcome reports the result of an ingestion that reached extraction.
// When ParseFailed is set, Profile is nil and Raw holds the model output.
type Outcome struct {
	Profile             *domain.Profile
	InvalidatedSessions int
	ParseFailed         bool
	Raw                 string
}

// Service runs ingestions.
type Service struct {
	fetcher   Fetcher
	extractor Extractor
	applier   ProfileApplier
	repo      store.Repository
	defaults  Defaults
	now       func() time.Time
}

// NewService creates an ingestion service.
func NewService(fetcher Fetcher, extractor Extractor, applier ProfileApplier, repo store.Repository, defaults Defaults) *Service {
	return &Service{
		fetcher:   fetcher,
		extractor: extractor,
		applier:   applier,
		repo:      repo,
		defaults:  defaults,
		now:       time.Now,
	}
}

// Ingest fetches the sources, extracts knowledge and replaces the profile.
// Fetch and completion failures are returned as errors; unparsable model
// output is reported through Outcome.ParseFailed and leaves the stored
// profile untouched.
func (s *Service) Ingest(ctx context.Context, req Request) (*Outcome, error) {
	urls := lo.Uniq(lo.Compact(lo.Map(req.URLs, func(u string, _ int) string {
		return strings.TrimSpace(u)
	})))
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: urls", ErrMissingInput)
	}

	profileID := strings.TrimSpace(req.ProfileID)
	if profileID == "" {
		profileID = s.defaults.ProfileID
	}

	existing, err := s.repo.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", profileID, err)
	}
	name := firstNonEmpty(req.Name, fieldOf(existing, func(p *domain.Profile) string { return p.Name }), s.defaults.Name)
	locale := firstNonEmpty(req.Locale, fieldOf(existing, func(p *domain.Profile) string { return p.Locale }), s.defaults.Locale)
	city := firstNonEmpty(req.City, fieldOf(existing, func(p *domain.Profile) string { return p.City }), s.defaults.City)

	slog.Info("Ingestion started", "profile_id", profileID, "sources", len(urls))

	docs, err := s.fetcher.FetchAll(ctx, urls)
	if err != nil {
		s.record(ctx, profileID, domain.IngestionFailed, urls, err.Error())
		return nil, err
	}

	result, err := s.extractor.Extract(ctx, docs, city)
	if err != nil {
		s.record(ctx, profileID, domain.IngestionFailed, urls, err.Error())
		return nil, err
	}

	facts, ok := result.Parsed()
	if !ok {
		slog.Warn("Extraction output did not parse", "profile_id", profileID, "error", result.Err())
		s.record(ctx, profileID, domain.IngestionParseFailed, urls, errString(result.Err()))
		return &Outcome{ParseFailed: true, Raw: result.Raw()}, nil
	}

	profile := &domain.Profile{
		ID:        profileID,
		Name:      name,
		Locale:    locale,
		City:      city,
		Sources:   urls,
		Knowledge: domain.Knowledge{Facts: facts},
		UpdatedAt: s.now().UTC(),
	}
	invalidated, err := s.applier.ApplyProfile(ctx, profile)
	if err != nil {
		s.record(ctx, profileID, domain.IngestionFailed, urls, err.Error())
		return nil, err
	}

	s.record(ctx, profileID, domain.IngestionSucceeded, urls, "")
	slog.Info("Ingestion completed", "profile_id", profileID, "invalidated_sessions", invalidated)
	return &Outcome{Profile: profile, InvalidatedSessions: invalidated}, nil
}

// Kind names the failure class of an ingestion error for API responses.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, fetch.ErrUpstreamFetch):
		return "upstream_fetch"
	case errors.Is(err, llm.ErrCompletion):
		return "completion_api"
	case errors.Is(err, knowledge.ErrExtractionParse):
		return "extraction_parse"
	default:
		return "internal"
	}
}

// record appends an audit entry. Failures are logged, not returned.
func (s *Service) record(ctx context.Context, profileID string, status domain.IngestionStatus, urls []string, detail string) {
	rec := &domain.IngestionRecord{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Status:    status,
		Sources:   urls,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.RecordIngestion(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("Failed to record ingestion", "profile_id", profileID, "status", status, "error", err)
	}
}

func fieldOf(p *domain.Profile, get func(*domain.Profile) string) string {
	if p == nil {
		return ""
	}
	return get(p)
}

func firstNonEmpty(values ...string) string {
	v, _ := lo.Find(values, func(s string) bool { return strings.TrimSpace(s) != "" })
	return strings.TrimSpace(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
