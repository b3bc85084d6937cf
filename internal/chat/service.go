// Package chat relays guest messages to the completion API with per-sender
// transcripts grounded in the profile's knowledge.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/llm"
	"github.com/ashureev/hostbot/internal/session"
	"github.com/ashureev/hostbot/internal/store"
)

// ErrUnconfiguredProfile is returned when a message targets an unknown profile.
var ErrUnconfiguredProfile = errors.New("profile not configured")

// InvalidationPolicy selects which sessions a profile write destroys.
type InvalidationPolicy string

const (
	// InvalidateProfile destroys only sessions seeded from the written profile.
	InvalidateProfile InvalidationPolicy = "profile"
	// InvalidateGlobal destroys every session.
	InvalidateGlobal InvalidationPolicy = "global"
)

// ParseInvalidationPolicy validates a policy name.
func ParseInvalidationPolicy(s string) (InvalidationPolicy, error) {
	switch p := InvalidationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case InvalidateProfile, InvalidateGlobal:
		return p, nil
	case "":
		return InvalidateProfile, nil
	default:
		return "", fmt.Errorf("unknown invalidation policy %q", s)
	}
}

// Config configures the chat service.
type Config struct {
	Temperature float64
	Policy      InvalidationPolicy
}

// Service runs chat turns and applies profile updates.
type Service struct {
	profiles  store.Repository
	sessions  *session.Store
	completer llm.Completer
	cfg       Config

	// gate orders profile writes against session seeding. Chat turns hold
	// the read side while they read a profile and resolve a session;
	// ApplyProfile holds the write side across put and invalidation.
	gate sync.RWMutex
}

// NewService creates a chat service.
func NewService(profiles store.Repository, sessions *session.Store, completer llm.Completer, cfg Config) *Service {
	if cfg.Policy == "" {
		cfg.Policy = InvalidateProfile
	}
	return &Service{
		profiles:  profiles,
		sessions:  sessions,
		completer: completer,
		cfg:       cfg,
	}
}

// Reply handles one inbound guest message and returns the assistant reply.
func (s *Service) Reply(ctx context.Context, senderID, profileID, text string) (string, error) {
	unlock := s.sessions.Lock(senderID)
	defer unlock()

	turns, err := s.begin(ctx, senderID, profileID, text)
	if err != nil {
		return "", err
	}

	reply, err := s.completer.Complete(ctx, turns, s.cfg.Temperature)
	if err != nil {
		if derr := s.sessions.DiscardPendingUser(senderID); derr != nil && !errors.Is(derr, session.ErrInvalidSession) {
			slog.Warn("Failed to discard pending user turn", "sender", senderID, "error", derr)
		}
		return "", fmt.Errorf("complete turn for %s: %w", senderID, err)
	}

	if err := s.sessions.AppendAssistant(senderID, reply.Content); err != nil {
		// The session was invalidated by an ingestion while the model was
		// answering. The reply is still valid for this turn.
		slog.Info("Session invalidated during turn", "sender", senderID, "profile_id", profileID, "error", err)
	}
	return reply.Content, nil
}

// begin reads the profile, resolves the session and appends the user turn
// under the read gate. It returns the transcript to submit.
func (s *Service) begin(ctx context.Context, senderID, profileID, text string) ([]domain.Turn, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	profile, err := s.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", profileID, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnconfiguredProfile, profileID)
	}

	s.sessions.Resolve(senderID, profile)
	if err := s.sessions.AppendUser(senderID, text); err != nil {
		return nil, err
	}
	turns, ok := s.sessions.Transcript(senderID)
	if !ok {
		return nil, fmt.Errorf("transcript for %s: %w", senderID, session.ErrInvalidSession)
	}
	return turns, nil
}

// ApplyProfile writes the profile and invalidates affected sessions as one
// step with respect to chat turns. It returns the number of sessions removed.
func (s *Service) ApplyProfile(ctx context.Context, profile *domain.Profile) (int, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if err := s.profiles.PutProfile(ctx, profile); err != nil {
		return 0, fmt.Errorf("put profile %s: %w", profile.ID, err)
	}

	var n int
	switch s.cfg.Policy {
	case InvalidateGlobal:
		n = s.sessions.InvalidateAll()
	default:
		n = s.sessions.InvalidateForProfile(profile.ID)
	}
	slog.Info("Profile applied", "profile_id", profile.ID, "policy", s.cfg.Policy, "invalidated_sessions", n)
	return n, nil
}
