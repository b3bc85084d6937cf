// Package session keeps the per-sender conversation transcripts.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/prompt"
)

// ErrInvalidSession is returned when a sender has no resolved session.
var ErrInvalidSession = errors.New("invalid session")

// session is a single sender's transcript. turns[0] is always the system turn.
type session struct {
	profileID  string
	turns      []domain.Turn
	lastActive time.Time
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

// Store maps sender identity to an ordered transcript.
//
// All methods are safe for concurrent use. A full chat turn (resolve, append
// user, wait for the model, append assistant) must additionally be wrapped in
// Lock for the sender so that two turns from the same sender never interleave.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	maxTurns int

	lockMu sync.Mutex
	locks  map[string]*senderLock

	now func() time.Time
}

// NewStore creates a store that keeps at most 1+maxTurns turns per session.
// A maxTurns of zero or less disables trimming.
func NewStore(maxTurns int) *Store {
	return &Store{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		locks:    make(map[string]*senderLock),
		now:      time.Now,
	}
}

// MaxTurns returns the configured turn cap.
func (s *Store) MaxTurns() int {
	return s.maxTurns
}

// Lock serializes turns for one sender. The returned func releases the lock.
func (s *Store) Lock(senderID string) func() {
	s.lockMu.Lock()
	l, ok := s.locks[senderID]
	if !ok {
		l = &senderLock{}
		s.locks[senderID] = l
	}
	l.refs++
	s.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, senderID)
		}
		s.lockMu.Unlock()
	}
}

// Resolve returns the transcript for senderID, creating it from the profile's
// composed prompt if none exists. An existing session is never re-seeded.
func (s *Store) Resolve(senderID string, profile *domain.Profile) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[senderID]
	if !ok {
		sess = &session{
			profileID: profile.ID,
			turns:     []domain.Turn{{Role: domain.RoleSystem, Content: prompt.Compose(profile)}},
		}
		s.sessions[senderID] = sess
		slog.Debug("Session created", "sender", senderID, "profile_id", profile.ID)
	}
	sess.lastActive = s.now()
	return cloneTurns(sess.turns)
}

// AppendUser appends a guest message.
func (s *Store) AppendUser(senderID, text string) error {
	return s.append(senderID, domain.RoleUser, text)
}

// AppendAssistant appends a model reply.
func (s *Store) AppendAssistant(senderID, text string) error {
	return s.append(senderID, domain.RoleAssistant, text)
}

func (s *Store) append(senderID string, role domain.Role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[senderID]
	if !ok {
		return fmt.Errorf("append %s turn for %s: %w", role, senderID, ErrInvalidSession)
	}
	sess.turns = append(sess.turns, domain.Turn{Role: role, Content: text})
	sess.turns = trimTurns(sess.turns, s.maxTurns)
	sess.lastActive = s.now()
	return nil
}

// DiscardPendingUser removes a trailing user turn left behind by a failed
// completion. It is a no-op when the last turn is not a user turn.
func (s *Store) DiscardPendingUser(senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[senderID]
	if !ok {
		return fmt.Errorf("discard turn for %s: %w", senderID, ErrInvalidSession)
	}
	if n := len(sess.turns); n > 1 && sess.turns[n-1].Role == domain.RoleUser {
		sess.turns = sess.turns[:n-1]
	}
	return nil
}

// Trim applies the retention policy with an explicit cap.
func (s *Store) Trim(senderID string, maxTurns int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[senderID]
	if !ok {
		return fmt.Errorf("trim %s: %w", senderID, ErrInvalidSession)
	}
	sess.turns = trimTurns(sess.turns, maxTurns)
	return nil
}

// trimTurns keeps the system turn plus the most recent maxTurns-1 turns once
// the transcript grows past 1+maxTurns.
func trimTurns(turns []domain.Turn, maxTurns int) []domain.Turn {
	if maxTurns <= 0 || len(turns) <= 1+maxTurns {
		return turns
	}
	keep := maxTurns - 1
	trimmed := make([]domain.Turn, 0, 1+keep)
	trimmed = append(trimmed, turns[0])
	trimmed = append(trimmed, turns[len(turns)-keep:]...)
	return trimmed
}

// Transcript returns a copy of the sender's transcript.
func (s *Store) Transcript(senderID string) ([]domain.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[senderID]
	if !ok {
		return nil, false
	}
	return cloneTurns(sess.turns), true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// InvalidateAll destroys every session and returns how many were removed.
func (s *Store) InvalidateAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	s.sessions = make(map[string]*session)
	return n
}

// InvalidateForProfile destroys the sessions seeded from profileID.
func (s *Store) InvalidateForProfile(profileID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sender, sess := range s.sessions {
		if sess.profileID == profileID {
			delete(s.sessions, sender)
			removed++
		}
	}
	return removed
}

// ExpireIdle destroys sessions with no activity for longer than ttl.
func (s *Store) ExpireIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sender, sess := range s.sessions {
		if sess.lastActive.Before(cutoff) {
			delete(s.sessions, sender)
			removed++
		}
	}
	return removed
}

func cloneTurns(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out
}
