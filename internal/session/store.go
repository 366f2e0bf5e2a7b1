package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck/internal/model"
)

const defaultTTL = 12 * time.Hour

// Store maps session ids to live sessions. Thread-safe; expired entries
// are refused on read and reaped by a background janitor.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   zerolog.Logger
	stop     chan struct{}
	stopped  sync.Once
}

// Option is a functional option for Store.
type Option func(*Store)

// WithTTL overrides the default session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore creates a session store and starts its janitor.
func NewStore(logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      defaultTTL,
		logger:   logger.With().Str("component", "session").Logger(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor()
	return s
}

// Create registers a new session and returns it.
func (s *Store) Create(p NewParams) *Session {
	if p.TTL == 0 {
		p.TTL = s.ttl
	}
	sess := newSession(p)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("session created")
	return sess
}

// Get returns the session for an id, or nil if unknown or expired.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.Expired() {
		return nil
	}
	return sess
}

// AdoptInheritance records a credential source on the session, unless one is
// already set. Concurrent handlers share the same *Session, so the mutation
// happens under the store lock rather than on the struct directly.
func (s *Store) AdoptInheritance(id, projectID string, creds *model.CredentialSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.CredentialProjectID != "" {
		return
	}
	sess.CredentialProjectID = projectID
	sess.InheritedCredentials = creds
	s.logger.Info().Str("session_id", id).Str("credential_project", projectID).
		Msg("session adopted credential source")
}

// Delete ends a session. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if existed {
		s.logger.Info().Str("session_id", id).Msg("session ended")
	}
}

// Len returns the number of stored sessions, expired included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the janitor.
func (s *Store) Close() {
	s.stopped.Do(func() { close(s.stop) })
}

func (s *Store) janitor() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reap()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired() {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("reaped expired sessions")
	}
}
