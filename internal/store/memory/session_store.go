package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type SessionStore struct {
	mu sync.RWMutex

	sessions map[string]*models.Session // token_hash -> Session

	// getCalls counts GetByTokenHash invocations so tests can assert
	// cache-hit behavior (zero database reads).
	getCalls int

	// failGets forces GetByTokenHash to report the store unavailable.
	failGets bool
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.Session),
	}
}

// GetByTokenHash retrieves a session by hashed token.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++

	if s.failGets {
		return nil, store.ErrStoreUnavailable
	}

	session, exists := s.sessions[tokenHash]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	// Clone to avoid external modifications
	clone := *session
	return &clone, nil
}

// Create creates a new session in memory.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *session
	s.sessions[session.TokenHash] = &clone
	return nil
}

// Delete deletes a session by ID.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, session := range s.sessions {
		if session.ID == sessionID {
			delete(s.sessions, hash)
			return nil
		}
	}
	return store.ErrSessionNotFound
}

// DeleteByTokenHash deletes a session by hashed token.
func (s *SessionStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, tokenHash)
	return nil
}

// TouchLastActivity updates the last_activity_at timestamp for a session.
func (s *SessionStore) TouchLastActivity(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.ID == sessionID {
			session.LastActivityAt = time.Now()
			return nil
		}
	}
	return store.ErrSessionNotFound
}

// DeleteExpired deletes all expired sessions.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toDelete []string
	now := time.Now()

	for hash, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			toDelete = append(toDelete, hash)
		}
	}

	for _, hash := range toDelete {
		delete(s.sessions, hash)
	}

	return len(toDelete), nil
}

// ListRecentlyActive returns up to limit unexpired sessions whose last
// activity falls within the window, most recent first.
func (s *SessionStore) ListRecentlyActive(ctx context.Context, limit int, window time.Duration) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failGets {
		return nil, store.ErrStoreUnavailable
	}

	now := time.Now()
	cutoff := now.Add(-window)

	var sessions []*models.Session
	for _, session := range s.sessions {
		if session.IsExpiredAt(now) || session.LastActivityAt.Before(cutoff) {
			continue
		}
		clone := *session
		sessions = append(sessions, &clone)
	}

	// Most recent activity first
	for i := 0; i < len(sessions); i++ {
		for j := i + 1; j < len(sessions); j++ {
			if sessions[j].LastActivityAt.After(sessions[i].LastActivityAt) {
				sessions[i], sessions[j] = sessions[j], sessions[i]
			}
		}
	}

	if len(sessions) > limit {
		sessions = sessions[:limit]
	}

	return sessions, nil
}

// CountRecentlyActive counts sessions matching the ListRecentlyActive predicate.
func (s *SessionStore) CountRecentlyActive(ctx context.Context, window time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failGets {
		return 0, store.ErrStoreUnavailable
	}

	now := time.Now()
	cutoff := now.Add(-window)

	count := 0
	for _, session := range s.sessions {
		if session.IsExpiredAt(now) || session.LastActivityAt.Before(cutoff) {
			continue
		}
		count++
	}

	return count, nil
}

// GetCalls returns the number of GetByTokenHash calls observed.
func (s *SessionStore) GetCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getCalls
}

// FailGets makes subsequent reads report the store unavailable.
func (s *SessionStore) FailGets(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failGets = fail
}
