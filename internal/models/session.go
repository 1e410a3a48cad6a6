package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a user's authenticated session, joined with the account
// fields and active organization needed to build tenant context. The raw
// bearer token is never stored; sessions are looked up by token hash only.
type Session struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`

	// TokenHash is the base58-encoded SHA-256 of the bearer token.
	TokenHash string `json:"token_hash"`

	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Optional audit metadata
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Denormalized account fields, joined at lookup time
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`

	// ActiveOrgID is the account's configured active organization.
	// Zero when the account has not selected one.
	ActiveOrgID uuid.UUID `json:"active_org_id,omitzero"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the session is expired relative to now.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RemainingLifetime returns how long the session is still valid for,
// relative to now. Returns zero for expired sessions.
func (s *Session) RemainingLifetime(now time.Time) time.Duration {
	remaining := s.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasActiveOrg returns true if the account has an active organization set.
func (s *Session) HasActiveOrg() bool {
	return s.ActiveOrgID != uuid.Nil
}
