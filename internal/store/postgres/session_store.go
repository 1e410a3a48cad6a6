package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// sessionColumns is the select list shared by lookup queries. Sessions are
// joined with the owning account so one round trip yields everything needed
// to build tenant context.
const sessionColumns = `
	s.id, s.account_id, s.token_hash,
	s.created_at, s.expires_at, s.last_activity_at,
	s.ip_address, s.user_agent,
	a.email, a.first_name, a.last_name, a.username,
	a.active_org_id
`

// activeAccountFilter excludes sessions owned by deleted or banned accounts.
const activeAccountFilter = `a.deleted_at IS NULL AND a.banned_at IS NULL`

// GetByTokenHash retrieves a session by hashed bearer token, joined with
// account fields. Expiry is checked here as well as by the caller so a stale
// cache entry can never resurrect an expired row.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.token_hash = $1 AND ` + activeAccountFilter

	session, err := scanSession(s.pool.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError(err)
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return session, nil
}

// Create inserts a new session row (sign-in).
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			id, account_id, token_hash,
			created_at, expires_at, last_activity_at,
			ip_address, user_agent
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::inet, $8
		)
	`

	// Convert empty IP address to nil for proper INET handling
	var ipAddress any
	if session.IPAddress != "" {
		ipAddress = session.IPAddress
	}

	_, err := s.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastActivityAt,
		ipAddress,
		session.UserAgent,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("session_id", session.ID.String()).
		Str("account_id", session.UserID.String()).
		Msg("Created session")

	return nil
}

// Delete deletes a session by ID (sign-out or revoke).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Msg("Deleted session")

	return nil
}

// DeleteByTokenHash deletes a session by hashed token. Used to opportunistically
// remove confirmed-expired rows; a missing row is not an error.
func (s *SessionStore) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	query := `DELETE FROM sessions WHERE token_hash = $1`

	_, err := s.pool.Exec(ctx, query, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete session by token hash: %w", mapPostgresError(err))
	}

	return nil
}

// TouchLastActivity updates the last_activity_at timestamp for a session.
func (s *SessionStore) TouchLastActivity(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		UPDATE sessions
		SET last_activity_at = $2
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update session last_activity_at: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	result, err := s.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deleted expired sessions")
	}

	return count, nil
}

// ListRecentlyActive returns up to limit unexpired sessions for active
// accounts whose last activity falls within the window, most recent first.
func (s *SessionStore) ListRecentlyActive(ctx context.Context, limit int, window time.Duration) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.expires_at > $1
		  AND s.last_activity_at > $2
		  AND ` + activeAccountFilter + `
		ORDER BY s.last_activity_at DESC
		LIMIT $3
	`

	now := time.Now()
	rows, err := s.pool.Query(ctx, query, now, now.Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recently active sessions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session rows: %w", mapPostgresError(err))
	}

	return sessions, nil
}

// CountRecentlyActive counts the sessions ListRecentlyActive would consider,
// using the same filter predicate.
func (s *SessionStore) CountRecentlyActive(ctx context.Context, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.expires_at > $1
		  AND s.last_activity_at > $2
		  AND ` + activeAccountFilter

	now := time.Now()

	var count int
	err := s.pool.QueryRow(ctx, query, now, now.Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recently active sessions: %w", mapPostgresError(err))
	}

	return count, nil
}

// scanSession scans one joined session row.
func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	var ipAddress any
	var firstName, lastName, username *string
	var activeOrgID *uuid.UUID

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LastActivityAt,
		&ipAddress,
		&session.UserAgent,
		&session.Email,
		&firstName,
		&lastName,
		&username,
		&activeOrgID,
	)
	if err != nil {
		return nil, err
	}

	// Convert INET to string
	if ipAddress != nil {
		session.IPAddress = fmt.Sprintf("%v", ipAddress)
	}
	if firstName != nil {
		session.FirstName = *firstName
	}
	if lastName != nil {
		session.LastName = *lastName
	}
	if username != nil {
		session.Username = *username
	}
	if activeOrgID != nil {
		session.ActiveOrgID = *activeOrgID
	}

	return &session, nil
}
