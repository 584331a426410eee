package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists sessions in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new session store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create opens a new session for a user and returns the one-time plaintext
// token. createdBy is required for preview sessions and must be nil otherwise.
func (s *Store) Create(ctx context.Context, userID int64, kind SessionKind, createdBy *int64, ttl time.Duration) (string, *Session, error) {
	if kind == KindPreview && createdBy == nil {
		return "", nil, fmt.Errorf("preview sessions require an operator")
	}
	if kind == KindSession && createdBy != nil {
		return "", nil, fmt.Errorf("regular sessions carry no operator")
	}

	token, tokenHash, tokenPrefix, err := GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session := &Session{
		UserID:      userID,
		Kind:        kind,
		CreatedBy:   createdBy,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		ExpiresAt:   time.Now().Add(ttl).UTC(),
	}

	query := `
		INSERT INTO sessions (user_id, kind, created_by, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = s.db.QueryRowContext(ctx, query,
		session.UserID, session.Kind, session.CreatedBy,
		session.TokenHash, session.TokenPrefix, session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	return token, session, nil
}

// Resolve looks up a live session by its plaintext token. Expired and revoked
// sessions resolve to nil, indistinguishable from unknown tokens.
func (s *Store) Resolve(ctx context.Context, token string) (*Session, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, nil
	}

	query := `
		SELECT id, user_id, kind, created_by, token_hash, token_prefix,
		       expires_at, revoked_at, created_at, last_seen_at
		FROM sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`
	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, HashToken(token)).Scan(
		&session.ID, &session.UserID, &session.Kind, &session.CreatedBy,
		&session.TokenHash, &session.TokenPrefix,
		&session.ExpiresAt, &session.RevokedAt, &session.CreatedAt, &session.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	return session, nil
}

// TouchLastSeen updates the session's last-seen timestamp, best-effort
func (s *Store) TouchLastSeen(ctx context.Context, sessionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = NOW() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Revoke marks a session revoked by its plaintext token
func (s *Store) Revoke(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`,
		HashToken(token))
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found or already revoked")
	}
	return nil
}

// RevokeByID marks a session revoked by its ID, for callers holding the
// resolved session rather than the plaintext token.
func (s *Store) RevokeByID(ctx context.Context, sessionID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found or already revoked")
	}
	return nil
}

// RevokeAllForUser revokes every live session of one user, e.g. after a
// cascading user delete or a forced sign-out.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes sessions past their expiry; run from the cron sweep
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
