package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/labbooking/server/internal/model"
)

// SessionRepo defines the interface for session token operations
type SessionRepo interface {
	Create(ctx context.Context, session model.SessionToken) (model.SessionToken, error)
	FindActive(ctx context.Context, tokenHash string, userID uuid.UUID) (model.SessionToken, error)
	DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new active session token
func (r *sessionRepo) Create(ctx context.Context, s model.SessionToken) (model.SessionToken, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO session_tokens (user_id, token_hash, platform, issued_at, expires_at, request_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, s.UserID, s.TokenHash, s.Platform, s.IssuedAt, s.ExpiresAt, s.RequestIP, s.UserAgent).Scan(&s.ID)
	if err != nil {
		return model.SessionToken{}, fmt.Errorf("insert session token: %w", err)
	}
	s.IsActive = true
	return s, nil
}

// FindActive returns the active session for the token hash and owner. Expiry is
// left to the caller so an expired session can be reported as such.
func (r *sessionRepo) FindActive(ctx context.Context, tokenHash string, userID uuid.UUID) (model.SessionToken, error) {
	var s model.SessionToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, platform, issued_at, expires_at, is_active, request_ip, user_agent, deactivated_at
		FROM session_tokens
		WHERE token_hash = $1 AND user_id = $2 AND is_active
		ORDER BY issued_at DESC
		LIMIT 1
	`, tokenHash, userID).Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.Platform,
		&s.IssuedAt,
		&s.ExpiresAt,
		&s.IsActive,
		&s.RequestIP,
		&s.UserAgent,
		&s.DeactivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SessionToken{}, ErrNotFound
		}
		return model.SessionToken{}, fmt.Errorf("find session token: %w", err)
	}
	return s, nil
}

// DeactivateAllForUser flips every active session of the user to inactive and clears its hash
func (r *sessionRepo) DeactivateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE session_tokens
		SET is_active = FALSE, token_hash = '', deactivated_at = now()
		WHERE user_id = $1 AND is_active
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	return n, nil
}
