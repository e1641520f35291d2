// Package auth resolves bearer session tokens to user identities.
// Sessions are created by the host application; billingd only reads
// them.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/meterline/billingd/pkg/apierrors"
)

// Session is an authenticated user session
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

// Store looks up sessions by token
type Store interface {
	// Lookup resolves a bearer token to a session. Unknown or expired
	// tokens yield an UNAUTHORIZED error.
	Lookup(ctx context.Context, token string) (*Session, error)
}

// PostgresStore implements Store against the application's sessions
// table. Tokens are stored hashed; the raw token never touches the
// database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// hashToken returns the hex SHA-256 of a raw token
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Lookup resolves a bearer token to a session
func (s *PostgresStore) Lookup(ctx context.Context, token string) (*Session, error) {
	query := `
		SELECT user_id, expires_at
		FROM sessions
		WHERE token_hash = $1
	`
	sess := &Session{}
	err := s.db.QueryRowContext(ctx, query, hashToken(token)).Scan(&sess.UserID, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.Unauthorized("invalid session token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, apierrors.Unauthorized("session expired")
	}
	return sess, nil
}
