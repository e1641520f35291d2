// Package users exposes the read-only view of application users that
// billing needs: a stable id, an email for the payment provider, and a
// display name.
package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meterline/billingd/pkg/apierrors"
)

// Profile is the billing-relevant slice of a user account
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Service provides user profile lookups
type Service interface {
	// GetProfile returns the user's profile. A missing user or a user
	// without an email yields a BAD_REQUEST error, since neither can be
	// attached to a payment provider customer.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// PostgresService implements Service against the application's users table
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// GetProfile returns the user's profile
func (s *PostgresService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT id, email, COALESCE(full_name, ''), created_at
		FROM users
		WHERE id = $1
	`
	p := &Profile{}
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.ID, &email, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.BadRequest("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	if !email.Valid || email.String == "" {
		return nil, apierrors.BadRequest("user has no email address")
	}
	p.Email = email.String
	return p, nil
}
