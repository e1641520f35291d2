// Package orgs exposes the read-only view of organizations that billing
// needs: membership roles for the owner gate and member counts for seat
// reconciliation.
package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meterline/billingd/pkg/apierrors"
)

// Member roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Organization is the billing-relevant slice of an organization
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Service provides organization lookups
type Service interface {
	// GetOrganization returns the organization, or a NOT_FOUND error
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)

	// MemberRole returns the user's role in the organization, or a
	// FORBIDDEN error when the user is not a member.
	MemberRole(ctx context.Context, orgID, userID string) (string, error)

	// MemberCount returns the number of members in the organization
	MemberCount(ctx context.Context, orgID string) (int64, error)
}

// PostgresService implements Service against the application's
// organizations tables.
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// GetOrganization returns the organization
func (s *PostgresService) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	query := `
		SELECT id, name, created_at
		FROM organizations
		WHERE id = $1
	`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// MemberRole returns the user's role in the organization
func (s *PostgresService) MemberRole(ctx context.Context, orgID, userID string) (string, error) {
	query := `
		SELECT role
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`
	var role string
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", apierrors.Forbidden("not a member of this organization")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return role, nil
}

// MemberCount returns the number of members in the organization
func (s *PostgresService) MemberCount(ctx context.Context, orgID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM organization_members
		WHERE organization_id = $1
	`
	var count int64
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}
