package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store persists billing records. The provider is authoritative; the
// store only caches the last reconciled projection per subject.
type Store interface {
	// Get returns the record for a subject, or nil when none exists
	Get(ctx context.Context, subject Subject) (*Record, error)

	// Upsert writes the record, inserting or overwriting the subject's
	// row, and refreshes CreatedAt/UpdatedAt from the database.
	Upsert(ctx context.Context, record *Record) error

	// ListTeamRecords returns all organization-scoped records, for
	// background reconciliation sweeps.
	ListTeamRecords(ctx context.Context) ([]*Record, error)

	// RecordEvent appends an audit event for a subject
	RecordEvent(ctx context.Context, subject Subject, eventType string, detail map[string]interface{}) error
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `user_id, org_id, stripe_customer_id, stripe_subscription_id,
		       plan_id, price_id, status, mode, cancel_at, current_period_end,
		       checkout_session_id, created_at, updated_at`

// Get returns the record for a subject, or nil when none exists
func (s *PostgresStore) Get(ctx context.Context, subject Subject) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM billing_records
		WHERE user_id = $1 AND org_id = $2
	`
	r := &Record{}
	err := s.db.QueryRowContext(ctx, query, subject.UserID, subject.OrgID).Scan(
		&r.UserID, &r.OrgID, &r.StripeCustomerID, &r.StripeSubscriptionID,
		&r.PlanID, &r.PriceID, &r.Status, &r.Mode, &r.CancelAt, &r.CurrentPeriodEnd,
		&r.CheckoutSessionID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return r, nil
}

// Upsert writes the record. The primary key on (user_id, org_id) makes
// concurrent writers last-write-wins, which is safe because every writer
// derives its state from the provider.
func (s *PostgresStore) Upsert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO billing_records (user_id, org_id, stripe_customer_id, stripe_subscription_id,
			plan_id, price_id, status, mode, cancel_at, current_period_end, checkout_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, org_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		    stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		    plan_id = EXCLUDED.plan_id,
		    price_id = EXCLUDED.price_id,
		    status = EXCLUDED.status,
		    mode = EXCLUDED.mode,
		    cancel_at = EXCLUDED.cancel_at,
		    current_period_end = EXCLUDED.current_period_end,
		    checkout_session_id = EXCLUDED.checkout_session_id,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		record.UserID, record.OrgID, record.StripeCustomerID, record.StripeSubscriptionID,
		record.PlanID, record.PriceID, record.Status, record.Mode,
		record.CancelAt, record.CurrentPeriodEnd, record.CheckoutSessionID,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert billing record: %w", err)
	}
	return nil
}

// ListTeamRecords returns all organization-scoped records
func (s *PostgresStore) ListTeamRecords(ctx context.Context) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM billing_records
		WHERE org_id <> ''
		ORDER BY org_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list team billing records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(
			&r.UserID, &r.OrgID, &r.StripeCustomerID, &r.StripeSubscriptionID,
			&r.PlanID, &r.PriceID, &r.Status, &r.Mode, &r.CancelAt, &r.CurrentPeriodEnd,
			&r.CheckoutSessionID, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan billing record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate billing records: %w", err)
	}
	return records, nil
}

// RecordEvent appends an audit event for a subject. Event failures do
// not roll back the state change they describe; callers decide whether
// to surface them.
func (s *PostgresStore) RecordEvent(ctx context.Context, subject Subject, eventType string, detail map[string]interface{}) error {
	detailJSON := []byte("{}")
	if len(detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to marshal event detail: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_events (user_id, org_id, event_type, detail)
		VALUES ($1, $2, $3, $4)
	`, subject.UserID, subject.OrgID, eventType, detailJSON)
	if err != nil {
		return fmt.Errorf("failed to record billing event: %w", err)
	}
	return nil
}
