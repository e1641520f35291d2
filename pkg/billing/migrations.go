package billing

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all billing migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create billing_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_records (
					user_id TEXT NOT NULL,
					org_id TEXT NOT NULL DEFAULT '',
					stripe_customer_id TEXT NOT NULL DEFAULT '',
					stripe_subscription_id TEXT NOT NULL DEFAULT '',
					plan_id TEXT NOT NULL DEFAULT '',
					price_id TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'inactive',
					mode TEXT NOT NULL DEFAULT '',
					cancel_at TIMESTAMPTZ,
					current_period_end TIMESTAMPTZ,
					checkout_session_id TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, org_id)
				);

				CREATE INDEX idx_billing_records_customer ON billing_records(stripe_customer_id);
				CREATE INDEX idx_billing_records_org ON billing_records(org_id) WHERE org_id <> '';
			`,
		},
		{
			Version:     2,
			Description: "Create billing_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_events (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL,
					org_id TEXT NOT NULL DEFAULT '',
					event_type TEXT NOT NULL,
					detail JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_billing_events_subject ON billing_events(user_id, org_id);
				CREATE INDEX idx_billing_events_created_at ON billing_events(created_at);
			`,
		},
	}
}

// RunMigrations executes all pending billing migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS billing_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM billing_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO billing_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
