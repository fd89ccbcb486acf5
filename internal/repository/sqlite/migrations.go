package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS progress_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		date TIMESTAMP NOT NULL,
		day TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		backend_id TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	)`,
	// One row per (user, metric, local calendar day). The write path
	// upholds this by construction; the index turns any regression into
	// a loud constraint error instead of silent duplicate rows.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_progress_user_metric_day
		ON progress_entries (user_id, metric_type, day)`,
	`CREATE INDEX IF NOT EXISTS idx_progress_user_type_date
		ON progress_entries (user_id, metric_type, date)`,

	`CREATE TABLE IF NOT EXISTS mood_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		backend_id TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mood_user_date ON mood_entries (user_id, date)`,

	`CREATE TABLE IF NOT EXISTS workouts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		duration_min INTEGER NOT NULL,
		calories_burned REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'manual',
		date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		backend_id TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workouts_user_date ON workouts (user_id, date)`,

	`CREATE TABLE IF NOT EXISTS meals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		meal_type TEXT NOT NULL,
		calories REAL NOT NULL DEFAULT 0,
		protein_g REAL NOT NULL DEFAULT 0,
		carbs_g REAL NOT NULL DEFAULT 0,
		fat_g REAL NOT NULL DEFAULT 0,
		logged_via TEXT NOT NULL DEFAULT 'manual',
		date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		backend_id TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meals_user_date ON meals (user_id, date)`,

	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		last_attempt_at TIMESTAMP,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		error_message TEXT,
		completed_at TIMESTAMP,
		retry_at TIMESTAMP,
		metadata TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		is_new_record INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_user_status_priority
		ON outbox_events (user_id, status, priority, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox_events (entity_id, status)`,
}

// Migrate applies the schema. Statements are idempotent so startup can
// run them unconditionally.
func Migrate(db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
