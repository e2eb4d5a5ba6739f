package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/pressly/goose/v3"

	"fleetdesk/core/utils"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		roles TEXT NOT NULL DEFAULT '[]',
		area TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		roles TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_no TEXT UNIQUE NOT NULL,
		reporter_user_id INTEGER NOT NULL,
		area TEXT NOT NULL DEFAULT '',
		vehicle_id TEXT NOT NULL DEFAULT '',
		license_plate TEXT NOT NULL DEFAULT '',
		vin TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		weather TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		trip_ref TEXT NOT NULL DEFAULT '',
		drivable INTEGER NOT NULL DEFAULT 1,
		towed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'submitted',
		closed_at TIMESTAMP,
		closed_by INTEGER,
		ai_cost_bucket TEXT,
		ai_severity TEXT,
		ai_confidence TEXT,
		ai_components TEXT NOT NULL DEFAULT '[]',
		ai_repair_complexity TEXT NOT NULL DEFAULT '',
		ai_cost_range TEXT NOT NULL DEFAULT '',
		ai_notes TEXT NOT NULL DEFAULT '',
		ai_assessed_at TIMESTAMP,
		season_ordinal INTEGER NOT NULL DEFAULT 0,
		ld_review_status TEXT,
		ld_preventability TEXT NOT NULL DEFAULT '',
		ld_reviewed_by INTEGER,
		ld_reviewed_at TIMESTAMP,
		ld_comment TEXT NOT NULL DEFAULT '',
		ld_cost_override TEXT,
		draft_status TEXT NOT NULL DEFAULT 'pending',
		draft_generated_at TIMESTAMP,
		draft_json TEXT,
		edited_draft_json TEXT,
		final_email_json TEXT,
		sent_at TIMESTAMP,
		sent_by INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS incident_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		storage_path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		sha256_plain TEXT NOT NULL DEFAULT '',
		sha256_cipher TEXT NOT NULL DEFAULT '',
		uploaded_by INTEGER NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incident_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL,
		author_user_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incident_timeline (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incident_report_counters (
		year INTEGER PRIMARY KEY,
		seq INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_reporter ON incidents(reporter_user_id, occurred_at);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_files_incident ON incident_files(incident_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_comments_incident ON incident_comments(incident_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_timeline_incident ON incident_timeline(incident_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);`,
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	isPG, err := isPostgresDB(ctx, db)
	if err != nil {
		return err
	}
	if !isPG {
		if !isTestRuntime() {
			return fmt.Errorf("only postgres is supported outside go test runtime")
		}
		return applySQLiteTestMigrations(ctx, db, logger)
	}
	return applyGooseMigrations(ctx, db, logger)
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("applying postgres migrations")
	}
	return goose.UpContext(ctx, db, "migrations")
}

func applySQLiteTestMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite test migrations")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	return nil
}

func isPostgresDB(ctx context.Context, db *sql.DB) (bool, error) {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err == nil {
		return false, nil
	}
	if err := db.QueryRowContext(ctx, `SELECT version()`).Scan(&version); err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(version), "postgres"), nil
}

func isTestRuntime() bool {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") || strings.HasSuffix(arg, ".test") {
			return true
		}
	}
	return false
}
