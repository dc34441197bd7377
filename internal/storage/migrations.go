package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions, groups, receipts and matches",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS transaction_groups (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					name TEXT NOT NULL,
					display_date TEXT NOT NULL,
					combined_amount TEXT NOT NULL,
					match_flag TEXT NOT NULL DEFAULT 'unmatched',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_groups_user_date ON transaction_groups(user_id, display_date)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					date TEXT NOT NULL,
					amount TEXT NOT NULL,
					description TEXT NOT NULL,
					account_id TEXT NOT NULL DEFAULT '',
					group_id TEXT REFERENCES transaction_groups(id),
					match_flag TEXT NOT NULL DEFAULT 'unmatched',
					imported_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_transactions_user_date ON transactions(user_id, date)`,
				`CREATE INDEX idx_transactions_group ON transactions(group_id)`,

				`CREATE TABLE IF NOT EXISTS receipts (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					file_name TEXT NOT NULL DEFAULT '',
					vendor_name TEXT NOT NULL DEFAULT '',
					transaction_date TEXT,
					total_amount TEXT,
					extraction TEXT NOT NULL,
					match_flag TEXT NOT NULL DEFAULT 'unmatched',
					uploaded_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_receipts_user ON receipts(user_id, match_flag)`,

				`CREATE TABLE IF NOT EXISTS matches (
					id TEXT PRIMARY KEY,
					receipt_id TEXT NOT NULL REFERENCES receipts(id),
					target_kind TEXT NOT NULL CHECK (target_kind IN ('transaction', 'group')),
					target_id TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('proposed', 'confirmed', 'rejected')),
					amount_score REAL NOT NULL,
					date_score REAL NOT NULL,
					vendor_score REAL NOT NULL,
					overall_score REAL NOT NULL,
					is_manual INTEGER NOT NULL DEFAULT 0,
					vendor_alias_id TEXT,
					confirmed_by TEXT NOT NULL DEFAULT '',
					confirmed_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE (receipt_id, target_kind, target_id)
				)`,
				`CREATE INDEX idx_matches_target ON matches(target_kind, target_id)`,
				// At most one confirmed match per receipt and per target.
				`CREATE UNIQUE INDEX ux_matches_confirmed_receipt ON matches(receipt_id) WHERE status = 'confirmed'`,
				`CREATE UNIQUE INDEX ux_matches_confirmed_target ON matches(target_kind, target_id) WHERE status = 'confirmed'`,
			)
		},
	},
	{
		Version:     2,
		Description: "Vendor aliases, description cache, embeddings and expense patterns",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS vendor_aliases (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					pattern TEXT NOT NULL,
					canonical_name TEXT NOT NULL,
					default_gl_code TEXT NOT NULL DEFAULT '',
					default_department TEXT NOT NULL DEFAULT '',
					match_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					UNIQUE (user_id, pattern)
				)`,

				`CREATE TABLE IF NOT EXISTS description_cache (
					user_id TEXT NOT NULL,
					normalized_description TEXT NOT NULL,
					gl_code TEXT NOT NULL DEFAULT '',
					department TEXT NOT NULL DEFAULT '',
					hit_count INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (user_id, normalized_description)
				)`,

				`CREATE TABLE IF NOT EXISTS embeddings (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					text TEXT NOT NULL,
					gl_code TEXT NOT NULL DEFAULT '',
					department TEXT NOT NULL DEFAULT '',
					vector BLOB NOT NULL,
					verified INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_embeddings_user_verified ON embeddings(user_id, verified)`,

				`CREATE TABLE IF NOT EXISTS expense_patterns (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					normalized_vendor TEXT NOT NULL,
					min_amount TEXT NOT NULL,
					average_amount TEXT NOT NULL,
					max_amount TEXT NOT NULL,
					default_gl_code TEXT NOT NULL DEFAULT '',
					default_department TEXT NOT NULL DEFAULT '',
					occurrence_count INTEGER NOT NULL DEFAULT 0,
					confirm_count INTEGER NOT NULL DEFAULT 0,
					reject_count INTEGER NOT NULL DEFAULT 0,
					is_suppressed INTEGER NOT NULL DEFAULT 0,
					last_seen_at DATETIME NOT NULL,
					UNIQUE (user_id, normalized_vendor)
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Expense reports, expense lines and report generation jobs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS expense_reports (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					job_id TEXT NOT NULL DEFAULT '',
					period TEXT NOT NULL,
					status TEXT NOT NULL,
					total_amount TEXT NOT NULL,
					line_count INTEGER NOT NULL,
					missing_receipt_count INTEGER NOT NULL,
					needs_review_count INTEGER NOT NULL,
					failed_line_count INTEGER NOT NULL,
					tier1_hits INTEGER NOT NULL DEFAULT 0,
					tier2_hits INTEGER NOT NULL DEFAULT 0,
					tier3_hits INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_reports_user_period ON expense_reports(user_id, period)`,

				`CREATE TABLE IF NOT EXISTS expense_lines (
					id TEXT PRIMARY KEY,
					report_id TEXT NOT NULL REFERENCES expense_reports(id),
					line_number INTEGER NOT NULL,
					transaction_id TEXT NOT NULL DEFAULT '',
					group_id TEXT NOT NULL DEFAULT '',
					receipt_id TEXT NOT NULL DEFAULT '',
					match_id TEXT NOT NULL DEFAULT '',
					transaction_date TEXT NOT NULL,
					receipt_date TEXT,
					amount TEXT NOT NULL,
					vendor TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					normalized_description TEXT NOT NULL DEFAULT '',
					gl_code TEXT NOT NULL DEFAULT '',
					suggested_gl_code TEXT NOT NULL DEFAULT '',
					gl_source TEXT NOT NULL DEFAULT '',
					gl_tier INTEGER NOT NULL DEFAULT 0,
					department_code TEXT NOT NULL DEFAULT '',
					suggested_department TEXT NOT NULL DEFAULT '',
					department_source TEXT NOT NULL DEFAULT '',
					department_tier INTEGER NOT NULL DEFAULT 0,
					has_receipt INTEGER NOT NULL DEFAULT 0,
					justification TEXT NOT NULL DEFAULT '',
					auto_suggested INTEGER NOT NULL DEFAULT 0,
					prediction_id TEXT NOT NULL DEFAULT '',
					needs_review INTEGER NOT NULL DEFAULT 0,
					processing_failed INTEGER NOT NULL DEFAULT 0,
					UNIQUE (report_id, line_number)
				)`,

				`CREATE TABLE IF NOT EXISTS report_jobs (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					period TEXT NOT NULL,
					status TEXT NOT NULL,
					total_lines INTEGER NOT NULL DEFAULT 0,
					processed_lines INTEGER NOT NULL DEFAULT 0,
					failed_lines INTEGER NOT NULL DEFAULT 0,
					report_id TEXT,
					error_message TEXT NOT NULL DEFAULT '',
					error_details TEXT NOT NULL DEFAULT '',
					estimated_completion DATETIME,
					started_at DATETIME,
					completed_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_report_jobs_status ON report_jobs(status, created_at)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate runs all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the current schema version of the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
