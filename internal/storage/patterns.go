package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

// SaveExpensePattern inserts or updates a learned pattern keyed by user and vendor.
func (s *SQLiteStorage) SaveExpensePattern(ctx context.Context, pattern *model.ExpensePattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if pattern == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	if err := validateString(pattern.ID, "pattern.ID"); err != nil {
		return err
	}
	if err := validateString(pattern.UserID, "pattern.UserID"); err != nil {
		return err
	}
	if err := validateString(pattern.NormalizedVendor, "pattern.NormalizedVendor"); err != nil {
		return err
	}
	if pattern.LastSeenAt.IsZero() {
		pattern.LastSeenAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expense_patterns (
			id, user_id, normalized_vendor, min_amount, average_amount, max_amount,
			default_gl_code, default_department, occurrence_count, confirm_count,
			reject_count, is_suppressed, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, normalized_vendor) DO UPDATE SET
			min_amount = excluded.min_amount,
			average_amount = excluded.average_amount,
			max_amount = excluded.max_amount,
			default_gl_code = excluded.default_gl_code,
			default_department = excluded.default_department,
			occurrence_count = excluded.occurrence_count,
			confirm_count = excluded.confirm_count,
			reject_count = excluded.reject_count,
			is_suppressed = excluded.is_suppressed,
			last_seen_at = excluded.last_seen_at
	`, pattern.ID, pattern.UserID, pattern.NormalizedVendor, pattern.MinAmount, pattern.AverageAmount,
		pattern.MaxAmount, pattern.DefaultGLCode, pattern.DefaultDepartment, pattern.OccurrenceCount,
		pattern.ConfirmCount, pattern.RejectCount, boolToInt(pattern.IsSuppressed), pattern.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to save expense pattern: %w", err)
	}
	return nil
}

// ListExpensePatterns returns a user's patterns ordered by vendor.
func (s *SQLiteStorage) ListExpensePatterns(ctx context.Context, userID string) ([]model.ExpensePattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, normalized_vendor, min_amount, average_amount, max_amount,
			default_gl_code, default_department, occurrence_count, confirm_count,
			reject_count, is_suppressed, last_seen_at
		FROM expense_patterns
		WHERE user_id = ?
		ORDER BY normalized_vendor, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expense patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.ExpensePattern
	for rows.Next() {
		var (
			p          model.ExpensePattern
			suppressed int
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.NormalizedVendor, &p.MinAmount, &p.AverageAmount,
			&p.MaxAmount, &p.DefaultGLCode, &p.DefaultDepartment, &p.OccurrenceCount,
			&p.ConfirmCount, &p.RejectCount, &suppressed, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense pattern: %w", err)
		}
		p.IsSuppressed = suppressed != 0
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
