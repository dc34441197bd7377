package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

// GetDescriptionCache looks up the codes recorded for a normalized description.
func (s *SQLiteStorage) GetDescriptionCache(ctx context.Context, userID, normalizedDescription string) (*model.DescriptionCacheEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(normalizedDescription, "normalizedDescription"); err != nil {
		return nil, err
	}

	var entry model.DescriptionCacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, normalized_description, gl_code, department, hit_count, updated_at
		FROM description_cache
		WHERE user_id = ? AND normalized_description = ?
	`, userID, normalizedDescription).Scan(
		&entry.UserID,
		&entry.NormalizedDescription,
		&entry.GLCode,
		&entry.Department,
		&entry.HitCount,
		&entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("description cache entry", normalizedDescription)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get description cache entry: %w", err)
	}
	return &entry, nil
}

// SaveDescriptionCache records codes for a normalized description. Saving an
// existing description overwrites its codes and bumps the hit count.
func (s *SQLiteStorage) SaveDescriptionCache(ctx context.Context, entry *model.DescriptionCacheEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.UserID, "entry.UserID"); err != nil {
		return err
	}
	if err := validateString(entry.NormalizedDescription, "entry.NormalizedDescription"); err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO description_cache (user_id, normalized_description, gl_code, department, hit_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, normalized_description) DO UPDATE SET
			gl_code = excluded.gl_code,
			department = excluded.department,
			hit_count = description_cache.hit_count + 1,
			updated_at = excluded.updated_at
	`, entry.UserID, entry.NormalizedDescription, entry.GLCode, entry.Department, entry.HitCount, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save description cache entry: %w", err)
	}
	return nil
}
