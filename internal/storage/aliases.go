package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

const aliasCacheTTL = 5 * time.Minute

// SaveVendorAlias inserts or updates a vendor alias keyed by user and pattern.
func (s *SQLiteStorage) SaveVendorAlias(ctx context.Context, alias *model.VendorAlias) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlias(alias); err != nil {
		return err
	}
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_aliases (id, user_id, pattern, canonical_name, default_gl_code, default_department, match_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, pattern) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			default_gl_code = excluded.default_gl_code,
			default_department = excluded.default_department,
			match_count = excluded.match_count
	`, alias.ID, alias.UserID, alias.Pattern, alias.CanonicalName, alias.DefaultGLCode,
		alias.DefaultDepartment, alias.MatchCount, alias.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save vendor alias: %w", err)
	}

	s.invalidateAliases(alias.UserID)
	return nil
}

// ListVendorAliases returns a user's aliases ordered by pattern.
func (s *SQLiteStorage) ListVendorAliases(ctx context.Context, userID string) ([]model.VendorAlias, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	if aliases, ok := s.getCachedAliases(userID); ok {
		return aliases, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, pattern, canonical_name, default_gl_code, default_department, match_count, created_at
		FROM vendor_aliases
		WHERE user_id = ?
		ORDER BY pattern, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var aliases []model.VendorAlias
	for rows.Next() {
		var alias model.VendorAlias
		if err := rows.Scan(&alias.ID, &alias.UserID, &alias.Pattern, &alias.CanonicalName,
			&alias.DefaultGLCode, &alias.DefaultDepartment, &alias.MatchCount, &alias.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vendor alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vendor aliases: %w", err)
	}

	s.cacheAliases(userID, aliases)
	return copyAliases(aliases), nil
}

// DeleteVendorAlias removes an alias by ID.
func (s *SQLiteStorage) DeleteVendorAlias(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	var userID string
	if err := s.db.QueryRowContext(ctx, `SELECT user_id FROM vendor_aliases WHERE id = ?`, id).Scan(&userID); err != nil {
		return notFound("vendor alias", id)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM vendor_aliases WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete vendor alias: %w", err)
	}

	s.invalidateAliases(userID)
	return nil
}

// getCachedAliases returns a copy of the cached aliases for a user.
func (s *SQLiteStorage) getCachedAliases(userID string) ([]model.VendorAlias, bool) {
	s.cacheMutex.RLock()

	if time.Now().After(s.cacheExpiry) {
		s.cacheMutex.RUnlock()
		s.cacheMutex.Lock()
		defer s.cacheMutex.Unlock()

		// Double-check after acquiring write lock
		if time.Now().After(s.cacheExpiry) {
			s.aliasCache = make(map[string][]model.VendorAlias)
		}
		return nil, false
	}

	aliases, ok := s.aliasCache[userID]
	s.cacheMutex.RUnlock()
	if !ok {
		return nil, false
	}
	return copyAliases(aliases), true
}

func (s *SQLiteStorage) cacheAliases(userID string, aliases []model.VendorAlias) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	if len(s.aliasCache) == 0 {
		s.cacheExpiry = time.Now().Add(aliasCacheTTL)
	}
	s.aliasCache[userID] = copyAliases(aliases)
}

func (s *SQLiteStorage) invalidateAliases(userID string) {
	s.cacheMutex.Lock()
	delete(s.aliasCache, userID)
	s.cacheMutex.Unlock()
}

func copyAliases(aliases []model.VendorAlias) []model.VendorAlias {
	if aliases == nil {
		return nil
	}
	out := make([]model.VendorAlias, len(aliases))
	copy(out, aliases)
	return out
}
