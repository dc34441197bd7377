package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
)

const matchColumns = `id, receipt_id, target_kind, target_id, status, amount_score, date_score, vendor_score,
	overall_score, is_manual, vendor_alias_id, confirmed_by, confirmed_at, created_at, updated_at`

// SaveProposals stores proposed matches, skipping receipt/target pairs that
// already have a match record and transactions that now belong to a group.
// It returns the matches actually inserted.
func (s *SQLiteStorage) SaveProposals(ctx context.Context, matches []model.Match) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	for i := range matches {
		if err := validateMatch(&matches[i]); err != nil {
			return nil, err
		}
		if matches[i].Status != model.MatchProposed {
			return nil, fmt.Errorf("%w: proposals must have status %q", ErrInvalidMatch, model.MatchProposed)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var inserted []model.Match
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, match := range matches {
			if err := s.checkTargetExists(ctx, tx, match.Target); err != nil {
				if errors.Is(err, ErrInvalidMatch) {
					slog.Debug("Skipping proposal for grouped transaction",
						"receipt_id", match.ReceiptID, "transaction_id", match.Target.TargetID())
					continue
				}
				return err
			}
			stampMatch(&match)
			result, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO matches (`+matchColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, matchArgs(&match)...)
			if err != nil {
				return fmt.Errorf("failed to insert match proposal: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				continue
			}
			inserted = append(inserted, match)

			if err := refreshFlags(ctx, tx, match.ReceiptID, match.Target); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetMatch retrieves a match by ID.
func (s *SQLiteStorage) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getMatchTx(ctx, s.db, id)
}

func getMatchTx(ctx context.Context, q queryable, id string) (*model.Match, error) {
	row := q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	match, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("match", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// ListMatchesByReceipt returns every match for a receipt, best overall score first.
func (s *SQLiteStorage) ListMatchesByReceipt(ctx context.Context, receiptID string) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(receiptID, "receiptID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE receipt_id = ?
		ORDER BY overall_score DESC, created_at, id
	`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	return scanMatches(rows)
}

// ConfirmMatch transitions a proposed match to confirmed. The target and
// conflict checks run inside the write transaction, and the partial unique
// indexes reject any confirmation that slips past them. A transaction that
// has since joined a group can only be claimed through that group.
func (s *SQLiteStorage) ConfirmMatch(ctx context.Context, id, actorID string, at time.Time) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var confirmed *model.Match
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		match, err := getMatchTx(ctx, tx, id)
		if err != nil {
			return err
		}

		switch match.Status {
		case model.MatchConfirmed:
			return fmt.Errorf("match %s is already confirmed: %w", id, common.ErrMatchConflict)
		case model.MatchRejected:
			return fmt.Errorf("cannot confirm rejected match %s: %w", id, common.ErrInvalidTransition)
		}

		if err := s.checkTargetExists(ctx, tx, match.Target); err != nil {
			return err
		}
		if err := checkConfirmConflict(ctx, tx, match.ReceiptID, match.Target); err != nil {
			return err
		}

		at = at.UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE matches
			SET status = ?, confirmed_by = ?, confirmed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(model.MatchConfirmed), actorID, at, at, id, string(model.MatchProposed))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("match %s: %w", id, common.ErrMatchConflict)
			}
			return fmt.Errorf("failed to confirm match: %w", err)
		}

		match.Status = model.MatchConfirmed
		match.ConfirmedBy = actorID
		match.ConfirmedAt = &at
		match.UpdatedAt = at
		confirmed = match

		return refreshFlags(ctx, tx, match.ReceiptID, match.Target)
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// RejectMatch transitions a proposed match to rejected. The record is kept.
func (s *SQLiteStorage) RejectMatch(ctx context.Context, id string, at time.Time) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var rejected *model.Match
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		match, err := getMatchTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if match.Status != model.MatchProposed {
			return fmt.Errorf("cannot reject %s match %s: %w", match.Status, id, common.ErrInvalidTransition)
		}

		at = at.UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE matches SET status = ?, updated_at = ? WHERE id = ?`,
			string(model.MatchRejected), at, id); err != nil {
			return fmt.Errorf("failed to reject match: %w", err)
		}

		match.Status = model.MatchRejected
		match.UpdatedAt = at
		rejected = match

		return refreshFlags(ctx, tx, match.ReceiptID, match.Target)
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// SaveManualMatch stores a user-created confirmed match. An existing proposal
// for the same pair is upgraded in place and its ID is copied into match.
func (s *SQLiteStorage) SaveManualMatch(ctx context.Context, match *model.Match) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatch(match); err != nil {
		return err
	}
	if match.Status != model.MatchConfirmed {
		return fmt.Errorf("%w: manual matches must be confirmed", ErrInvalidMatch)
	}
	match.IsManual = true
	stampMatch(match)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getReceiptTx(ctx, tx, match.ReceiptID); err != nil {
			return err
		}
		if err := s.checkTargetExists(ctx, tx, match.Target); err != nil {
			return err
		}
		if err := checkConfirmConflict(ctx, tx, match.ReceiptID, match.Target); err != nil {
			return err
		}

		var existingID string
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT id, created_at FROM matches WHERE receipt_id = ? AND target_kind = ? AND target_id = ?
		`, match.ReceiptID, string(match.Target.Kind()), match.Target.TargetID()).Scan(&existingID, &createdAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO matches (`+matchColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, matchArgs(match)...)
		case err != nil:
			return fmt.Errorf("failed to look up existing match: %w", err)
		default:
			match.ID = existingID
			match.CreatedAt = createdAt
			_, err = tx.ExecContext(ctx, `
				UPDATE matches
				SET status = ?, amount_score = ?, date_score = ?, vendor_score = ?, overall_score = ?,
					is_manual = 1, vendor_alias_id = ?, confirmed_by = ?, confirmed_at = ?, updated_at = ?
				WHERE id = ?
			`, string(match.Status), match.Scores.Amount, match.Scores.Date, match.Scores.Vendor,
				match.Scores.Overall, stringOrNull(match.VendorAliasID), match.ConfirmedBy,
				nullTime(match.ConfirmedAt), match.UpdatedAt, existingID)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("receipt %s: %w", match.ReceiptID, common.ErrMatchConflict)
			}
			return fmt.Errorf("failed to save manual match: %w", err)
		}

		return refreshFlags(ctx, tx, match.ReceiptID, match.Target)
	})
}

// DeleteMatch removes a match at the user's request and re-derives the
// match flags of its receipt and target.
func (s *SQLiteStorage) DeleteMatch(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		match, err := getMatchTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete match: %w", err)
		}
		return refreshFlags(ctx, tx, match.ReceiptID, match.Target)
	})
}

// ConfirmedMatchesInPeriod returns confirmed matches whose transaction or group
// date falls in the period, ordered by that date, then creation time, then ID.
func (s *SQLiteStorage) ConfirmedMatchesInPeriod(ctx context.Context, userID string, period model.Period) ([]model.ConfirmedMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	start, end := formatDate(period.Start()), formatDate(period.End())
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id AS id, t.date AS target_date, m.created_at AS created_at
		FROM matches m
		JOIN transactions t ON m.target_kind = 'transaction' AND t.id = m.target_id
		WHERE m.status = 'confirmed' AND t.user_id = ? AND t.date >= ? AND t.date < ?
		UNION ALL
		SELECT m.id AS id, g.display_date AS target_date, m.created_at AS created_at
		FROM matches m
		JOIN transaction_groups g ON m.target_kind = 'group' AND g.id = m.target_id
		WHERE m.status = 'confirmed' AND g.user_id = ? AND g.display_date >= ? AND g.display_date < ?
		ORDER BY target_date, created_at, id
	`, userID, start, end, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmed matches: %w", err)
	}

	var ids []string
	for rows.Next() {
		var (
			id         string
			targetDate string
			createdAt  any // compound selects carry no column type
		)
		if err := rows.Scan(&id, &targetDate, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan confirmed match: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate confirmed matches: %w", err)
	}
	_ = rows.Close()

	result := make([]model.ConfirmedMatch, 0, len(ids))
	for _, id := range ids {
		cm, err := s.loadConfirmedMatch(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *cm)
	}
	return result, nil
}

func (s *SQLiteStorage) loadConfirmedMatch(ctx context.Context, id string) (*model.ConfirmedMatch, error) {
	match, err := getMatchTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	receipt, err := s.getReceiptTx(ctx, s.db, match.ReceiptID)
	if err != nil {
		return nil, err
	}

	cm := &model.ConfirmedMatch{Match: *match, Receipt: *receipt}
	switch target := match.Target.(type) {
	case model.TransactionTarget:
		txn, err := s.getTransactionTx(ctx, s.db, target.TransactionID)
		if err != nil {
			return nil, err
		}
		cm.Candidate = model.CandidateFromTransaction(*txn)
		cm.MemberIDs = []string{txn.ID}
	case model.GroupTarget:
		group, err := s.getGroupTx(ctx, s.db, target.GroupID)
		if err != nil {
			return nil, err
		}
		cm.Candidate = model.CandidateFromGroup(*group)
		cm.MemberIDs = group.TransactionIDs
	}
	return cm, nil
}

// checkConfirmConflict fails with common.ErrMatchConflict when the receipt or
// target already has a confirmed match.
func checkConfirmConflict(ctx context.Context, q queryable, receiptID string, target model.MatchTarget) error {
	var existing string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM matches
		WHERE status = 'confirmed' AND (receipt_id = ? OR (target_kind = ? AND target_id = ?))
		LIMIT 1
	`, receiptID, string(target.Kind()), target.TargetID()).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check confirmed matches: %w", err)
	}
	return fmt.Errorf("confirmed match %s already claims receipt %s or %s %s: %w",
		existing, receiptID, target.Kind(), target.TargetID(), common.ErrMatchConflict)
}

func (s *SQLiteStorage) checkTargetExists(ctx context.Context, q queryable, target model.MatchTarget) error {
	switch t := target.(type) {
	case model.TransactionTarget:
		txn, err := s.getTransactionTx(ctx, q, t.TransactionID)
		if err != nil {
			return err
		}
		if txn.GroupID != nil {
			return fmt.Errorf("%w: transaction %s belongs to group %s", ErrInvalidMatch, txn.ID, *txn.GroupID)
		}
	case model.GroupTarget:
		if _, err := s.getGroupTx(ctx, q, t.GroupID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown target type %T", ErrInvalidMatch, target)
	}
	return nil
}

// refreshFlags derives the match flags of a receipt and a target from their
// live (non-rejected) match records.
func refreshFlags(ctx context.Context, tx *sql.Tx, receiptID string, target model.MatchTarget) error {
	receiptFlag, err := deriveFlag(ctx, tx, `receipt_id = ?`, receiptID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE receipts SET match_flag = ? WHERE id = ?`, string(receiptFlag), receiptID); err != nil {
		return fmt.Errorf("failed to update receipt flag: %w", err)
	}

	targetFlag, err := deriveFlag(ctx, tx, `target_kind = ? AND target_id = ?`, string(target.Kind()), target.TargetID())
	if err != nil {
		return err
	}

	switch target.Kind() {
	case model.TargetTransaction:
		// Grouped members take their flag from the group.
		_, err = tx.ExecContext(ctx, `UPDATE transactions SET match_flag = ? WHERE id = ? AND group_id IS NULL`, string(targetFlag), target.TargetID())
	case model.TargetGroup:
		if _, err = tx.ExecContext(ctx, `UPDATE transaction_groups SET match_flag = ? WHERE id = ?`, string(targetFlag), target.TargetID()); err == nil {
			_, err = tx.ExecContext(ctx, `UPDATE transactions SET match_flag = ? WHERE group_id = ?`, string(targetFlag), target.TargetID())
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update target flag: %w", err)
	}
	return nil
}

func deriveFlag(ctx context.Context, tx *sql.Tx, clause string, args ...any) (model.MatchFlag, error) {
	var confirmed, proposed int
	err := tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'confirmed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'proposed' THEN 1 ELSE 0 END), 0)
		FROM matches WHERE `+clause, args...).Scan(&confirmed, &proposed)
	if err != nil {
		return "", fmt.Errorf("failed to derive match flag: %w", err)
	}
	switch {
	case confirmed > 0:
		return model.FlagMatched, nil
	case proposed > 0:
		return model.FlagProposed, nil
	default:
		return model.FlagUnmatched, nil
	}
}

func stampMatch(match *model.Match) {
	now := time.Now().UTC()
	if match.CreatedAt.IsZero() {
		match.CreatedAt = now
	}
	if match.UpdatedAt.IsZero() {
		match.UpdatedAt = match.CreatedAt
	}
}

func matchArgs(match *model.Match) []any {
	return []any{
		match.ID,
		match.ReceiptID,
		string(match.Target.Kind()),
		match.Target.TargetID(),
		string(match.Status),
		match.Scores.Amount,
		match.Scores.Date,
		match.Scores.Vendor,
		match.Scores.Overall,
		boolToInt(match.IsManual),
		stringOrNull(match.VendorAliasID),
		match.ConfirmedBy,
		nullTime(match.ConfirmedAt),
		match.CreatedAt,
		match.UpdatedAt,
	}
}

func stringOrNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func scanMatch(row rowScanner) (model.Match, error) {
	var (
		match       model.Match
		kind        string
		targetID    string
		status      string
		isManual    int
		aliasID     sql.NullString
		confirmedAt sql.NullTime
	)
	err := row.Scan(
		&match.ID,
		&match.ReceiptID,
		&kind,
		&targetID,
		&status,
		&match.Scores.Amount,
		&match.Scores.Date,
		&match.Scores.Vendor,
		&match.Scores.Overall,
		&isManual,
		&aliasID,
		&match.ConfirmedBy,
		&confirmedAt,
		&match.CreatedAt,
		&match.UpdatedAt,
	)
	if err != nil {
		return model.Match{}, err
	}

	target, err := model.NewTarget(model.TargetKind(kind), targetID)
	if err != nil {
		return model.Match{}, err
	}
	match.Target = target
	match.Status = model.MatchStatus(status)
	match.IsManual = isManual != 0
	match.VendorAliasID = stringPtr(aliasID)
	match.ConfirmedAt = timePtr(confirmedAt)
	return match, nil
}

func scanMatches(rows *sql.Rows) ([]model.Match, error) {
	defer func() { _ = rows.Close() }()

	var matches []model.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}
