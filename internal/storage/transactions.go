package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

const transactionColumns = `id, user_id, hash, date, amount, description, account_id, group_id, match_flag, imported_at`

// SaveTransactions stores new transactions and skips any whose duplicate hash
// already exists. It returns the number of rows inserted.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateTransactions(transactions); err != nil {
		return 0, err
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().UTC()
		for _, txn := range transactions {
			if txn.Hash == "" {
				txn.Hash = txn.GenerateHash()
			}
			if txn.ImportedAt.IsZero() {
				txn.ImportedAt = now
			}
			if txn.MatchFlag == "" {
				txn.MatchFlag = model.FlagUnmatched
			}

			result, err := stmt.ExecContext(ctx,
				txn.ID,
				txn.UserID,
				txn.Hash,
				formatDate(txn.Date),
				txn.Amount,
				txn.Description,
				txn.AccountID,
				sql.NullString{},
				string(txn.MatchFlag),
				txn.ImportedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTransactionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTransactionTx(ctx context.Context, q queryable, id string) (*model.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

// GetTransactionsByIDs retrieves the given transactions ordered by date then ID.
func (s *SQLiteStorage) GetTransactionsByIDs(ctx context.Context, ids []string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.getTransactionsByIDsTx(ctx, s.db, ids)
}

func (s *SQLiteStorage) getTransactionsByIDsTx(ctx context.Context, q queryable, ids []string) ([]model.Transaction, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY date, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanTransactions(rows)
}

// GetTransactionsByDateRange retrieves a user's transactions with dates in [start, end).
func (s *SQLiteStorage) GetTransactionsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date, id
	`, userID, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanTransactions(rows)
}

// UnmatchedTransactionsInPeriod returns transactions in the period that are not
// covered by a confirmed match, ordered by date then ID.
func (s *SQLiteStorage) UnmatchedTransactionsInPeriod(ctx context.Context, userID string, period model.Period) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ? AND date >= ? AND date < ? AND match_flag != ?
		ORDER BY date, id
	`, userID, formatDate(period.Start()), formatDate(period.End()), string(model.FlagMatched))
	if err != nil {
		return nil, fmt.Errorf("failed to query unmatched transactions: %w", err)
	}
	return scanTransactions(rows)
}

// MatchCandidates returns ungrouped transactions and groups dated in [start, end)
// that are not yet matched.
func (s *SQLiteStorage) MatchCandidates(ctx context.Context, userID string, start, end time.Time) ([]model.Candidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = ? AND date >= ? AND date < ? AND match_flag != ? AND group_id IS NULL
		ORDER BY date, id
	`, userID, formatDate(start), formatDate(end), string(model.FlagMatched))
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate transactions: %w", err)
	}
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}

	groups, err := s.queryGroups(ctx, s.db, `
		WHERE user_id = ? AND display_date >= ? AND display_date < ? AND match_flag != ?
		ORDER BY display_date, id
	`, userID, formatDate(start), formatDate(end), string(model.FlagMatched))
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(transactions)+len(groups))
	for _, txn := range transactions {
		candidates = append(candidates, model.CandidateFromTransaction(txn))
	}
	for _, group := range groups {
		candidates = append(candidates, model.CandidateFromGroup(group))
	}
	return candidates, nil
}

// CreateGroup stores a transaction group and links its members. Members that
// are already grouped or matched make the whole operation fail.
func (s *SQLiteStorage) CreateGroup(ctx context.Context, group *model.TransactionGroup) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("%w: group", ErrNilParameter)
	}
	if err := validateString(group.ID, "group.ID"); err != nil {
		return err
	}
	if len(group.TransactionIDs) < 2 {
		return fmt.Errorf("%w: a group needs at least two transactions", ErrInvalidTransaction)
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	if group.MatchFlag == "" {
		group.MatchFlag = model.FlagUnmatched
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transaction_groups (id, user_id, name, display_date, combined_amount, match_flag, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, group.ID, group.UserID, group.Name, formatDate(group.DisplayDate), group.CombinedAmount,
			string(group.MatchFlag), group.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}

		for _, id := range group.TransactionIDs {
			result, err := tx.ExecContext(ctx, `
				UPDATE transactions SET group_id = ?
				WHERE id = ? AND user_id = ? AND group_id IS NULL AND match_flag != ?
			`, group.ID, id, group.UserID, string(model.FlagMatched))
			if err != nil {
				return fmt.Errorf("failed to link transaction %s: %w", id, err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: transaction %s is missing, grouped or matched", ErrInvalidTransaction, id)
			}
		}
		return rejectMemberProposals(ctx, tx, group, group.CreatedAt)
	})
}

// rejectMemberProposals rejects open proposals that target grouped
// transactions directly. Members are matched through their group from now on.
func rejectMemberProposals(ctx context.Context, tx *sql.Tx, group *model.TransactionGroup, at time.Time) error {
	type open struct{ matchID, receiptID, transactionID string }
	var proposals []open

	for _, id := range group.TransactionIDs {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, receipt_id FROM matches
			WHERE status = ? AND target_kind = ? AND target_id = ?
		`, string(model.MatchProposed), string(model.TargetTransaction), id)
		if err != nil {
			return fmt.Errorf("failed to query proposals for transaction %s: %w", id, err)
		}
		for rows.Next() {
			p := open{transactionID: id}
			if err := rows.Scan(&p.matchID, &p.receiptID); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan proposal: %w", err)
			}
			proposals = append(proposals, p)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to iterate proposals: %w", err)
		}
		_ = rows.Close()
	}

	at = at.UTC()
	for _, p := range proposals {
		if _, err := tx.ExecContext(ctx, `UPDATE matches SET status = ?, updated_at = ? WHERE id = ?`,
			string(model.MatchRejected), at, p.matchID); err != nil {
			return fmt.Errorf("failed to reject proposal %s: %w", p.matchID, err)
		}
		if err := refreshFlags(ctx, tx, p.receiptID, model.TransactionTarget{TransactionID: p.transactionID}); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET match_flag = ? WHERE group_id = ?`,
		string(group.MatchFlag), group.ID); err != nil {
		return fmt.Errorf("failed to reset member flags: %w", err)
	}
	if len(proposals) > 0 {
		slog.Info("Rejected proposals for grouped transactions",
			"group_id", group.ID, "count", len(proposals))
	}
	return nil
}

// GetGroup retrieves a transaction group with its member IDs.
func (s *SQLiteStorage) GetGroup(ctx context.Context, id string) (*model.TransactionGroup, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getGroupTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getGroupTx(ctx context.Context, q queryable, id string) (*model.TransactionGroup, error) {
	groups, err := s.queryGroups(ctx, q, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, notFound("transaction group", id)
	}
	return &groups[0], nil
}

// queryGroups loads groups matching the given clause along with their member IDs.
func (s *SQLiteStorage) queryGroups(ctx context.Context, q queryable, clause string, args ...any) ([]model.TransactionGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, name, display_date, combined_amount, match_flag, created_at
		FROM transaction_groups
	`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}

	var groups []model.TransactionGroup
	for rows.Next() {
		var (
			group       model.TransactionGroup
			displayDate string
			flag        string
		)
		if err := rows.Scan(&group.ID, &group.UserID, &group.Name, &displayDate,
			&group.CombinedAmount, &flag, &group.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		if group.DisplayDate, err = parseDate(displayDate); err != nil {
			_ = rows.Close()
			return nil, err
		}
		group.MatchFlag = model.MatchFlag(flag)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	_ = rows.Close()

	for i := range groups {
		ids, err := groupMemberIDs(ctx, q, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].TransactionIDs = ids
	}
	return groups, nil
}

func groupMemberIDs(ctx context.Context, q queryable, groupID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM transactions WHERE group_id = ? ORDER BY date, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var (
		txn     model.Transaction
		date    string
		groupID sql.NullString
		flag    string
	)
	err := row.Scan(
		&txn.ID,
		&txn.UserID,
		&txn.Hash,
		&date,
		&txn.Amount,
		&txn.Description,
		&txn.AccountID,
		&groupID,
		&flag,
		&txn.ImportedAt,
	)
	if err != nil {
		return model.Transaction{}, err
	}
	if txn.Date, err = parseDate(date); err != nil {
		return model.Transaction{}, err
	}
	txn.GroupID = stringPtr(groupID)
	txn.MatchFlag = model.MatchFlag(flag)
	return txn, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}
