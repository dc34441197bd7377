package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
)

const receiptColumns = `id, user_id, file_name, extraction, match_flag, uploaded_at`

// SaveReceipt inserts or replaces a receipt and its extraction result.
func (s *SQLiteStorage) SaveReceipt(ctx context.Context, receipt *model.Receipt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReceipt(receipt); err != nil {
		return err
	}
	if receipt.UploadedAt.IsZero() {
		receipt.UploadedAt = time.Now().UTC()
	}
	if receipt.MatchFlag == "" {
		receipt.MatchFlag = model.FlagUnmatched
	}

	extraction, err := json.Marshal(receipt.Extraction)
	if err != nil {
		return fmt.Errorf("failed to encode extraction result: %w", err)
	}

	var total decimal.NullDecimal
	if receipt.Extraction.TotalAmount != nil {
		total = decimal.NewNullDecimal(*receipt.Extraction.TotalAmount)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, user_id, file_name, vendor_name, transaction_date, total_amount, extraction, match_flag, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_name = excluded.file_name,
			vendor_name = excluded.vendor_name,
			transaction_date = excluded.transaction_date,
			total_amount = excluded.total_amount,
			extraction = excluded.extraction
	`, receipt.ID, receipt.UserID, receipt.FileName, receipt.Extraction.VendorName,
		nullDate(receipt.Extraction.TransactionDate), total, string(extraction),
		string(receipt.MatchFlag), receipt.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID.
func (s *SQLiteStorage) GetReceipt(ctx context.Context, id string) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getReceiptTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getReceiptTx(ctx context.Context, q queryable, id string) (*model.Receipt, error) {
	row := q.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("receipt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &receipt, nil
}

// ListReceipts returns a user's receipts, optionally filtered by match flag.
func (s *SQLiteStorage) ListReceipts(ctx context.Context, userID string, flag model.MatchFlag) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE user_id = ?`
	args := []any{userID}
	if flag != "" {
		query += ` AND match_flag = ?`
		args = append(args, string(flag))
	}
	query += ` ORDER BY uploaded_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []model.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

func scanReceipt(row rowScanner) (model.Receipt, error) {
	var (
		receipt    model.Receipt
		extraction string
		flag       string
	)
	if err := row.Scan(&receipt.ID, &receipt.UserID, &receipt.FileName, &extraction, &flag, &receipt.UploadedAt); err != nil {
		return model.Receipt{}, err
	}
	if err := json.Unmarshal([]byte(extraction), &receipt.Extraction); err != nil {
		return model.Receipt{}, fmt.Errorf("failed to decode extraction result: %w", err)
	}
	receipt.MatchFlag = model.MatchFlag(flag)
	return receipt, nil
}
