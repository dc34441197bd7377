package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

const lineColumns = `id, report_id, line_number, transaction_id, group_id, receipt_id, match_id,
	transaction_date, receipt_date, amount, vendor, description, normalized_description,
	gl_code, suggested_gl_code, gl_source, gl_tier, department_code, suggested_department,
	department_source, department_tier, has_receipt, justification, auto_suggested,
	prediction_id, needs_review, processing_failed`

// SaveReport stores a report and all of its lines in one transaction.
func (s *SQLiteStorage) SaveReport(ctx context.Context, report *model.ExpenseReport) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReport(report); err != nil {
		return err
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	if report.Status == "" {
		report.Status = model.ReportDraft
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expense_reports (
				id, user_id, job_id, period, status, total_amount, line_count,
				missing_receipt_count, needs_review_count, failed_line_count,
				tier1_hits, tier2_hits, tier3_hits, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, report.ID, report.UserID, report.JobID, report.Period.String(), string(report.Status),
			report.TotalAmount, report.LineCount, report.MissingReceiptCount, report.NeedsReviewCount,
			report.FailedLineCount, report.TierCounts.Tier1, report.TierCounts.Tier2,
			report.TierCounts.Tier3, report.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO expense_lines (`+lineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range report.Lines {
			line := &report.Lines[i]
			line.ReportID = report.ID
			if line.ID == "" {
				line.ID = fmt.Sprintf("%s-%04d", report.ID, line.LineNumber)
			}
			_, err := stmt.ExecContext(ctx,
				line.ID, line.ReportID, line.LineNumber, line.TransactionID, line.GroupID,
				line.ReceiptID, line.MatchID, formatDate(line.TransactionDate), nullDate(line.ReceiptDate),
				line.Amount, line.Vendor, line.Description, line.NormalizedDescription,
				line.GLCode, line.SuggestedGLCode, string(line.GLSource), int(line.GLTier),
				line.DepartmentCode, line.SuggestedDepartment, string(line.DepartmentSource),
				int(line.DepartmentTier), boolToInt(line.HasReceipt), string(line.Justification),
				boolToInt(line.AutoSuggested), line.PredictionID, boolToInt(line.NeedsReview),
				boolToInt(line.ProcessingFailed),
			)
			if err != nil {
				return fmt.Errorf("failed to insert line %d: %w", line.LineNumber, err)
			}
		}
		return nil
	})
}

// GetReport retrieves a report with its lines in line-number order.
func (s *SQLiteStorage) GetReport(ctx context.Context, id string) (*model.ExpenseReport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var (
		report model.ExpenseReport
		period string
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, job_id, period, status, total_amount, line_count,
			missing_receipt_count, needs_review_count, failed_line_count,
			tier1_hits, tier2_hits, tier3_hits, created_at
		FROM expense_reports
		WHERE id = ?
	`, id).Scan(&report.ID, &report.UserID, &report.JobID, &period, &status, &report.TotalAmount,
		&report.LineCount, &report.MissingReceiptCount, &report.NeedsReviewCount, &report.FailedLineCount,
		&report.TierCounts.Tier1, &report.TierCounts.Tier2, &report.TierCounts.Tier3, &report.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("report", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	if report.Period, err = model.ParsePeriod(period); err != nil {
		return nil, err
	}
	report.Status = model.ReportStatus(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lineColumns+` FROM expense_lines WHERE report_id = ? ORDER BY line_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query report lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report line: %w", err)
		}
		report.Lines = append(report.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report lines: %w", err)
	}
	return &report, nil
}

// DeleteReport removes a report and its lines.
func (s *SQLiteStorage) DeleteReport(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM expense_lines WHERE report_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete report lines: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM expense_reports WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete report: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return notFound("report", id)
		}
		return nil
	})
}

func scanLine(row rowScanner) (model.ExpenseLine, error) {
	var (
		line                                   model.ExpenseLine
		txnDate                                string
		receiptDate                            sql.NullString
		glSource, deptSource, justification    string
		glTier, deptTier                       int
		hasReceipt, autoSuggested, needsReview int
		failed                                 int
	)
	err := row.Scan(
		&line.ID, &line.ReportID, &line.LineNumber, &line.TransactionID, &line.GroupID,
		&line.ReceiptID, &line.MatchID, &txnDate, &receiptDate, &line.Amount, &line.Vendor,
		&line.Description, &line.NormalizedDescription, &line.GLCode, &line.SuggestedGLCode,
		&glSource, &glTier, &line.DepartmentCode, &line.SuggestedDepartment, &deptSource,
		&deptTier, &hasReceipt, &justification, &autoSuggested, &line.PredictionID,
		&needsReview, &failed,
	)
	if err != nil {
		return model.ExpenseLine{}, err
	}
	if line.TransactionDate, err = parseDate(txnDate); err != nil {
		return model.ExpenseLine{}, err
	}
	if line.ReceiptDate, err = parseNullDate(receiptDate); err != nil {
		return model.ExpenseLine{}, err
	}
	line.GLSource = model.Source(glSource)
	line.DepartmentSource = model.Source(deptSource)
	line.GLTier = model.Tier(glTier)
	line.DepartmentTier = model.Tier(deptTier)
	line.Justification = model.Justification(justification)
	line.HasReceipt = hasReceipt != 0
	line.AutoSuggested = autoSuggested != 0
	line.NeedsReview = needsReview != 0
	line.ProcessingFailed = failed != 0
	return line, nil
}
