package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/expensetrack/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidReceipt     = errors.New("invalid receipt")
	ErrInvalidMatch       = errors.New("invalid match")
	ErrInvalidAlias       = errors.New("invalid vendor alias")
	ErrInvalidReport      = errors.New("invalid expense report")
	ErrInvalidJob         = errors.New("invalid report job")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.Description) == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	return nil
}

func validateReceipt(receipt *model.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: receipt", ErrNilParameter)
	}
	if receipt.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidReceipt)
	}
	if receipt.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidReceipt)
	}
	return nil
}

func validateMatch(match *model.Match) error {
	if match == nil {
		return fmt.Errorf("%w: match", ErrNilParameter)
	}
	if match.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidMatch)
	}
	if match.ReceiptID == "" {
		return fmt.Errorf("%w: missing receipt ID", ErrInvalidMatch)
	}
	if match.Target == nil || match.Target.TargetID() == "" {
		return fmt.Errorf("%w: missing target", ErrInvalidMatch)
	}
	if err := match.Scores.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMatch, err)
	}
	switch match.Status {
	case model.MatchProposed, model.MatchConfirmed, model.MatchRejected:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMatch, match.Status)
	}
	return nil
}

func validateAlias(alias *model.VendorAlias) error {
	if alias == nil {
		return fmt.Errorf("%w: alias", ErrNilParameter)
	}
	if alias.ID == "" || alias.UserID == "" {
		return fmt.Errorf("%w: missing ID or user ID", ErrInvalidAlias)
	}
	if strings.TrimSpace(alias.Pattern) == "" {
		return fmt.Errorf("%w: missing pattern", ErrInvalidAlias)
	}
	if strings.TrimSpace(alias.CanonicalName) == "" {
		return fmt.Errorf("%w: missing canonical name", ErrInvalidAlias)
	}
	return nil
}

func validateReport(report *model.ExpenseReport) error {
	if report == nil {
		return fmt.Errorf("%w: report", ErrNilParameter)
	}
	if report.ID == "" || report.UserID == "" {
		return fmt.Errorf("%w: missing ID or user ID", ErrInvalidReport)
	}
	if report.Period.IsZero() {
		return fmt.Errorf("%w: missing period", ErrInvalidReport)
	}
	return nil
}

func validateJob(job *model.ReportGenerationJob) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == "" || job.UserID == "" {
		return fmt.Errorf("%w: missing ID or user ID", ErrInvalidJob)
	}
	if job.Period.IsZero() {
		return fmt.Errorf("%w: missing period", ErrInvalidJob)
	}
	if job.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidJob)
	}
	return nil
}
