package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

// createTestStorage opens a migrated database in a temp directory.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func testTransaction(t *testing.T, id, date, amount, description string) model.Transaction {
	t.Helper()
	return model.Transaction{
		ID:          id,
		UserID:      testUser,
		AccountID:   "checking",
		Date:        mustDate(t, date),
		Amount:      decimal.RequireFromString(amount),
		Description: description,
	}
}

func testReceipt(t *testing.T, id, vendor, amount, date string) *model.Receipt {
	t.Helper()
	total := decimal.RequireFromString(amount)
	d := mustDate(t, date)
	return &model.Receipt{
		ID:       id,
		UserID:   testUser,
		FileName: id + ".pdf",
		Extraction: model.ExtractionResult{
			VendorName:      vendor,
			TotalAmount:     &total,
			TransactionDate: &d,
			Currency:        "USD",
		},
	}
}

func proposal(id, receiptID string, target model.MatchTarget, overall float64) model.Match {
	return model.Match{
		ID:        id,
		ReceiptID: receiptID,
		Target:    target,
		Status:    model.MatchProposed,
		Scores:    model.Scores{Amount: overall, Date: overall, Vendor: overall, Overall: overall},
	}
}

// seedReceiptAndTransactions stores one receipt and n transactions in June 2025.
func seedReceiptAndTransactions(t *testing.T, store *SQLiteStorage, receiptID string, n int) []model.Transaction {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.SaveReceipt(ctx, testReceipt(t, receiptID, "DELTA", "450.00", "2025-06-01")))

	txns := make([]model.Transaction, n)
	for i := range txns {
		txns[i] = testTransaction(t, fmt.Sprintf("%s-txn-%d", receiptID, i), fmt.Sprintf("2025-06-%02d", i+1), "450.00",
			fmt.Sprintf("DELTA AIR %05d", i))
	}
	_, err := store.SaveTransactions(ctx, txns)
	require.NoError(t, err)
	return txns
}

func TestMigrate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, ExpectedSchemaVersion, version)

	// Running again is a no-op.
	require.NoError(t, store.Migrate(ctx))

	var indexCount int
	err = store.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name IN ('ux_matches_confirmed_receipt', 'ux_matches_confirmed_target')
	`).Scan(&indexCount)
	require.NoError(t, err)
	require.Equal(t, 2, indexCount)
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStorage("  ")
	require.ErrorIs(t, err, ErrEmptyString)
}
