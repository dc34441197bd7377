package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTransactions_SkipsDuplicateHashes(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txns := []model.Transaction{
		testTransaction(t, "t1", "2025-06-01", "450.00", "DELTA AIR 04928"),
		testTransaction(t, "t2", "2025-06-02", "12.50", "STARBUCKS 0042"),
	}
	inserted, err := store.SaveTransactions(ctx, txns)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Same content under a new ID hashes identically.
	dup := testTransaction(t, "t3", "2025-06-01", "450.00", "delta air 04928")
	inserted, err = store.SaveTransactions(ctx, []model.Transaction{dup})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	got, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.FlagUnmatched, got.MatchFlag)
	assert.True(t, decimal.RequireFromString("450").Equal(got.Amount))
	assert.Equal(t, "2025-06-01", got.Date.Format("2006-01-02"))
	assert.NotEmpty(t, got.Hash)

	_, err = store.GetTransaction(ctx, "t3")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUnmatchedTransactionsInPeriod(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.SaveTransactions(ctx, []model.Transaction{
		testTransaction(t, "may", "2025-05-31", "10.00", "MAY CHARGE"),
		testTransaction(t, "b", "2025-06-15", "20.00", "MID JUNE"),
		testTransaction(t, "a", "2025-06-15", "30.00", "ALSO MID JUNE"),
		testTransaction(t, "c", "2025-06-30", "40.00", "END OF JUNE"),
		testTransaction(t, "jul", "2025-07-01", "50.00", "JULY CHARGE"),
	})
	require.NoError(t, err)

	period, err := model.ParsePeriod("2025-06")
	require.NoError(t, err)

	got, err := store.UnmatchedTransactionsInPeriod(ctx, testUser, period)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, txn := range got {
		ids[i] = txn.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCreateGroup(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	members := []model.Transaction{
		testTransaction(t, "t1", "2025-06-03", "300.00", "HILTON FOLIO 1"),
		testTransaction(t, "t2", "2025-06-02", "150.25", "HILTON FOLIO 2"),
		testTransaction(t, "t3", "2025-06-04", "9.99", "SPOTIFY"),
	}
	_, err := store.SaveTransactions(ctx, members)
	require.NoError(t, err)

	group, err := model.NewTransactionGroup("g1", testUser, "Hilton stay", members[:2])
	require.NoError(t, err)
	require.NoError(t, store.CreateGroup(ctx, &group))

	got, err := store.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Hilton stay", got.Name)
	assert.True(t, decimal.RequireFromString("450.25").Equal(got.CombinedAmount))
	assert.Equal(t, "2025-06-02", got.DisplayDate.Format("2006-01-02"))
	assert.Equal(t, []string{"t2", "t1"}, got.TransactionIDs)

	candidates, err := store.MatchCandidates(ctx, testUser, mustDate(t, "2025-06-01"), mustDate(t, "2025-07-01"))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, model.TransactionTarget{TransactionID: "t3"}, candidates[0].Target)
	assert.Equal(t, model.GroupTarget{GroupID: "g1"}, candidates[1].Target)

	// A member cannot join a second group.
	again := model.TransactionGroup{ID: "g2", UserID: testUser, Name: "dup", TransactionIDs: []string{"t1", "t3"}}
	err = store.CreateGroup(ctx, &again)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = store.GetGroup(ctx, "g2")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestGetTransactionsByDateRange_InvalidRange(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetTransactionsByDateRange(context.Background(), testUser,
		mustDate(t, "2025-07-01"), mustDate(t, "2025-06-01"))
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}
