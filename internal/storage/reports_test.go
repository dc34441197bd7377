package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetReport(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	period, err := model.ParsePeriod("2025-06")
	require.NoError(t, err)
	receiptDate := mustDate(t, "2025-06-01")

	report := &model.ExpenseReport{
		ID:          "rep-1",
		UserID:      testUser,
		JobID:       "job-1",
		Period:      period,
		TotalAmount: decimal.RequireFromString("462.50"),
		LineCount:   2,
		TierCounts:  model.TierCounts{Tier1: 2, Tier3: 1},
		Lines: []model.ExpenseLine{
			{
				LineNumber:      2,
				TransactionID:   "t2",
				TransactionDate: mustDate(t, "2025-06-02"),
				Amount:          decimal.RequireFromString("12.50"),
				Description:     "STARBUCKS 0042",
				Justification:   model.JustificationBelowThreshold,
				NeedsReview:     true,
			},
			{
				LineNumber:      1,
				TransactionID:   "t1",
				ReceiptID:       "r1",
				MatchID:         "m1",
				TransactionDate: mustDate(t, "2025-06-01"),
				ReceiptDate:     &receiptDate,
				Amount:          decimal.RequireFromString("450.00"),
				Vendor:          "Delta Airlines",
				Description:     "DELTA AIR 04928",
				GLCode:          "6300",
				SuggestedGLCode: "6300",
				GLSource:        model.SourceAlias,
				GLTier:          model.TierAlias,
				HasReceipt:      true,
			},
		},
	}
	require.NoError(t, store.SaveReport(ctx, report))

	got, err := store.GetReport(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReportDraft, got.Status)
	assert.Equal(t, period, got.Period)
	assert.True(t, report.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, model.TierCounts{Tier1: 2, Tier3: 1}, got.TierCounts)
	require.Len(t, got.Lines, 2)

	first := got.Lines[0]
	assert.Equal(t, 1, first.LineNumber)
	assert.Equal(t, model.SourceAlias, first.GLSource)
	assert.Equal(t, model.TierAlias, first.GLTier)
	assert.True(t, first.HasReceipt)
	require.NotNil(t, first.ReceiptDate)
	assert.Equal(t, "2025-06-01", first.ReceiptDate.Format("2006-01-02"))

	second := got.Lines[1]
	assert.Equal(t, model.JustificationBelowThreshold, second.Justification)
	assert.True(t, second.NeedsReview)
	assert.Nil(t, second.ReceiptDate)

	require.NoError(t, store.DeleteReport(ctx, "rep-1"))
	_, err = store.GetReport(ctx, "rep-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, store.DeleteReport(ctx, "rep-1"), common.ErrNotFound)
}
