package categorize

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperNormalizer struct{}

func (upperNormalizer) Normalize(_ context.Context, raw, _ string) (string, error) {
	if len(raw) >= 5 && raw[:5] == "UBER " {
		return "Uber", nil
	}
	return raw, nil
}

func TestPatternPredictor(t *testing.T) {
	june := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	txn := func(id, description, amount string, day int) model.Transaction {
		return model.Transaction{
			ID:          id,
			UserID:      testUser,
			Description: description,
			Amount:      decimal.RequireFromString(amount),
			Date:        june.AddDate(0, 0, day),
		}
	}

	transactions := &fakeTransactions{transactions: []model.Transaction{
		txn("t-uber", "UBER *TRIP HELP.UBER.COM", "24.00", 2),
		txn("t-uber-big", "UBER *TRIP HELP.UBER.COM", "400.00", 3),
		txn("t-hertz", "HERTZ RENT A CAR", "120.00", 4),
		txn("t-suppressed", "SPOTIFY USA", "9.99", 5),
		txn("t-july", "UBER *TRIP", "20.00", 40),
	}}
	patterns := &fakePatterns{patterns: []model.ExpensePattern{
		{
			ID: "p-uber", UserID: testUser, NormalizedVendor: "Uber",
			DefaultGLCode: "6400", DefaultDepartment: "SALES",
			MinAmount: decimal.NewFromInt(15), MaxAmount: decimal.NewFromInt(40), AverageAmount: decimal.NewFromInt(25),
			OccurrenceCount: 6, ConfirmCount: 4,
		},
		{
			ID: "p-hertz", UserID: testUser, NormalizedVendor: "HERTZ",
			DefaultGLCode: "6350", ConfirmCount: 1, RejectCount: 3,
		},
		{
			ID: "p-spotify", UserID: testUser, NormalizedVendor: "SPOTIFY",
			DefaultGLCode: "6900", IsSuppressed: true,
		},
	}}

	predictor := NewPatternPredictor(transactions, patterns, upperNormalizer{})
	predictions, err := predictor.PredictionsForPeriod(context.Background(), testUser, june, june.AddDate(0, 1, 0))
	require.NoError(t, err)

	require.Contains(t, predictions, "t-uber")
	uber := predictions["t-uber"]
	assert.Equal(t, "p-uber", uber.PatternID)
	assert.Equal(t, "6400", uber.GLCode)
	assert.Equal(t, "SALES", uber.Department)
	assert.InDelta(t, 100.0, uber.Confidence, 0.001)

	// 400 is far outside the observed range, so confidence halves to 50.
	require.Contains(t, predictions, "t-uber-big")
	assert.InDelta(t, 50.0, predictions["t-uber-big"].Confidence, 0.001)

	assert.NotContains(t, predictions, "t-hertz", "low confidence pattern")
	assert.NotContains(t, predictions, "t-suppressed")
	assert.NotContains(t, predictions, "t-july")
}

func TestPatternPredictor_NoPatterns(t *testing.T) {
	predictor := NewPatternPredictor(&fakeTransactions{}, &fakePatterns{}, nil)
	predictions, err := predictor.PredictionsForPeriod(context.Background(), testUser, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, predictions)
}
