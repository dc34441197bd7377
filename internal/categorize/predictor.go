package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/scoring"
	"github.com/Veraticus/expensetrack/internal/service"
)

// MinPredictionConfidence is the lowest pattern confidence that yields a prediction.
const MinPredictionConfidence = 50.0

// PatternPredictor turns learned expense patterns into per-transaction predictions.
type PatternPredictor struct {
	transactions service.TransactionStore
	patterns     service.PatternStore
	normalizer   service.Normalizer
}

// NewPatternPredictor creates a predictor. The normalizer may be nil.
func NewPatternPredictor(transactions service.TransactionStore, patterns service.PatternStore, normalizer service.Normalizer) *PatternPredictor {
	return &PatternPredictor{transactions: transactions, patterns: patterns, normalizer: normalizer}
}

// PredictionsForPeriod implements service.PredictionSource. Suppressed
// patterns and patterns below MinPredictionConfidence are ignored.
func (p *PatternPredictor) PredictionsForPeriod(ctx context.Context, userID string, start, end time.Time) (map[string]model.Prediction, error) {
	patterns, err := p.patterns.ListExpensePatterns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense patterns: %w", err)
	}

	active := make([]model.ExpensePattern, 0, len(patterns))
	for _, pattern := range patterns {
		if !pattern.IsSuppressed && scoring.Normalize(pattern.NormalizedVendor) != "" {
			active = append(active, pattern)
		}
	}
	predictions := make(map[string]model.Prediction)
	if len(active) == 0 {
		return predictions, nil
	}

	transactions, err := p.transactions.GetTransactionsByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	for _, txn := range transactions {
		pattern, ok := bestPattern(active, p.vendorKeys(ctx, txn))
		if !ok {
			continue
		}

		confidence := pattern.Confidence(txn.Amount)
		if confidence < MinPredictionConfidence {
			continue
		}
		if pattern.DefaultGLCode == "" && pattern.DefaultDepartment == "" {
			continue
		}

		predictions[txn.ID] = model.Prediction{
			ID:            pattern.ID + ":" + txn.ID,
			TransactionID: txn.ID,
			PatternID:     pattern.ID,
			GLCode:        pattern.DefaultGLCode,
			Department:    pattern.DefaultDepartment,
			Confidence:    confidence,
		}
	}

	slog.Debug("Computed pattern predictions",
		"user_id", userID,
		"patterns", len(active),
		"transactions", len(transactions),
		"predictions", len(predictions))
	return predictions, nil
}

// vendorKeys returns the normalized forms of a transaction description to
// compare with pattern vendors.
func (p *PatternPredictor) vendorKeys(ctx context.Context, txn model.Transaction) []string {
	keys := []string{scoring.Normalize(txn.Description)}
	if p.normalizer == nil {
		return keys
	}
	normalized, err := p.normalizer.Normalize(ctx, txn.Description, txn.UserID)
	if err != nil {
		return keys
	}
	if key := scoring.Normalize(normalized); key != "" && key != keys[0] {
		keys = append([]string{key}, keys...)
	}
	return keys
}

// bestPattern picks the longest pattern vendor contained in any key.
func bestPattern(patterns []model.ExpensePattern, keys []string) (model.ExpensePattern, bool) {
	var (
		best    model.ExpensePattern
		bestLen int
	)
	for _, pattern := range patterns {
		vendor := scoring.Normalize(pattern.NormalizedVendor)
		for _, key := range keys {
			if key == vendor || strings.Contains(" "+key+" ", " "+vendor+" ") {
				if len(vendor) > bestLen {
					best, bestLen = pattern, len(vendor)
				}
				break
			}
		}
	}
	return best, bestLen > 0
}
