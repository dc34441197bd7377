package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/categorize"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
)

// workItem is one source row for a report line: a confirmed match or an
// unmatched transaction.
type workItem struct {
	match *model.ConfirmedMatch
	txn   *model.Transaction
}

func (w workItem) date() time.Time {
	if w.match != nil {
		return w.match.Candidate.Date
	}
	return w.txn.Date
}

func (w workItem) amount() decimal.Decimal {
	if w.match != nil {
		return w.match.Candidate.Amount
	}
	return w.txn.Amount
}

func (w workItem) description() string {
	if w.match != nil {
		return w.match.Candidate.Description
	}
	return w.txn.Description
}

// transactionIDs returns the transaction ids behind the item, used to look up
// predictions.
func (w workItem) transactionIDs() []string {
	if w.txn != nil {
		return []string{w.txn.ID}
	}
	if target, ok := w.match.Match.Target.(model.TransactionTarget); ok {
		return []string{target.TransactionID}
	}
	return w.match.MemberIDs
}

// baseLine fills the fields every line carries, including failed ones.
func (g *Generator) baseLine(reportID string, number int, item workItem) model.ExpenseLine {
	line := model.ExpenseLine{
		ID:              fmt.Sprintf("%s-%04d", reportID, number),
		ReportID:        reportID,
		LineNumber:      number,
		TransactionDate: item.date(),
		Amount:          item.amount().Abs(),
		Description:     item.description(),
	}

	if item.txn != nil {
		line.TransactionID = item.txn.ID
		line.Justification = g.justify(line.Amount)
		return line
	}

	line.HasReceipt = true
	line.MatchID = item.match.Match.ID
	line.ReceiptID = item.match.Receipt.ID
	line.ReceiptDate = item.match.Receipt.Extraction.TransactionDate
	switch target := item.match.Match.Target.(type) {
	case model.TransactionTarget:
		line.TransactionID = target.TransactionID
	case model.GroupTarget:
		line.GroupID = target.GroupID
	}
	return line
}

// justify returns why an unmatched line has no receipt.
func (g *Generator) justify(amount decimal.Decimal) model.Justification {
	if amount.LessThan(g.cfg.ReceiptThreshold) {
		return model.JustificationBelowThreshold
	}
	return model.JustificationMissingReceipt
}

// buildLine assembles one line and returns the tier hits it produced.
func (g *Generator) buildLine(ctx context.Context, userID, reportID string, number int, item workItem, predictions map[string]model.Prediction) (model.ExpenseLine, model.TierCounts, error) {
	if item.match != nil && item.match.Match.Target == nil {
		return model.ExpenseLine{}, model.TierCounts{}, fmt.Errorf("match %s has no target", item.match.Match.ID)
	}
	line := g.baseLine(reportID, number, item)

	line.NormalizedDescription = g.normalize(ctx, userID, line.Description)
	line.Vendor = line.NormalizedDescription
	if item.match != nil {
		if vendor := strings.TrimSpace(item.match.Receipt.Extraction.VendorName); vendor != "" {
			line.Vendor = vendor
		}
	}

	categorization, counts := g.categorize(ctx, categorize.Query{
		UserID:                userID,
		Vendor:                line.Vendor,
		RawDescription:        line.Description,
		NormalizedDescription: line.NormalizedDescription,
	})
	if s := categorization.GL; s != nil {
		line.GLCode, line.SuggestedGLCode, line.GLSource, line.GLTier = s.Code, s.Code, s.Source, s.Tier
	}
	if s := categorization.Department; s != nil {
		line.DepartmentCode, line.SuggestedDepartment, line.DepartmentSource, line.DepartmentTier = s.Code, s.Code, s.Source, s.Tier
	}

	applyPrediction(&line, item, predictions)

	line.NeedsReview = line.GLCode == "" || line.DepartmentCode == ""
	return line, counts, nil
}

// safeBuildLine runs buildLine and converts a panic into an error.
func (g *Generator) safeBuildLine(ctx context.Context, userID, reportID string, number int, item workItem, predictions map[string]model.Prediction) (line model.ExpenseLine, counts model.TierCounts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("line %d panicked: %v", number, r)
		}
	}()
	return g.buildLine(ctx, userID, reportID, number, item, predictions)
}

// fallbackLine is the minimal line emitted when assembly fails.
func (g *Generator) fallbackLine(reportID string, number int, item workItem) model.ExpenseLine {
	line := g.baseLine(reportID, number, item)
	line.NormalizedDescription = line.Description
	line.Vendor = line.Description
	line.NeedsReview = true
	line.ProcessingFailed = true
	return line
}

// applyPrediction fills empty slots from a pattern prediction.
func applyPrediction(line *model.ExpenseLine, item workItem, predictions map[string]model.Prediction) {
	if len(predictions) == 0 {
		return
	}

	for _, id := range item.transactionIDs() {
		prediction, ok := predictions[id]
		if !ok {
			continue
		}

		applied := false
		if line.GLCode == "" && prediction.GLCode != "" {
			line.GLCode, line.SuggestedGLCode, line.GLSource, line.GLTier = prediction.GLCode, prediction.GLCode, model.SourcePrediction, model.TierNone
			applied = true
		}
		if line.DepartmentCode == "" && prediction.Department != "" {
			line.DepartmentCode, line.SuggestedDepartment, line.DepartmentSource, line.DepartmentTier = prediction.Department, prediction.Department, model.SourcePrediction, model.TierNone
			applied = true
		}
		if applied {
			line.AutoSuggested = true
			line.PredictionID = prediction.ID
		}
		return
	}
}

// normalize calls the normalizer, falling back to the raw text.
func (g *Generator) normalize(ctx context.Context, userID, raw string) (normalized string) {
	if g.normalizer == nil {
		return raw
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Description normalizer panicked, using raw text", "panic", r)
			normalized = raw
		}
	}()

	out, err := g.normalizer.Normalize(ctx, raw, userID)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			slog.Debug("Description normalization failed, using raw text", "error", err)
		}
		return raw
	}
	return out
}

// categorize calls the categorizer, treating a panic as no suggestions.
func (g *Generator) categorize(ctx context.Context, q categorize.Query) (result model.Categorization, counts model.TierCounts) {
	if g.categorizer == nil {
		return result, counts
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Categorizer panicked, leaving line uncategorized", "panic", r)
			result, counts = model.Categorization{}, model.TierCounts{}
		}
	}()
	return g.categorizer.Categorize(ctx, q)
}

// aggregate computes report totals from its lines.
func aggregate(report *model.ExpenseReport) {
	report.TotalAmount = decimal.Zero
	report.LineCount = len(report.Lines)
	report.MissingReceiptCount = 0
	report.NeedsReviewCount = 0
	report.FailedLineCount = 0

	for _, line := range report.Lines {
		report.TotalAmount = report.TotalAmount.Add(line.Amount)
		if !line.HasReceipt {
			report.MissingReceiptCount++
		}
		if line.NeedsReview {
			report.NeedsReviewCount++
		}
		if line.ProcessingFailed {
			report.FailedLineCount++
		}
	}
}
